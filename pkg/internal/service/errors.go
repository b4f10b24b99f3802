package service

import (
	"errors"
	"fmt"

	"github.com/yeisme/treevault/pkg/internal/repository"
	"github.com/yeisme/treevault/pkg/internal/storage/lock"
	"github.com/yeisme/treevault/pkg/pathkey"
)

// 文件树引擎对外暴露的错误类型，调用方使用 errors.Is 判断.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("target path occupied")
	ErrBusy            = errors.New("operation busy")
	ErrIllegalPath     = errors.New("illegal path")
	ErrBackingStore    = errors.New("backing store failure")
	ErrInvalidArgument = errors.New("invalid argument")
)

// classify 把下层错误映射到引擎错误类型，无法识别的原样返回.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrBusy),
		errors.Is(err, ErrIllegalPath), errors.Is(err, ErrBackingStore), errors.Is(err, ErrInvalidArgument):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, lock.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrBusy, err)
	case errors.Is(err, pathkey.ErrIllegalKey):
		return fmt.Errorf("%w: %w", ErrIllegalPath, err)
	default:
		return err
	}
}

func backingStore(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrBackingStore, op, key, err)
}
