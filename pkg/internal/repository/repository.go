// Package repository 基于 gorm 实现文件树、项目与 fork 任务的持久化.
//
// 事务通过 context 传递：TxManager.InTx 把 *gorm.DB 事务放入 ctx，
// 同一 ctx 下的所有仓储调用都落在该事务上.
package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound 记录不存在.
var ErrNotFound = errors.New("record not found")

type txKey struct{}

// TxManager 事务管理.
type TxManager struct {
	db *gorm.DB
}

func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// InTx 在事务中执行 fn，ctx 已处于事务中时直接复用.
func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

type base struct {
	db *gorm.DB
}

// conn 返回 ctx 上的事务，没有则返回根连接.
func (b base) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}

	return b.db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}

// likePrefix 转义 LIKE 通配符，使用 '!' 作为转义字符以兼容 mysql/pg/sqlite.
func likePrefix(prefix string) clause.Expr {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

	return gorm.Expr("file_key LIKE ? ESCAPE '!'", r.Replace(prefix)+"%")
}

// batchCast 按方言返回 CASE 分支里整数参数的写法.
func batchCast(db *gorm.DB) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "CAST(? AS BIGINT)"
	case "mysql":
		return "CAST(? AS SIGNED)"
	default:
		return "?"
	}
}
