package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/repository"
	"github.com/yeisme/treevault/pkg/internal/storage/s3"
	"github.com/yeisme/treevault/pkg/pathkey"
	"github.com/yeisme/treevault/pkg/queue"
	"github.com/yeisme/treevault/pkg/tracing"
)

// objectMove 一个对象从 from 到 to 的镜像操作.
type objectMove struct {
	from  string
	to    string
	isDir bool
}

type mirrorMode int

const (
	mirrorRename mirrorMode = iota // 同组织原地重命名
	mirrorCopy                     // 复制，保留源对象
	mirrorMove                     // 复制后删除源对象
)

// Rename 重命名文件或目录.目录重命名按页扫描后代并逐个改写 key.
func (s *TreeService) Rename(ctx context.Context, req RenameNodeRequest) (*model.FileNode, error) {
	ctx, span := tracing.StartSpan(ctx, "TreeService.Rename")
	defer span.End()

	if err := validName(req.NewName); err != nil {
		return nil, err
	}

	n, err := s.Get(ctx, req.FileID)
	if err != nil {
		return nil, err
	}

	if n.IsRoot() {
		return nil, fmt.Errorf("%w: project root cannot be renamed", ErrIllegalPath)
	}

	var (
		out      *model.FileNode
		fromKey  string
		moves    []objectMove
		failures int
	)

	err = s.withProjectLocks(ctx, []string{n.ProjectID}, func(ctx context.Context) error {
		if n, err = s.Get(ctx, req.FileID); err != nil {
			return err
		}

		fromKey = n.FileKey
		newKey := childKey(pathkey.Dir(n.FileKey), req.NewName, n.IsDirectory)

		if newKey == n.FileKey {
			out = n

			return nil
		}

		existing, err := s.findLive(ctx, n.ProjectID, newKey)
		if err != nil {
			return err
		}

		if existing != nil && existing.FileID != n.FileID {
			return fmt.Errorf("%w: %s", ErrConflict, newKey)
		}

		if err := s.deps.Objects.RenameObject(ctx, n.OrganizationCode, n.FileKey, newKey); err != nil {
			if !n.IsDirectory || !errors.Is(err, s3.ErrObjectNotFound) {
				return backingStore("rename", n.FileKey, err)
			}
		}

		err = s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
			if err := s.deps.Nodes.Update(ctx, n.FileID, map[string]any{
				"file_key":  newKey,
				"file_name": pathkey.Base(newKey),
			}); err != nil {
				return err
			}

			if !n.IsDirectory {
				return nil
			}

			moves, err = s.rewriteDescendants(ctx, n.ProjectID, fromKey, newKey)

			return err
		})
		if err != nil {
			s.compensate(ctx, "rename back", func() error {
				return s.deps.Objects.RenameObject(ctx, n.OrganizationCode, newKey, fromKey)
			})

			return err
		}

		failed := s.mirror(ctx, mirrorRename, n.OrganizationCode, n.OrganizationCode, n.UserID, moves)
		failures = len(failed)

		out, err = s.Get(ctx, n.FileID)

		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	if out.FileKey != fromKey {
		s.emit(s.deps.Events.Node.Renamed, queue.TopicNodeRenamed, func() error {
			return queue.PublishNodeRenamed(s.deps.Publisher, queue.NodeRenamedPayload{
				Node: nodeRef(out), FromKey: fromKey, Descendants: len(moves),
			}, s.headerOpts(ctx)...)
		})
	}

	if failures > 0 {
		s.logger.Warn().Str("file_id", out.FileID).Int("failed", failures).Int("total", len(moves)).Msg("部分后代对象未能同步重命名")
	}

	return out, nil
}

// rewriteDescendants 在事务内分页改写 oldPrefix 下全部后代的 key，返回需要镜像的对象操作.
func (s *TreeService) rewriteDescendants(ctx context.Context, projectID, oldPrefix, newPrefix string) ([]objectMove, error) {
	page := s.pageSize()

	var (
		moves  []objectMove
		cursor string
	)

	for {
		rows, err := s.deps.Nodes.ListDescendants(ctx, repository.DescendantsQuery{
			ProjectID: projectID,
			Prefix:    oldPrefix,
			AfterID:   cursor,
			Limit:     page,
		})
		if err != nil {
			return nil, err
		}

		for i := range rows {
			d := &rows[i]

			key, ok := pathkey.ReplacePrefix(d.FileKey, oldPrefix, newPrefix)
			if !ok {
				// LIKE 前缀命中但路径段不匹配，例如 a/b 与 a/bc
				continue
			}

			if err := s.deps.Nodes.Update(ctx, d.FileID, map[string]any{"file_key": key}); err != nil {
				return nil, err
			}

			moves = append(moves, objectMove{from: d.FileKey, to: key, isDir: d.IsDirectory})
		}

		if len(rows) < page {
			return moves, nil
		}

		cursor = rows[len(rows)-1].FileID
	}
}

// mirror 以有限并发把对象操作同步到对象存储，单个失败只记录日志，返回失败的源 key.
func (s *TreeService) mirror(ctx context.Context, mode mirrorMode, srcOrg, dstOrg, userID string, moves []objectMove) map[string]error {
	if len(moves) == 0 {
		return nil
	}

	limit := s.deps.Tree.Rename.MirrorConcurrency
	if limit <= 0 {
		limit = configs.DefaultMirrorConcurrency
	}

	var (
		mu     sync.Mutex
		failed = make(map[string]error)
		g      errgroup.Group
	)

	g.SetLimit(limit)

	for _, m := range moves {
		g.Go(func() error {
			if err := s.mirrorOne(ctx, mode, srcOrg, dstOrg, userID, m); err != nil {
				s.logger.Warn().Err(err).Str("from", m.from).Str("to", m.to).Msg("对象同步失败")

				mu.Lock()
				failed[m.from] = err
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	return failed
}

func (s *TreeService) mirrorOne(ctx context.Context, mode mirrorMode, srcOrg, dstOrg, userID string, m objectMove) error {
	if m.isDir {
		// 目录占位对象可能不存在
		if mode == mirrorRename {
			err := s.deps.Objects.RenameObject(ctx, srcOrg, m.from, m.to)
			if errors.Is(err, s3.ErrObjectNotFound) {
				return s.deps.Objects.CreateFolder(ctx, dstOrg, m.to)
			}

			return err
		}

		if err := s.deps.Objects.CreateFolder(ctx, dstOrg, m.to); err != nil {
			return err
		}

		if mode == mirrorMove {
			if err := s.deps.Objects.DeleteObject(ctx, srcOrg, m.from); err != nil && !errors.Is(err, s3.ErrObjectNotFound) {
				return err
			}
		}

		return nil
	}

	switch mode {
	case mirrorRename:
		return s.deps.Objects.RenameObject(ctx, srcOrg, m.from, m.to)
	case mirrorCopy:
		return s.copyObject(ctx, srcOrg, m.from, dstOrg, m.to, userID)
	default:
		if err := s.copyObject(ctx, srcOrg, m.from, dstOrg, m.to, userID); err != nil {
			return err
		}

		return s.deps.Objects.DeleteObject(ctx, srcOrg, m.from)
	}
}

// compensate 数据库失败后尽力回滚对象存储操作.
func (s *TreeService) compensate(ctx context.Context, op string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("对象存储补偿失败，等待对账修复")
	}
}
