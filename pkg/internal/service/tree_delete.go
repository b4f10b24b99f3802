package service

import (
	"context"
	"fmt"

	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/queue"
	"github.com/yeisme/treevault/pkg/tracing"
)

// Delete 把节点标记为墓碑，目录连同全部有效后代.对象存储保持不变，直到回收站清理.
func (s *TreeService) Delete(ctx context.Context, req DeleteNodeRequest) (*model.FileNode, error) {
	ctx, span := tracing.StartSpan(ctx, "TreeService.Delete")
	defer span.End()

	n, err := s.Get(ctx, req.FileID)
	if err != nil {
		return nil, err
	}

	if n.IsRoot() {
		return nil, fmt.Errorf("%w: project root cannot be deleted", ErrIllegalPath)
	}

	var descendants int

	err = s.withProjectLocks(ctx, []string{n.ProjectID}, func(ctx context.Context) error {
		return s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
			if n, err = s.Get(ctx, req.FileID); err != nil {
				return err
			}

			at := s.now()
			if descendants, err = s.tombstoneSubtree(ctx, n, at); err != nil {
				return err
			}

			n.Tombstone(at)

			return nil
		})
	})
	if err != nil {
		return nil, classify(err)
	}

	s.emit(s.deps.Events.Node.Deleted, queue.TopicNodeDeleted, func() error {
		return queue.PublishNodeDeleted(s.deps.Publisher, queue.NodeDeletedPayload{
			Node: nodeRef(n), Descendants: descendants,
		}, s.headerOpts(ctx)...)
	})

	s.logger.Debug().Str("file_id", n.FileID).Int("descendants", descendants).Msg("节点已删除")

	return n, nil
}

// Reorder 在当前父目录内把节点放到 predecessorID 之后.
func (s *TreeService) Reorder(ctx context.Context, req ReorderRequest) (*model.FileNode, error) {
	ctx, span := tracing.StartSpan(ctx, "TreeService.Reorder")
	defer span.End()

	n, err := s.Get(ctx, req.FileID)
	if err != nil {
		return nil, err
	}

	if n.IsRoot() {
		return nil, fmt.Errorf("%w: project root has no siblings", ErrIllegalPath)
	}

	var out *model.FileNode

	err = s.withProjectLocks(ctx, []string{n.ProjectID}, func(ctx context.Context) error {
		if n, err = s.Get(ctx, req.FileID); err != nil {
			return err
		}

		out, err = s.reorder(ctx, n, n.ParentIDValue(), req.PredecessorID)

		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	return out, nil
}

// reorder 需在项目锁内调用.
func (s *TreeService) reorder(ctx context.Context, n *model.FileNode, parentID, predecessorID string) (*model.FileNode, error) {
	if predecessorID == n.FileID {
		return n, nil
	}

	err := s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
		sort, err := s.placeAfter(ctx, n.ProjectID, parentID, predecessorID, n.FileID)
		if err != nil {
			return err
		}

		n.Sort = sort

		return s.deps.Nodes.Update(ctx, n.FileID, map[string]any{"sort": sort})
	})
	if err != nil {
		return nil, err
	}

	return n, nil
}
