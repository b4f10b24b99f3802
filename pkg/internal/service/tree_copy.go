package service

import (
	"context"
	"fmt"

	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/pathkey"
	"github.com/yeisme/treevault/pkg/queue"
	"github.com/yeisme/treevault/pkg/tracing"
)

// Copy 复制节点到目标父目录，冲突处理同 Move，源节点保持不变.
// 目录复制时连同子树一起复制，全部节点使用新的 file_id.
func (s *TreeService) Copy(ctx context.Context, req CopyNodeRequest) (*model.FileNode, error) {
	ctx, span := tracing.StartSpan(ctx, "TreeService.Copy")
	defer span.End()

	if req.FileID == "" || req.TargetParentID == "" {
		return nil, fmt.Errorf("%w: file_id and target_parent_id are required", ErrInvalidArgument)
	}

	if !req.Conflict.valid() {
		return nil, fmt.Errorf("%w: unknown conflict strategy %q", ErrInvalidArgument, req.Conflict)
	}

	src, err := s.Get(ctx, req.FileID)
	if err != nil {
		return nil, err
	}

	if src.IsRoot() {
		return nil, fmt.Errorf("%w: project root cannot be copied", ErrIllegalPath)
	}

	dst, err := s.loadProject(ctx, orDefault(req.TargetProjectID, src.ProjectID))
	if err != nil {
		return nil, err
	}

	var (
		out    *model.FileNode
		copied int
	)

	err = s.withProjectLocks(ctx, []string{src.ProjectID, dst.ProjectID}, func(ctx context.Context) error {
		// 加锁前读取的源节点可能已被移动或删除
		locked, err := s.Get(ctx, req.FileID)
		if err != nil {
			return err
		}

		if locked.ProjectID != src.ProjectID {
			return fmt.Errorf("%w: node %s moved to project %s", ErrConflict, locked.FileID, locked.ProjectID)
		}

		src = locked

		parent, err := s.targetParent(ctx, dst, req.TargetParentID)
		if err != nil {
			return err
		}

		sameProject := parent.ProjectID == src.ProjectID
		if src.IsDirectory && sameProject && pathkey.HasPrefix(parent.FileKey, src.FileKey) {
			return fmt.Errorf("%w: cannot copy %q into itself", ErrIllegalPath, src.FileKey)
		}

		strategy := strategyFor(src.FileID, req.Conflict, req.KeepBothIDs)

		name, victim, err := s.resolveName(ctx, dst.ProjectID, parent, src.FileName, src.IsDirectory, "", strategy)
		if err != nil {
			return err
		}

		if victim != nil && victim.FileID == src.FileID {
			// 复制到自身所在目录时不能覆盖源节点
			if name, victim, err = s.resolveName(ctx, dst.ProjectID, parent, src.FileName, src.IsDirectory, "", ConflictKeepBoth); err != nil {
				return err
			}
		}

		if victim != nil && victim.IsDirectory && sameProject && pathkey.HasPrefix(src.FileKey, victim.FileKey) {
			return fmt.Errorf("%w: %q contains the copied node", ErrConflict, victim.FileKey)
		}

		newKey := childKey(parent.FileKey, name, src.IsDirectory)

		var subtree []model.FileNode
		if src.IsDirectory {
			if subtree, err = s.collectSubtree(ctx, src.ProjectID, src.FileKey); err != nil {
				return err
			}
		}

		if src.IsDirectory {
			err = s.deps.Objects.CreateFolder(ctx, dst.OrganizationCode, newKey)
		} else {
			err = s.copyObject(ctx, src.OrganizationCode, src.FileKey, dst.OrganizationCode, newKey, req.UserID)
		}

		if err != nil {
			return backingStore("copy", src.FileKey, err)
		}

		moves := make([]objectMove, 0, len(subtree))
		targets := make(map[string]string, len(subtree))

		for i := range subtree {
			key, ok := pathkey.ReplacePrefix(subtree[i].FileKey, src.FileKey, newKey)
			if !ok {
				continue
			}

			targets[subtree[i].FileID] = key
			moves = append(moves, objectMove{from: subtree[i].FileKey, to: key, isDir: subtree[i].IsDirectory})
		}

		failed := s.mirror(ctx, mirrorCopy, src.OrganizationCode, dst.OrganizationCode, req.UserID, moves)

		err = s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
			if victim != nil {
				if _, err := s.tombstoneSubtree(ctx, victim, s.now()); err != nil {
					return err
				}
			}

			sort, err := s.placeAfter(ctx, dst.ProjectID, parent.FileID, req.PredecessorID, "")
			if err != nil {
				return err
			}

			top := s.cloneNode(src, dst, parent.FileID, newKey, sort, req.UserID)
			idMap := map[string]string{src.FileID: top.FileID}

			// 先分配全部新 ID，子节点可能排在父节点之前
			for i := range subtree {
				idMap[subtree[i].FileID] = s.deps.IDs.NewID()
			}

			nodes := []*model.FileNode{top}

			for i := range subtree {
				d := &subtree[i]

				key, ok := targets[d.FileID]
				if !ok {
					continue
				}

				if _, bad := failed[d.FileKey]; bad && !d.IsDirectory {
					continue
				}

				newParent, ok := idMap[d.ParentIDValue()]
				if !ok {
					newParent = top.FileID
				}

				n := s.cloneNode(d, dst, newParent, key, d.Sort, req.UserID)
				n.FileID = idMap[d.FileID]
				nodes = append(nodes, n)
			}

			copied = len(nodes) - 1
			out = top

			return s.deps.Nodes.Create(ctx, nodes...)
		})
		if err != nil {
			s.compensate(ctx, "delete copied object", func() error {
				return s.deps.Objects.DeleteObject(ctx, dst.OrganizationCode, newKey)
			})
		}

		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	s.emit(s.deps.Events.Node.Copied, queue.TopicNodeCopied, func() error {
		return queue.PublishNodeCopied(s.deps.Publisher, queue.NodeCopiedPayload{
			Node: nodeRef(out), SourceID: src.FileID, Descendants: copied,
		}, s.headerOpts(ctx)...)
	})

	return out, nil
}

func (s *TreeService) cloneNode(src *model.FileNode, dst *model.Project, parentID, key string, sort int64, userID string) *model.FileNode {
	return &model.FileNode{
		FileID:           s.deps.IDs.NewID(),
		ProjectID:        dst.ProjectID,
		OrganizationCode: dst.OrganizationCode,
		UserID:           orDefault(userID, src.UserID),
		FileKey:          key,
		FileName:         pathkey.Base(key),
		ParentID:         &parentID,
		IsDirectory:      src.IsDirectory,
		Sort:             sort,
		StorageType:      src.StorageType,
		Source:           model.SourceCopy,
		Status:           model.NodeLive,
		Metadata:         src.Metadata,
	}
}
