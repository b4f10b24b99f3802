package service

import (
	"context"
	"fmt"

	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/pathkey"
	"github.com/yeisme/treevault/pkg/queue"
	"github.com/yeisme/treevault/pkg/tracing"
)

// Move 把节点移动到目标父目录之后的指定位置，支持跨项目与跨组织.
// 目录连同子树一起移动，后代 key 按路径段改写.
func (s *TreeService) Move(ctx context.Context, req MoveNodeRequest) (*model.FileNode, error) {
	ctx, span := tracing.StartSpan(ctx, "TreeService.Move")
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
		return nil, fmt.Errorf("%w: project root cannot be moved", ErrIllegalPath)
	}

	dst, err := s.loadProject(ctx, orDefault(req.TargetProjectID, src.ProjectID))
	if err != nil {
		return nil, err
	}

	var (
		out         *model.FileNode
		fromKey     string
		fromProject string
		moves       []objectMove
	)

	err = s.withProjectLocks(ctx, []string{src.ProjectID, dst.ProjectID}, func(ctx context.Context) error {
		if src, err = s.Get(ctx, req.FileID); err != nil {
			return err
		}

		fromKey, fromProject = src.FileKey, src.ProjectID

		parent, err := s.targetParent(ctx, dst, req.TargetParentID)
		if err != nil {
			return err
		}

		sameProject := parent.ProjectID == src.ProjectID
		sameOrg := dst.OrganizationCode == src.OrganizationCode

		if src.IsDirectory && sameProject && pathkey.HasPrefix(parent.FileKey, src.FileKey) {
			return fmt.Errorf("%w: cannot move %q into itself", ErrIllegalPath, src.FileKey)
		}

		name, victim, err := s.resolveName(ctx, dst.ProjectID, parent, src.FileName, src.IsDirectory, src.FileID,
			strategyFor(src.FileID, req.Conflict, req.KeepBothIDs))
		if err != nil {
			return err
		}

		if victim != nil && victim.IsDirectory && sameProject && pathkey.HasPrefix(src.FileKey, victim.FileKey) {
			return fmt.Errorf("%w: %q contains the moved node", ErrConflict, victim.FileKey)
		}

		newKey := childKey(parent.FileKey, name, src.IsDirectory)

		if sameProject && newKey == src.FileKey {
			// 位置不变，只调整排序
			out, err = s.reorder(ctx, src, parent.FileID, req.PredecessorID)

			return err
		}

		var subtree []model.FileNode
		if src.IsDirectory {
			if subtree, err = s.collectSubtree(ctx, src.ProjectID, src.FileKey); err != nil {
				return err
			}
		}

		mode := mirrorRename
		if !sameOrg {
			mode = mirrorMove
		}

		// 顶层对象在事务之前处理，失败直接返回
		if err := s.moveTopObject(ctx, mode, src, dst.OrganizationCode, newKey, req.UserID); err != nil {
			return err
		}

		err = s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
			if victim != nil {
				if _, err := s.tombstoneSubtree(ctx, victim, s.now()); err != nil {
					return err
				}
			}

			sort, err := s.placeAfter(ctx, dst.ProjectID, parent.FileID, req.PredecessorID, src.FileID)
			if err != nil {
				return err
			}

			if err := s.deps.Nodes.Update(ctx, src.FileID, map[string]any{
				"file_key":          newKey,
				"file_name":         pathkey.Base(newKey),
				"parent_id":         parent.FileID,
				"project_id":        dst.ProjectID,
				"organization_code": dst.OrganizationCode,
				"sort":              sort,
			}); err != nil {
				return err
			}

			moves = moves[:0]

			for i := range subtree {
				d := &subtree[i]

				key, ok := pathkey.ReplacePrefix(d.FileKey, src.FileKey, newKey)
				if !ok {
					continue
				}

				if err := s.deps.Nodes.Update(ctx, d.FileID, map[string]any{
					"file_key":          key,
					"project_id":        dst.ProjectID,
					"organization_code": dst.OrganizationCode,
				}); err != nil {
					return err
				}

				moves = append(moves, objectMove{from: d.FileKey, to: key, isDir: d.IsDirectory})
			}

			return nil
		})
		if err != nil {
			s.undoTopObject(ctx, mode, src, dst.OrganizationCode, newKey)

			return err
		}

		s.mirror(ctx, mode, src.OrganizationCode, dst.OrganizationCode, req.UserID, moves)

		if mode == mirrorMove {
			s.compensate(ctx, "delete source", func() error {
				return s.deps.Objects.DeleteObject(ctx, src.OrganizationCode, src.FileKey)
			})
		}

		out, err = s.Get(ctx, src.FileID)

		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	if out.FileKey != fromKey || out.ProjectID != fromProject {
		s.emit(s.deps.Events.Node.Moved, queue.TopicNodeMoved, func() error {
			return queue.PublishNodeMoved(s.deps.Publisher, queue.NodeMovedPayload{
				Node: nodeRef(out), FromKey: fromKey, FromProject: fromProject, Descendants: len(moves),
			}, s.headerOpts(ctx)...)
		})
	}

	return out, nil
}

// targetParent 校验目标父节点是目标项目内的有效目录.
func (s *TreeService) targetParent(ctx context.Context, dst *model.Project, parentID string) (*model.FileNode, error) {
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("target parent: %w", err)
	}

	if parent.ProjectID != dst.ProjectID {
		return nil, fmt.Errorf("%w: parent %s does not belong to project %s", ErrIllegalPath, parentID, dst.ProjectID)
	}

	if !parent.IsDirectory {
		return nil, fmt.Errorf("%w: parent %s is not a directory", ErrIllegalPath, parentID)
	}

	return parent, nil
}

// moveTopObject 同组织原地重命名；跨组织先复制，源对象在提交后删除.
func (s *TreeService) moveTopObject(ctx context.Context, mode mirrorMode, src *model.FileNode, dstOrg, newKey, userID string) error {
	var err error

	switch {
	case src.IsDirectory:
		err = s.mirrorOne(ctx, mirrorCopyOrRename(mode), src.OrganizationCode, dstOrg, userID,
			objectMove{from: src.FileKey, to: newKey, isDir: true})
	case mode == mirrorRename:
		err = s.deps.Objects.RenameObject(ctx, src.OrganizationCode, src.FileKey, newKey)
	default:
		err = s.copyObject(ctx, src.OrganizationCode, src.FileKey, dstOrg, newKey, userID)
	}

	if err != nil {
		return backingStore("move", src.FileKey, err)
	}

	return nil
}

func (s *TreeService) undoTopObject(ctx context.Context, mode mirrorMode, src *model.FileNode, dstOrg, newKey string) {
	if mode == mirrorRename {
		s.compensate(ctx, "rename back", func() error {
			return s.deps.Objects.RenameObject(ctx, src.OrganizationCode, newKey, src.FileKey)
		})

		return
	}

	s.compensate(ctx, "delete copied object", func() error {
		return s.deps.Objects.DeleteObject(ctx, dstOrg, newKey)
	})
}

// mirrorCopyOrRename 跨组织移动目录时顶层占位对象只复制，源占位在后代处理完后删除.
func mirrorCopyOrRename(mode mirrorMode) mirrorMode {
	if mode == mirrorMove {
		return mirrorCopy
	}

	return mode
}
