package service

import (
	"context"
	"fmt"

	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/pathkey"
	"github.com/yeisme/treevault/pkg/queue"
	"github.com/yeisme/treevault/pkg/tracing"
)

// Create 创建文件或目录，缺失的中间目录自动补齐.
// 已存在同 key 的有效目录时直接返回该目录.
func (s *TreeService) Create(ctx context.Context, req CreateNodeRequest) (*model.FileNode, error) {
	ctx, span := tracing.StartSpan(ctx, "TreeService.Create")
	defer span.End()

	p, err := s.loadProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	var (
		node    *model.FileNode
		created []*model.FileNode
		hit     bool
	)

	err = s.withProjectLocks(ctx, []string{p.ProjectID}, func(ctx context.Context) error {
		key, isDir, err := s.resolveCreateKey(ctx, p, req)
		if err != nil {
			return err
		}

		existing, err := s.findLive(ctx, p.ProjectID, key)
		if err != nil {
			return err
		}

		if existing != nil {
			if isDir && existing.IsDirectory {
				node, hit = existing, true

				return nil
			}

			return fmt.Errorf("%w: %s", ErrConflict, key)
		}

		root, err := s.EnsureRoot(ctx, p)
		if err != nil {
			return err
		}

		deepest, missing, err := s.planDirectories(ctx, p, root, pathkey.Dir(key))
		if err != nil {
			return err
		}

		// 对象存储操作放在事务之外
		for _, d := range missing {
			if err := s.deps.Objects.CreateFolder(ctx, p.OrganizationCode, d.key); err != nil {
				return backingStore("create folder", d.key, err)
			}
		}

		if isDir {
			err = s.deps.Objects.CreateFolder(ctx, p.OrganizationCode, key)
		} else {
			err = s.deps.Objects.CreateObject(ctx, p.OrganizationCode, key, req.Body)
		}

		if err != nil {
			return backingStore("create", key, err)
		}

		return s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
			dirs, err := s.createDirectories(ctx, p, deepest, missing, req.UserID)
			if err != nil {
				return err
			}

			created = dirs

			parent := deepest
			if len(dirs) > 0 {
				parent = dirs[len(dirs)-1]
			}

			sort, err := s.placeAfter(ctx, p.ProjectID, parent.FileID, req.PredecessorID, "")
			if err != nil {
				return err
			}

			metadata := req.Metadata
			if metadata == "" {
				metadata = s.inheritMetadata(ctx, p.ProjectID, parent.FileID)
			}

			parentID := parent.FileID
			node = &model.FileNode{
				FileID:           s.deps.IDs.NewID(),
				ProjectID:        p.ProjectID,
				OrganizationCode: p.OrganizationCode,
				UserID:           req.UserID,
				FileKey:          key,
				FileName:         pathkey.Base(key),
				ParentID:         &parentID,
				IsDirectory:      isDir,
				Sort:             sort,
				StorageType:      orDefault(req.StorageType, model.StorageWorkspace),
				Source:           orDefault(req.Source, model.SourceUser),
				Status:           model.NodeLive,
				Metadata:         metadata,
			}

			return s.deps.Nodes.Create(ctx, node)
		})
	})
	if err != nil {
		return nil, classify(err)
	}

	if hit {
		return node, nil
	}

	for _, d := range created {
		s.emit(s.deps.Events.Node.Created, queue.TopicNodeCreated, func() error {
			return queue.PublishNodeCreated(s.deps.Publisher, queue.NodeCreatedPayload{
				Node: nodeRef(d), Source: string(d.Source), AutoCreated: true,
			}, s.headerOpts(ctx)...)
		})
	}

	s.emit(s.deps.Events.Node.Created, queue.TopicNodeCreated, func() error {
		return queue.PublishNodeCreated(s.deps.Publisher, queue.NodeCreatedPayload{
			Node: nodeRef(node), Source: string(node.Source),
		}, s.headerOpts(ctx)...)
	})

	s.logger.Debug().Str("file_id", node.FileID).Str("file_key", node.FileKey).Int("auto_dirs", len(created)).Msg("节点已创建")

	return node, nil
}

// resolveCreateKey 计算新节点的 key.
func (s *TreeService) resolveCreateKey(ctx context.Context, p *model.Project, req CreateNodeRequest) (string, bool, error) {
	var key string

	switch {
	case req.FileKey != "":
		key = req.FileKey
	case req.ParentID != "" && req.FileName != "":
		if err := validName(req.FileName); err != nil {
			return "", false, err
		}

		parent, err := s.Get(ctx, req.ParentID)
		if err != nil {
			return "", false, err
		}

		if parent.ProjectID != p.ProjectID || !parent.IsDirectory {
			return "", false, fmt.Errorf("%w: parent %s is not a directory of project %s", ErrIllegalPath, parent.FileID, p.ProjectID)
		}

		key = pathkey.Join(parent.FileKey, req.FileName)
	default:
		return "", false, fmt.Errorf("%w: file_key or parent_id with file_name is required", ErrInvalidArgument)
	}

	isDir := req.IsDirectory || pathkey.IsDirKey(key)

	key, err := pathkey.Clean(key)
	if err != nil {
		return "", false, classify(err)
	}

	if isDir {
		key = pathkey.AsDir(key)
	}

	if err := checkWithin(p, key); err != nil {
		return "", false, err
	}

	return key, isDir, nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}

	return v
}
