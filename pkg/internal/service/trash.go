package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/repository"
	nlog "github.com/yeisme/treevault/pkg/log"
	"github.com/yeisme/treevault/pkg/tracing"
)

const purgeBatch = 200

// TrashList 回收站分页结果.
type TrashList struct {
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Size  int              `json:"size"`
	Nodes []model.FileNode `json:"nodes"`
}

// PurgeResult 清理结果.
type PurgeResult struct {
	Projects      int `json:"projects"`
	Purged        int `json:"purged"`
	ObjectErrors  int `json:"object_errors"`
	ObjectsKept   int `json:"objects_kept"`
	ProjectErrors int `json:"project_errors"`
}

// TrashService 回收站：列出墓碑，并物理删除超过保留期的记录及其对象.
type TrashService struct {
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
}

// NewTrashService 创建 TrashService.
func NewTrashService(deps Deps) *TrashService {
	return &TrashService{deps: deps, logger: nlog.Component("trash"), now: time.Now}
}

// List 按删除时间倒序分页列出项目墓碑.
func (t *TrashService) List(ctx context.Context, projectID string, page, size int) (*TrashList, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidArgument)
	}

	if page <= 0 {
		page = 1
	}

	if size <= 0 || size > 200 {
		size = 50
	}

	rows, total, err := t.deps.Nodes.ListTombstones(ctx, projectID, page, size)
	if err != nil {
		return nil, classify(err)
	}

	return &TrashList{Total: total, Page: page, Size: size, Nodes: rows}, nil
}

// Cutoff 返回按配置保留期计算的截止时间.
func (t *TrashService) Cutoff() time.Time {
	return t.now().Add(-t.deps.Tree.Trash.GetRetention())
}

// Purge 物理删除 before 之前的墓碑.对象删除失败只记录日志；同 key 存在有效节点时保留对象.
func (t *TrashService) Purge(ctx context.Context, projectID string, before time.Time) (*PurgeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "TrashService.Purge")
	defer span.End()

	p, err := t.deps.Projects.Get(ctx, projectID)
	if err != nil {
		return nil, classify(err)
	}

	res := &PurgeResult{Projects: 1}
	logger := t.logger.With().Str("project_id", projectID).Time("before", before).Logger()

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		rows, err := t.deps.Nodes.ListTombstonesBefore(ctx, projectID, before, purgeBatch)
		if err != nil {
			return res, err
		}

		if len(rows) == 0 {
			break
		}

		ids := make([]string, 0, len(rows))

		for i := range rows {
			n := &rows[i]
			ids = append(ids, n.FileID)

			t.purgeObject(ctx, p, n, res, logger)
		}

		deleted, err := t.deps.Nodes.HardDelete(ctx, ids)
		if err != nil {
			return res, fmt.Errorf("hard delete tombstones: %w", err)
		}

		res.Purged += int(deleted)

		if len(rows) < purgeBatch {
			break
		}
	}

	logger.Info().Int("purged", res.Purged).Int("object_errors", res.ObjectErrors).Int("objects_kept", res.ObjectsKept).
		Msg("回收站清理完成")

	return res, nil
}

// PurgeAll 对全部项目执行 Purge，单个项目失败不影响其它项目.
func (t *TrashService) PurgeAll(ctx context.Context, before time.Time) (*PurgeResult, error) {
	ids, err := t.deps.Projects.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	total := &PurgeResult{}

	for _, id := range ids {
		r, err := t.Purge(ctx, id, before)
		if r != nil {
			total.Purged += r.Purged
			total.ObjectErrors += r.ObjectErrors
			total.ObjectsKept += r.ObjectsKept
		}

		if err != nil {
			if ctx.Err() != nil {
				return total, err
			}

			total.ProjectErrors++
			t.logger.Error().Err(err).Str("project_id", id).Msg("项目回收站清理失败")

			continue
		}

		total.Projects++
	}

	return total, nil
}

func (t *TrashService) purgeObject(ctx context.Context, p *model.Project, n *model.FileNode, res *PurgeResult, logger zerolog.Logger) {
	live, err := t.deps.Nodes.GetLiveByKey(ctx, n.ProjectID, n.FileKey)
	if err == nil && live != nil {
		res.ObjectsKept++

		return
	}

	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		res.ObjectErrors++
		logger.Warn().Err(err).Str("file_key", n.FileKey).Msg("检查同名有效节点失败，保留对象")

		return
	}

	org := n.OrganizationCode
	if org == "" {
		org = p.OrganizationCode
	}

	if err := t.deps.Objects.DeleteObject(ctx, org, n.FileKey); err != nil {
		res.ObjectErrors++
		logger.Warn().Err(err).Str("file_key", n.FileKey).Msg("删除对象失败")
	}
}
