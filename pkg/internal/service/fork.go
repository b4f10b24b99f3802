package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/yeisme/treevault/pkg/cache"
	"github.com/yeisme/treevault/pkg/configs"
	ctxPkg "github.com/yeisme/treevault/pkg/context"
	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/repository"
	nlog "github.com/yeisme/treevault/pkg/log"
	"github.com/yeisme/treevault/pkg/metrics"
	"github.com/yeisme/treevault/pkg/pathkey"
	"github.com/yeisme/treevault/pkg/queue"
	"github.com/yeisme/treevault/pkg/tracing"
)

// 复制阶段进度上限，剩余部分留给父节点修复与收尾.
const copyPhaseProgressCap = 90

// terminalJobTTL 终态任务在缓存中的保留时间.
const terminalJobTTL = 10 * time.Minute

// StartForkRequest 启动 fork 任务.
type StartForkRequest struct {
	SourceProjectID string
	TargetProjectID string
	UserID          string
}

// PendingParentFix 父节点尚未迁移的新节点，在第二阶段统一修复.
type PendingParentFix struct {
	NewNodeID   string
	OldParentID string
}

// ForkService 把一个项目的整棵文件树迁移到另一个项目，可中断恢复.
type ForkService struct {
	deps     Deps
	tree     *TreeService
	limiter  *rate.Limiter
	pageSize int
	logger   zerolog.Logger
	running  sync.Map
	wg       sync.WaitGroup
}

// NewForkService 创建 ForkService.
func NewForkService(deps Deps, tree *TreeService) *ForkService {
	s := &ForkService{
		deps:     deps,
		tree:     tree,
		pageSize: deps.Tree.Fork.PageSize,
		logger:   nlog.Component("fork"),
	}

	if s.pageSize <= 0 {
		s.pageSize = configs.DefaultForkPageSize
	}

	if rps := deps.Tree.Fork.CopyRPS; rps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}

	return s
}

// Start 创建 RUNNING 任务并在后台执行，返回新任务.
func (s *ForkService) Start(ctx context.Context, req StartForkRequest) (*model.ForkJob, error) {
	ctx, span := tracing.StartSpan(ctx, "ForkService.Start")
	defer span.End()

	if req.SourceProjectID == "" || req.TargetProjectID == "" {
		return nil, fmt.Errorf("%w: source and target project are required", ErrInvalidArgument)
	}

	if req.SourceProjectID == req.TargetProjectID {
		return nil, fmt.Errorf("%w: source and target project must differ", ErrInvalidArgument)
	}

	src, err := s.tree.loadProject(ctx, req.SourceProjectID)
	if err != nil {
		return nil, err
	}

	dst, err := s.tree.loadProject(ctx, req.TargetProjectID)
	if err != nil {
		return nil, err
	}

	total, err := s.deps.Nodes.CountLive(ctx, src.ProjectID)
	if err != nil {
		return nil, err
	}

	job := &model.ForkJob{
		JobID:           s.deps.IDs.NewID(),
		SourceProjectID: src.ProjectID,
		TargetProjectID: dst.ProjectID,
		SourceOrg:       src.OrganizationCode,
		TargetOrg:       dst.OrganizationCode,
		UserID:          orDefault(req.UserID, dst.UserID),
		Status:          model.ForkRunning,
		TotalFiles:      total,
		StartedAt:       time.Now(),
	}

	if err := s.deps.Jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info().Str("job_id", job.JobID).Str("source", src.ProjectID).Str("target", dst.ProjectID).
		Int64("total", total).Msg("fork 任务已创建")

	s.background(ctx, job.JobID)

	return job, nil
}

// Resume 从游标处继续执行未完成的任务.失败的任务会被重置为 RUNNING.
func (s *ForkService) Resume(ctx context.Context, jobID string) (*model.ForkJob, error) {
	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, classify(err)
	}

	if job.Status == model.ForkFinished {
		return nil, fmt.Errorf("%w: job %s already finished", ErrInvalidArgument, jobID)
	}

	if job.Status == model.ForkFailed {
		if err := s.deps.Jobs.Update(ctx, jobID, map[string]any{
			"status": model.ForkRunning, "err_message": "", "finished_at": nil,
		}); err != nil {
			return nil, err
		}

		s.evict(ctx, jobID)

		job.Status, job.ErrMessage, job.FinishedAt = model.ForkRunning, "", nil
	}

	s.background(ctx, jobID)

	return job, nil
}

// ResumeRunning 恢复进程重启前仍处于 RUNNING 的任务.
func (s *ForkService) ResumeRunning(ctx context.Context) (int, error) {
	jobs, err := s.deps.Jobs.ListByStatus(ctx, model.ForkRunning, 100)
	if err != nil {
		return 0, err
	}

	for i := range jobs {
		s.background(ctx, jobs[i].JobID)
	}

	return len(jobs), nil
}

// Wait 等待后台任务结束.
func (s *ForkService) Wait() { s.wg.Wait() }

func (s *ForkService) background(ctx context.Context, jobID string) {
	// 后台任务不随请求取消
	bctx := context.WithoutCancel(ctx)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		if _, err := s.Run(bctx, jobID); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("fork 任务失败")
		}
	}()
}

// Get 查询任务，终态任务走缓存.
func (s *ForkService) Get(ctx context.Context, jobID string) (*model.ForkJob, error) {
	if s.deps.Cache != nil {
		if job, err := cache.Get[model.ForkJob](ctx, s.deps.Cache, cacheKey(jobID)); err == nil {
			return &job, nil
		}
	}

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, classify(err)
	}

	if job.Terminal() && s.deps.Cache != nil {
		if err := cache.Set(ctx, s.deps.Cache, cacheKey(jobID), *job, terminalJobTTL); err != nil {
			s.logger.Debug().Err(err).Str("job_id", jobID).Msg("缓存任务失败")
		}
	}

	return job, nil
}

func (s *ForkService) evict(ctx context.Context, jobID string) {
	if s.deps.Cache != nil {
		_ = s.deps.Cache.Delete(ctx, cacheKey(jobID))
	}
}

func cacheKey(jobID string) string { return "fork." + jobID }

// Run 同步执行任务直到终态.同一进程内同一任务只会有一个执行者.
func (s *ForkService) Run(ctx context.Context, jobID string) (*model.ForkJob, error) {
	ctx, span := tracing.StartSpan(ctx, "ForkService.Run")
	defer span.End()

	if _, loaded := s.running.LoadOrStore(jobID, struct{}{}); loaded {
		return nil, fmt.Errorf("%w: job %s is already running", ErrBusy, jobID)
	}
	defer s.running.Delete(jobID)

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, classify(err)
	}

	if job.Terminal() {
		return job, nil
	}

	// 用户凭据只在任务执行期间挂在 ctx 上
	jobCtx := ctxPkg.WithUser(ctx, ctxPkg.User{UserID: job.UserID, OrganizationCode: job.TargetOrg})

	runErr := s.run(jobCtx, job)
	if runErr != nil {
		s.fail(ctx, job, runErr)
	}

	out, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.publishFinished(ctx, out)

	return out, runErr
}

// forkRun 单次执行的状态.
type forkRun struct {
	job       *model.ForkJob
	src, dst  *model.Project
	srcRoot   *model.FileNode
	dstRoot   *model.FileNode
	idMap     map[string]string
	pending   []PendingParentFix
	processed int64
	failed    int64
}

func (s *ForkService) run(ctx context.Context, job *model.ForkJob) error {
	r := &forkRun{job: job, idMap: make(map[string]string)}

	var err error
	if r.src, err = s.tree.loadProject(ctx, job.SourceProjectID); err != nil {
		return err
	}

	if r.dst, err = s.tree.loadProject(ctx, job.TargetProjectID); err != nil {
		return err
	}

	if r.srcRoot, err = s.ensureRoot(ctx, r.src); err != nil {
		return err
	}

	if r.dstRoot, err = s.ensureRoot(ctx, r.dst); err != nil {
		return err
	}

	r.idMap[r.srcRoot.FileID] = r.dstRoot.FileID

	total, err := s.deps.Nodes.CountLive(ctx, r.src.ProjectID)
	if err != nil {
		return err
	}

	job.TotalFiles = total
	if err := s.deps.Jobs.Update(ctx, job.JobID, map[string]any{"total_files": total}); err != nil {
		return err
	}

	r.processed, r.failed = job.ProcessedFiles, job.FailedFiles
	cursor := job.CurrentFileID

	for {
		page, err := s.deps.Nodes.ListAfter(ctx, repository.CursorQuery{
			ProjectID: r.src.ProjectID,
			AfterID:   cursor,
			Limit:     s.pageSize,
		})
		if err != nil {
			return fmt.Errorf("list source page after %q: %w", cursor, err)
		}

		if len(page) == 0 {
			break
		}

		cursor = page[len(page)-1].FileID

		if err := s.copyPage(ctx, r, page, cursor); err != nil {
			return err
		}
	}

	if err := s.fixPendingParents(ctx, r); err != nil {
		return err
	}

	if err := s.reattachStrays(ctx, r); err != nil {
		return err
	}

	now := time.Now()

	err = s.deps.Jobs.Update(ctx, job.JobID, map[string]any{
		"status":          model.ForkFinished,
		"progress":        100,
		"processed_files": r.processed,
		"failed_files":    r.failed,
		"finished_at":     now,
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("job_id", job.JobID).Int64("processed", r.processed).Int64("failed", r.failed).
		Int("pending_fixed", len(r.pending)).Msg("fork 任务完成")

	return nil
}

func (s *ForkService) ensureRoot(ctx context.Context, p *model.Project) (*model.FileNode, error) {
	var root *model.FileNode

	err := s.tree.withProjectLocks(ctx, []string{p.ProjectID}, func(ctx context.Context) error {
		var err error
		root, err = s.tree.EnsureRoot(ctx, p)

		return err
	})

	return root, err
}

// plannedNode 当前页待插入的目标节点.
type plannedNode struct {
	node        *model.FileNode
	oldParentID string
}

// copyPage 复制一页源节点.对象复制在事务之外完成；节点插入与游标、计数在同一事务提交.
func (s *ForkService) copyPage(ctx context.Context, r *forkRun, page []model.FileNode, cursor string) error {
	srcRoot, dstRoot := rootKey(r.src), rootKey(r.dst)
	planned := make([]plannedNode, 0, len(page))
	plannedKeys := make(map[string]string, len(page))

	var copied, skipped, failed int

	for i := range page {
		src := &page[i]
		if src.FileID == r.srcRoot.FileID {
			skipped++

			continue
		}

		key, ok := pathkey.ReplacePrefix(src.FileKey, srcRoot, dstRoot)
		if !ok {
			s.logger.Warn().Str("job_id", r.job.JobID).Str("file_key", src.FileKey).Msg("节点不在源项目工作目录下，跳过")

			failed++

			continue
		}

		if id, ok := plannedKeys[key]; ok {
			r.idMap[src.FileID] = id
			skipped++

			continue
		}

		existing, err := s.deps.Nodes.GetLiveByKey(ctx, r.dst.ProjectID, key)
		if err == nil {
			// 目标已存在：恢复执行或重复运行时跳过
			r.idMap[src.FileID] = existing.FileID
			skipped++

			continue
		}

		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if err := s.replicate(ctx, r, src, key); err != nil {
			s.logger.Warn().Err(err).Str("job_id", r.job.JobID).Str("file_key", src.FileKey).Msg("对象复制失败，跳过")

			failed++

			continue
		}

		n := &model.FileNode{
			FileID:           s.deps.IDs.NewID(),
			ProjectID:        r.dst.ProjectID,
			OrganizationCode: r.dst.OrganizationCode,
			UserID:           r.job.UserID,
			FileKey:          key,
			FileName:         pathkey.Base(key),
			IsDirectory:      src.IsDirectory,
			Sort:             src.Sort,
			StorageType:      src.StorageType,
			Source:           model.SourceFork,
			Status:           model.NodeLive,
			Metadata:         src.Metadata,
		}

		r.idMap[src.FileID] = n.FileID
		plannedKeys[key] = n.FileID
		planned = append(planned, plannedNode{node: n, oldParentID: src.ParentIDValue()})
		copied++
	}

	// 父节点在整页登记之后再解析，页内乱序的父子关系不会进入待修复列表
	nodes := make([]*model.FileNode, 0, len(planned))

	for _, p := range planned {
		parentID, ok, err := s.resolveParent(ctx, r, p.oldParentID)
		if err != nil {
			return err
		}

		if !ok {
			r.pending = append(r.pending, PendingParentFix{NewNodeID: p.node.FileID, OldParentID: p.oldParentID})
			parentID = r.dstRoot.FileID
		}

		p.node.ParentID = &parentID
		nodes = append(nodes, p.node)
	}

	processed := r.processed + int64(len(page))
	failedTotal := r.failed + int64(failed)

	err := s.tree.withProjectLocks(ctx, []string{r.dst.ProjectID}, func(ctx context.Context) error {
		return s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
			if err := s.deps.Nodes.Create(ctx, nodes...); err != nil {
				return err
			}

			return s.deps.Jobs.Update(ctx, r.job.JobID, map[string]any{
				"current_file_id": cursor,
				"processed_files": processed,
				"failed_files":    failedTotal,
				"progress":        progressOf(processed, r.job.TotalFiles),
			})
		})
	})
	if err != nil {
		return fmt.Errorf("commit page ending at %s: %w", cursor, err)
	}

	r.processed, r.failed = processed, failedTotal

	metrics.ForkFiles.WithLabelValues("copied").Add(float64(copied))
	metrics.ForkFiles.WithLabelValues("skipped").Add(float64(skipped))
	metrics.ForkFiles.WithLabelValues("failed").Add(float64(failed))

	s.logger.Debug().Str("job_id", r.job.JobID).Str("cursor", cursor).Int("copied", copied).
		Int("skipped", skipped).Int("failed", failed).Msg("fork 页完成")

	return nil
}

// replicate 复制单个对象，目录只创建占位.
func (s *ForkService) replicate(ctx context.Context, r *forkRun, src *model.FileNode, key string) error {
	if src.IsDirectory {
		return s.deps.Objects.CreateFolder(ctx, r.dst.OrganizationCode, key)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	userID := r.job.UserID
	if u, ok := ctxPkg.UserFromContext(ctx); ok {
		userID = u.UserID
	}

	return s.tree.copyObject(ctx, r.src.OrganizationCode, src.FileKey, r.dst.OrganizationCode, key, userID)
}

// resolveParent 依次查内存映射与目标项目中的同名 key.
func (s *ForkService) resolveParent(ctx context.Context, r *forkRun, oldParentID string) (string, bool, error) {
	if oldParentID == "" {
		return r.dstRoot.FileID, true, nil
	}

	if id, ok := r.idMap[oldParentID]; ok {
		return id, true, nil
	}

	parent, err := s.deps.Nodes.GetByID(ctx, oldParentID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	key, ok := pathkey.ReplacePrefix(parent.FileKey, rootKey(r.src), rootKey(r.dst))
	if !ok {
		return "", false, nil
	}

	target, err := s.deps.Nodes.GetLiveByKey(ctx, r.dst.ProjectID, key)
	if errors.Is(err, repository.ErrNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	r.idMap[oldParentID] = target.FileID

	return target.FileID, true, nil
}

// fixPendingParents 第二阶段：按旧父节点分组批量修复.
func (s *ForkService) fixPendingParents(ctx context.Context, r *forkRun) error {
	if len(r.pending) == 0 {
		return nil
	}

	groups := make(map[string][]string)
	for _, p := range r.pending {
		groups[p.OldParentID] = append(groups[p.OldParentID], p.NewNodeID)
	}

	return s.tree.withProjectLocks(ctx, []string{r.dst.ProjectID}, func(ctx context.Context) error {
		return s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
			for oldParent, ids := range groups {
				newParent, ok, err := s.resolveParent(ctx, r, oldParent)
				if err != nil {
					return err
				}

				if !ok {
					s.logger.Warn().Str("job_id", r.job.JobID).Str("old_parent_id", oldParent).Int("nodes", len(ids)).
						Msg("父节点未迁移，节点保留在根目录下")

					continue
				}

				if _, err := s.deps.Nodes.UpdateParent(ctx, ids, newParent); err != nil {
					return err
				}
			}

			return nil
		})
	})
}

// reattachStrays 修复暂挂在根目录下、但 key 指向更深目录的节点.恢复执行时之前的待修复列表已丢失.
func (s *ForkService) reattachStrays(ctx context.Context, r *forkRun) error {
	return s.tree.withProjectLocks(ctx, []string{r.dst.ProjectID}, func(ctx context.Context) error {
		children, err := s.deps.Nodes.ListChildren(ctx, repository.ChildrenQuery{
			ProjectID: r.dst.ProjectID,
			ParentID:  r.dstRoot.FileID,
		})
		if err != nil {
			return err
		}

		root := rootKey(r.dst)

		for i := range children {
			c := &children[i]

			dir := pathkey.Dir(c.FileKey)
			if dir == "" || dir == root {
				continue
			}

			parent, err := s.deps.Nodes.GetLiveByKey(ctx, r.dst.ProjectID, dir)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}

			if err != nil {
				return err
			}

			if _, err := s.deps.Nodes.UpdateParent(ctx, []string{c.FileID}, parent.FileID); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *ForkService) fail(ctx context.Context, job *model.ForkJob, cause error) {
	now := time.Now()

	err := s.deps.Jobs.Update(context.WithoutCancel(ctx), job.JobID, map[string]any{
		"status":      model.ForkFailed,
		"err_message": cause.Error(),
		"finished_at": now,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.JobID).Msg("记录任务失败状态失败")
	}
}

func (s *ForkService) publishFinished(ctx context.Context, job *model.ForkJob) {
	if !job.Terminal() || !s.deps.Events.Enabled || !s.deps.Events.Job.ForkFinished || s.deps.Publisher == nil {
		return
	}

	err := queue.PublishForkFinished(s.deps.Publisher, queue.ForkFinishedPayload{
		JobID:           job.JobID,
		SourceProjectID: job.SourceProjectID,
		TargetProjectID: job.TargetProjectID,
		Status:          string(job.Status),
		TotalFiles:      job.TotalFiles,
		ProcessedFiles:  job.ProcessedFiles,
		FailedFiles:     job.FailedFiles,
		Error:           job.ErrMessage,
	}, s.tree.headerOpts(ctx)...)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("发布事件失败")
	}
}

func progressOf(processed, total int64) int {
	if total <= 0 {
		return 0
	}

	return int(min(processed*copyPhaseProgressCap/total, copyPhaseProgressCap))
}
