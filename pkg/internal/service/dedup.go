package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/repository"
	nlog "github.com/yeisme/treevault/pkg/log"
	"github.com/yeisme/treevault/pkg/metrics"
	"github.com/yeisme/treevault/pkg/pathkey"
	"github.com/yeisme/treevault/pkg/queue"
	"github.com/yeisme/treevault/pkg/tracing"
)

// StageOrphans 孤儿节点修复阶段.
const StageOrphans = "orphans"

// 审计动作，dry run 时加 would_ 前缀.
const (
	ActionHardDelete = "hard_delete"
	ActionKeep       = "keep"
	ActionRewire     = "rewire_children"
	ActionFixFlag    = "fix_flag"
	ActionFixParent  = "fix_parent"
)

// reconcileStages 执行顺序.目录标记先修复，后续按目录与文件分类时使用修正后的标记.
var reconcileStages = []repository.DuplicateClass{
	repository.DuplicateDeleted,
	repository.InconsistentFlag,
	repository.DuplicateDirectory,
	repository.DuplicateFile,
}

// ReconcileOptions 对账参数，零值使用配置默认值.
type ReconcileOptions struct {
	ProjectIDs    []string
	DryRun        bool
	BatchSize     int
	MaxIterations int
}

// StageCounts 单个阶段的统计.
type StageCounts struct {
	Processed int `json:"processed"`
	Kept      int `json:"kept"`
	Deleted   int `json:"deleted"`
	Errors    int `json:"errors"`
}

// ReconcileResult 一次对账运行的结果.
type ReconcileResult struct {
	RunID           string                  `json:"run_id"`
	DryRun          bool                    `json:"dry_run"`
	Projects        int                     `json:"projects"`
	Stages          map[string]*StageCounts `json:"stages"`
	ChildrenRewired int                     `json:"children_rewired"`
	FlagsFixed      int                     `json:"flags_fixed"`
	ParentsFixed    int                     `json:"parents_fixed"`
	StartedAt       time.Time               `json:"started_at"`
	FinishedAt      time.Time               `json:"finished_at"`
}

func (r *ReconcileResult) stage(name string) *StageCounts {
	c, ok := r.Stages[name]
	if !ok {
		c = &StageCounts{}
		r.Stages[name] = c
	}

	return c
}

// Totals 汇总全部阶段.
func (r *ReconcileResult) Totals() StageCounts {
	var t StageCounts
	for _, c := range r.Stages {
		t.Processed += c.Processed
		t.Kept += c.Kept
		t.Deleted += c.Deleted
		t.Errors += c.Errors
	}

	return t
}

// DedupService 离线修复重复 key、目录标记与孤儿节点，可重复执行.
// 只处理已有异常的记录，不获取项目锁，每批一个事务.
type DedupService struct {
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
}

// NewDedupService 创建 DedupService.
func NewDedupService(deps Deps) *DedupService {
	if deps.Audit == nil {
		deps.Audit = NopAuditSink{}
	}

	return &DedupService{deps: deps, logger: nlog.Component("dedup"), now: time.Now}
}

// reconcileRun 单次运行的上下文.
type reconcileRun struct {
	opts   ReconcileOptions
	result *ReconcileResult
}

// Run 依次处理每个项目；单个项目失败计入错误并继续下一个项目.
func (s *DedupService) Run(ctx context.Context, opts ReconcileOptions) (*ReconcileResult, error) {
	ctx, span := tracing.StartSpan(ctx, "DedupService.Run")
	defer span.End()

	opts = s.withDefaults(opts)

	projects := opts.ProjectIDs
	if len(projects) == 0 {
		var err error
		if projects, err = s.discover(ctx); err != nil {
			return nil, err
		}
	}

	run := &reconcileRun{
		opts: opts,
		result: &ReconcileResult{
			RunID:     s.deps.IDs.NewID(),
			DryRun:    opts.DryRun,
			Projects:  len(projects),
			Stages:    make(map[string]*StageCounts),
			StartedAt: s.now(),
		},
	}

	logger := s.logger.With().Str("run_id", run.result.RunID).Bool("dry_run", opts.DryRun).Logger()
	logger.Info().Int("projects", len(projects)).Int("batch_size", opts.BatchSize).Msg("开始对账")

	for _, projectID := range projects {
		if err := ctx.Err(); err != nil {
			return run.result, err
		}

		s.reconcileProject(ctx, run, projectID)
	}

	run.result.FinishedAt = s.now()
	totals := run.result.Totals()

	logger.Info().Int("processed", totals.Processed).Int("deleted", totals.Deleted).Int("errors", totals.Errors).
		Int("children_rewired", run.result.ChildrenRewired).Int("flags_fixed", run.result.FlagsFixed).
		Int("parents_fixed", run.result.ParentsFixed).Dur("elapsed", run.result.FinishedAt.Sub(run.result.StartedAt)).
		Msg("对账完成")

	s.publish(ctx, run.result)

	return run.result, nil
}

func (s *DedupService) withDefaults(opts ReconcileOptions) ReconcileOptions {
	if opts.BatchSize <= 0 {
		opts.BatchSize = orDefault(s.deps.Tree.Dedup.BatchSize, configs.DefaultDedupBatchSize)
	}

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = orDefault(s.deps.Tree.Dedup.MaxIterations, configs.DefaultDedupMaxIter)
	}

	return opts
}

// discover 找出存在重复 key 的项目，再加上全部登记项目用于孤儿修复.
func (s *DedupService) discover(ctx context.Context) ([]string, error) {
	dup, err := s.deps.Nodes.ProjectsWithDuplicates(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover projects: %w", err)
	}

	all, err := s.deps.Projects.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	ids := append(dup, all...)
	slices.Sort(ids)

	return slices.Compact(ids), nil
}

func (s *DedupService) reconcileProject(ctx context.Context, run *reconcileRun, projectID string) {
	for _, class := range reconcileStages {
		if err := s.runClass(ctx, run, projectID, class); err != nil {
			run.result.stage(string(class)).Errors++
			s.logger.Error().Err(err).Str("project_id", projectID).Str("stage", string(class)).Msg("对账阶段失败，跳过该项目")

			return
		}
	}

	if err := s.repairOrphans(ctx, run, projectID); err != nil {
		run.result.stage(StageOrphans).Errors++
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("孤儿节点修复失败")
	}
}

// runClass 每次都从 offset 0 取一批问题 key：上一批修复后不会再出现在结果里.
func (s *DedupService) runClass(ctx context.Context, run *reconcileRun, projectID string, class repository.DuplicateClass) error {
	for iter := 0; iter < run.opts.MaxIterations; iter++ {
		keys, err := s.deps.Nodes.DuplicateKeys(ctx, repository.DuplicateKeyQuery{
			ProjectID: projectID,
			Class:     class,
			Limit:     run.opts.BatchSize,
		})
		if err != nil {
			return err
		}

		if len(keys) == 0 {
			return nil
		}

		var (
			changes int
			entries []AuditEntry
		)

		err = s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
			changes, entries = 0, entries[:0]

			for _, k := range keys {
				c, e, err := s.resolveKey(ctx, run, projectID, class, k.FileKey)
				if err != nil {
					return fmt.Errorf("%s %q: %w", class, k.FileKey, err)
				}

				changes += c
				entries = append(entries, e...)
			}

			return nil
		})
		if err != nil {
			return err
		}

		s.audit(ctx, entries)

		if changes == 0 {
			if !run.opts.DryRun {
				s.logger.Warn().Str("project_id", projectID).Str("stage", string(class)).Int("keys", len(keys)).
					Msg("本批没有产生任何变更，停止该阶段")
			}

			return nil
		}
	}

	s.logger.Warn().Str("project_id", projectID).Str("stage", string(class)).Int("max_iterations", run.opts.MaxIterations).
		Msg("达到最大批次数")

	return nil
}

// resolveKey 在事务内处理一个问题 key，返回实际变更行数与审计记录.
func (s *DedupService) resolveKey(ctx context.Context, run *reconcileRun, projectID string, class repository.DuplicateClass, key string) (int, []AuditEntry, error) {
	rows, err := s.deps.Nodes.ListByKey(ctx, projectID, key)
	if err != nil {
		return 0, nil, err
	}

	counts := run.result.stage(string(class))
	counts.Processed++

	switch class {
	case repository.DuplicateDeleted:
		return s.resolveDeleted(ctx, run, projectID, key, rows)
	case repository.InconsistentFlag:
		return s.resolveFlag(ctx, run, projectID, key, rows)
	case repository.DuplicateDirectory:
		return s.resolveDirectory(ctx, run, projectID, key, rows)
	case repository.DuplicateFile:
		return s.resolveFile(ctx, run, projectID, key, rows)
	default:
		return 0, nil, fmt.Errorf("%w: unknown class %q", ErrInvalidArgument, class)
	}
}

func (s *DedupService) resolveDeleted(ctx context.Context, run *reconcileRun, projectID, key string, rows []model.FileNode) (int, []AuditEntry, error) {
	live, tombs := splitLive(rows)
	if len(live) > 0 {
		// 查询之后出现了新的有效记录
		return 0, nil, nil
	}

	ids := fileIDs(tombs)
	entry := s.entry(run, projectID, string(repository.DuplicateDeleted), ActionHardDelete, key, ids, nil)

	n, err := s.hardDelete(ctx, run, ids)
	if err != nil {
		return 0, nil, err
	}

	run.result.stage(string(repository.DuplicateDeleted)).Deleted += len(ids)

	return n, []AuditEntry{entry}, nil
}

func (s *DedupService) resolveFlag(ctx context.Context, run *reconcileRun, projectID, key string, rows []model.FileNode) (int, []AuditEntry, error) {
	want := pathkey.InferIsDirectory(key)

	var wrong []string

	for i := range rows {
		if rows[i].IsDirectory != want {
			wrong = append(wrong, rows[i].FileID)
		}
	}

	if len(wrong) == 0 {
		return 0, nil, nil
	}

	after := "is_directory=false"
	if want {
		after = "is_directory=true"
	}

	entry := s.entry(run, projectID, string(repository.InconsistentFlag), ActionFixFlag, key, wrong, []string{after})

	if run.opts.DryRun {
		return 0, []AuditEntry{entry}, nil
	}

	n, err := s.deps.Nodes.SetIsDirectory(ctx, projectID, key, want)
	if err != nil {
		return 0, nil, err
	}

	run.result.FlagsFixed += int(n)
	metrics.DedupRecords.WithLabelValues(string(repository.InconsistentFlag), ActionFixFlag).Add(float64(n))

	return int(n), []AuditEntry{entry}, nil
}

// resolveDirectory 保留 file_id 最小的有效目录，其余副本的子节点先改挂到保留目录再删除.
func (s *DedupService) resolveDirectory(ctx context.Context, run *reconcileRun, projectID, key string, rows []model.FileNode) (int, []AuditEntry, error) {
	live, tombs := splitLive(rows)
	if len(live) == 0 {
		return 0, nil, nil
	}

	keep := live[0]
	for _, n := range live[1:] {
		if n.FileID < keep.FileID {
			keep = n
		}
	}

	var drop []string

	for _, n := range rows {
		if n.FileID != keep.FileID {
			drop = append(drop, n.FileID)
		}
	}

	stage := string(repository.DuplicateDirectory)
	entries := []AuditEntry{
		s.entry(run, projectID, stage, ActionKeep, key, nil, []string{keep.FileID}),
		s.entry(run, projectID, stage, ActionRewire, key, drop, []string{keep.FileID}),
		s.entry(run, projectID, stage, ActionHardDelete, key, drop, nil),
	}

	counts := run.result.stage(stage)
	counts.Kept++
	counts.Deleted += len(drop)

	if run.opts.DryRun {
		return 0, entries, nil
	}

	rewired, err := s.deps.Nodes.RewireChildren(ctx, projectID, drop, keep.FileID)
	if err != nil {
		return 0, nil, err
	}

	run.result.ChildrenRewired += int(rewired)
	metrics.DedupRecords.WithLabelValues(stage, ActionRewire).Add(float64(rewired))

	n, err := s.hardDelete(ctx, run, drop)
	if err != nil {
		return 0, nil, err
	}

	metrics.DedupRecords.WithLabelValues(stage, ActionHardDelete).Add(float64(n))

	s.logger.Debug().Str("project_id", projectID).Str("file_key", key).Str("keep", keep.FileID).
		Int("dropped", len(drop)).Int64("rewired", rewired).Int("tombstones", len(tombs)).Msg("合并重复目录")

	return int(rewired) + n, entries, nil
}

func (s *DedupService) resolveFile(ctx context.Context, run *reconcileRun, projectID, key string, rows []model.FileNode) (int, []AuditEntry, error) {
	live, _ := splitLive(rows)
	if len(live) == 0 {
		return 0, nil, nil
	}

	keep, err := s.selectRecordToKeepForFile(ctx, projectID, key, live)
	if err != nil {
		return 0, nil, err
	}

	var drop []string

	for _, n := range rows {
		if n.FileID != keep.FileID {
			drop = append(drop, n.FileID)
		}
	}

	stage := string(repository.DuplicateFile)
	entries := []AuditEntry{
		s.entry(run, projectID, stage, ActionKeep, key, nil, []string{keep.FileID}),
		s.entry(run, projectID, stage, ActionHardDelete, key, drop, nil),
	}

	counts := run.result.stage(stage)
	counts.Kept++
	counts.Deleted += len(drop)

	n, err := s.hardDelete(ctx, run, drop)
	if err != nil {
		return 0, nil, err
	}

	metrics.DedupRecords.WithLabelValues(stage, ActionHardDelete).Add(float64(n))

	return n, entries, nil
}

// selectRecordToKeepForFile 父节点一致时保留最近更新的一条；父节点不一致时优先保留父节点仍存在的记录.
func (s *DedupService) selectRecordToKeepForFile(ctx context.Context, projectID, key string, live []model.FileNode) (model.FileNode, error) {
	parents := make([]string, 0, len(live))
	for i := range live {
		parents = append(parents, live[i].ParentIDValue())
	}

	slices.Sort(parents)
	parents = slices.Compact(parents)

	if len(parents) == 1 {
		return mostRecent(live), nil
	}

	existing, err := s.deps.Nodes.ExistingLiveIDs(ctx, slices.DeleteFunc(parents, func(id string) bool { return id == "" }))
	if err != nil {
		return model.FileNode{}, err
	}

	candidates := slices.DeleteFunc(slices.Clone(live), func(n model.FileNode) bool {
		return !slices.Contains(existing, n.ParentIDValue())
	})

	if len(candidates) > 0 {
		return mostRecent(candidates), nil
	}

	s.logger.Warn().Str("project_id", projectID).Str("file_key", key).Int("copies", len(live)).
		Msg("重复文件的父节点均不存在，存在孤儿数据")

	return mostRecent(live), nil
}

// repairOrphans 把父节点缺失的有效节点改挂到 key 对应的父目录，找不到时挂到项目根目录.
func (s *DedupService) repairOrphans(ctx context.Context, run *reconcileRun, projectID string) error {
	counts := run.result.stage(StageOrphans)

	var cursor string

	for iter := 0; iter < run.opts.MaxIterations; iter++ {
		rows, err := s.deps.Nodes.ListOrphans(ctx, repository.OrphanQuery{
			ProjectID: projectID,
			AfterID:   cursor,
			Limit:     run.opts.BatchSize,
		})
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			return nil
		}

		cursor = rows[len(rows)-1].FileID

		var entries []AuditEntry

		err = s.deps.Tx.InTx(ctx, func(ctx context.Context) error {
			entries = entries[:0]

			for i := range rows {
				n := &rows[i]
				counts.Processed++

				parent, err := s.orphanParent(ctx, projectID, n)
				if err != nil {
					counts.Errors++
					s.logger.Warn().Err(err).Str("file_id", n.FileID).Str("file_key", n.FileKey).Msg("无法确定孤儿节点的父节点")

					continue
				}

				entries = append(entries, s.entry(run, projectID, StageOrphans, ActionFixParent, n.FileKey,
					[]string{n.FileID, n.ParentIDValue()}, []string{n.FileID, parent}))

				if run.opts.DryRun {
					continue
				}

				if _, err := s.deps.Nodes.UpdateParent(ctx, []string{n.FileID}, parent); err != nil {
					return err
				}

				run.result.ParentsFixed++
				metrics.DedupRecords.WithLabelValues(StageOrphans, ActionFixParent).Inc()
			}

			return nil
		})
		if err != nil {
			return err
		}

		s.audit(ctx, entries)

		if len(rows) < run.opts.BatchSize {
			return nil
		}
	}

	return nil
}

func (s *DedupService) orphanParent(ctx context.Context, projectID string, n *model.FileNode) (string, error) {
	if dir := pathkey.Dir(n.FileKey); dir != "" {
		p, err := s.deps.Nodes.GetLiveByKey(ctx, projectID, dir)
		if err == nil && p.IsDirectory && p.FileID != n.FileID {
			return p.FileID, nil
		}

		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return "", err
		}
	}

	root, err := s.deps.Nodes.GetRoot(ctx, projectID)
	if err != nil {
		return "", err
	}

	if root.FileID == n.FileID {
		return "", fmt.Errorf("%w: node is the project root", ErrInvalidArgument)
	}

	return root.FileID, nil
}

func (s *DedupService) hardDelete(ctx context.Context, run *reconcileRun, ids []string) (int, error) {
	if run.opts.DryRun || len(ids) == 0 {
		return 0, nil
	}

	n, err := s.deps.Nodes.HardDelete(ctx, ids)

	return int(n), err
}

func (s *DedupService) entry(run *reconcileRun, projectID, stage, action, key string, before, after []string) AuditEntry {
	if run.opts.DryRun {
		action = "would_" + action
	}

	return AuditEntry{
		Time:      s.now().UTC(),
		RunID:     run.result.RunID,
		ProjectID: projectID,
		Stage:     stage,
		Action:    action,
		FileKey:   key,
		Before:    before,
		After:     after,
		DryRun:    run.opts.DryRun,
	}
}

// audit 在事务提交之后写审计日志.
func (s *DedupService) audit(ctx context.Context, entries []AuditEntry) {
	for _, e := range entries {
		if err := s.deps.Audit.Record(ctx, e); err != nil {
			s.logger.Error().Err(err).Str("stage", e.Stage).Str("file_key", e.FileKey).Msg("写审计日志失败")
		}

		s.logger.Info().Str("run_id", e.RunID).Str("project_id", e.ProjectID).Str("stage", e.Stage).
			Str("action", e.Action).Str("file_key", e.FileKey).Strs("before", e.Before).Strs("after", e.After).Msg("audit")
	}
}

func (s *DedupService) publish(ctx context.Context, r *ReconcileResult) {
	if !s.deps.Events.Enabled || !s.deps.Events.Job.Reconciled || s.deps.Publisher == nil {
		return
	}

	totals := r.Totals()

	err := queue.PublishReconciled(s.deps.Publisher, queue.ReconciledPayload{
		RunID: r.RunID, Projects: r.Projects, Deleted: totals.Deleted, Errors: totals.Errors, DryRun: r.DryRun,
	}, queue.WithProducer(s.deps.Events.Producer), queue.WithTraceID(traceID(ctx)))
	if err != nil {
		s.logger.Warn().Err(err).Msg("发布事件失败")
	}
}

func splitLive(rows []model.FileNode) (live, tombs []model.FileNode) {
	for _, n := range rows {
		if n.IsLive() {
			live = append(live, n)
		} else {
			tombs = append(tombs, n)
		}
	}

	return live, tombs
}

func fileIDs(rows []model.FileNode) []string {
	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].FileID
	}

	return ids
}

// mostRecent 返回最近更新的一条，时间相同时取 file_id 较大者.
func mostRecent(rows []model.FileNode) model.FileNode {
	return slices.MaxFunc(rows, func(a, b model.FileNode) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}

		if a.FileID < b.FileID {
			return -1
		}

		return 1
	})
}
