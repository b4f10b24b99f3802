// Package jobs 负责注册与实现业务定时任务（基于 scheduler）。
package jobs

import (
	"context"
	"fmt"

	ctxPkg "github.com/yeisme/treevault/pkg/context"
	"github.com/yeisme/treevault/pkg/internal/service"
	"github.com/yeisme/treevault/pkg/internal/storage"
	"github.com/yeisme/treevault/pkg/log"
	"github.com/yeisme/treevault/pkg/scheduler"
)

// RegisterCronJobs 配置业务定时任务：
//   - tree.dedup.cron 对所有存在重复记录的项目执行对账
//   - tree.trash.cron 清理超过保留期的墓碑节点
//
// cron 表达式为空时跳过对应任务.
func RegisterCronJobs(sched *scheduler.Scheduler, mgr *storage.Manager) error {
	if sched == nil {
		return fmt.Errorf("scheduler is nil")
	}

	if mgr == nil {
		return fmt.Errorf("storage manager is nil")
	}

	// 将 storage manager 注入到 context，便于 service 使用
	baseCtx := ctxPkg.WithStorageManager(context.Background(), mgr)
	deps := service.NewDeps(baseCtx)

	if expr := deps.Tree.Dedup.Cron; expr != "" {
		dedup := service.NewDedupService(deps)
		if err := sched.AddCron(baseCtx, JobDedupNightly, expr, func(ctx context.Context) error {
			return runDedup(ctx, dedup)
		}); err != nil {
			return fmt.Errorf("register %s: %w", JobDedupNightly, err)
		}
	}

	if expr := deps.Tree.Trash.Cron; expr != "" {
		trash := service.NewTrashService(deps)
		if err := sched.AddCron(baseCtx, JobTrashPurge, expr, func(ctx context.Context) error {
			return runTrashPurge(ctx, trash)
		}); err != nil {
			return fmt.Errorf("register %s: %w", JobTrashPurge, err)
		}
	}

	return nil
}

func runDedup(ctx context.Context, svc *service.DedupService) error {
	l := log.Logger().With().Str("job", JobDedupNightly).Logger()

	res, err := svc.Run(ctx, service.ReconcileOptions{})
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	total := res.Totals()
	l.Info().Str("run_id", res.RunID).Int("projects", res.Projects).
		Int("processed", total.Processed).Int("deleted", total.Deleted).Int("errors", total.Errors).
		Msg("reconcile done")

	return nil
}

func runTrashPurge(ctx context.Context, svc *service.TrashService) error {
	l := log.Logger().With().Str("job", JobTrashPurge).Logger()

	before := svc.Cutoff()

	res, err := svc.PurgeAll(ctx, before)
	if err != nil {
		return fmt.Errorf("purge trash: %w", err)
	}

	if res.Purged > 0 || res.ObjectErrors > 0 {
		l.Info().Int("projects", res.Projects).Int("purged", res.Purged).
			Int("object_errors", res.ObjectErrors).Time("before", before).Msg("purged trash")
	}

	return nil
}
