package jobs_test

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/internal/jobs"
	"github.com/yeisme/treevault/pkg/internal/storage"
	dbc "github.com/yeisme/treevault/pkg/internal/storage/db"
	"github.com/yeisme/treevault/pkg/internal/testutil"
	"github.com/yeisme/treevault/pkg/scheduler"
)

func newManager(t *testing.T) *storage.Manager {
	t.Helper()

	return &storage.Manager{
		DB:   &dbc.Client{DB: testutil.NewDB(t)},
		Lock: testutil.NewLocker(t),
	}
}

func newScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()

	sched, err := scheduler.NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sched.Stop() })

	return sched
}

func setCron(t *testing.T, dedup, trash string) {
	t.Helper()

	cfg := configs.GetConfig()
	prev := cfg.Tree
	t.Cleanup(func() { cfg.Tree = prev })

	cfg.Tree.Dedup.Cron = dedup
	cfg.Tree.Dedup.AuditFile = filepath.Join(t.TempDir(), "audit.jsonl")
	cfg.Tree.Trash.Cron = trash
	cfg.Tree.Trash.RetentionDays = 30
}

func jobNames(sched *scheduler.Scheduler) []string {
	var names []string
	for _, info := range sched.GetJobInfos() {
		names = append(names, info.Name)
	}

	sort.Strings(names)

	return names
}

func TestRegisterCronJobs(t *testing.T) {
	setCron(t, "30 3 * * *", "0 4 * * *")

	sched := newScheduler(t)
	require.NoError(t, jobs.RegisterCronJobs(sched, newManager(t)))

	assert.Equal(t, []string{jobs.JobDedupNightly, jobs.JobTrashPurge}, jobNames(sched))

	info, err := sched.GetJobInfoByName(jobs.JobDedupNightly)
	require.NoError(t, err)
	assert.Equal(t, "30 3 * * *", info.CronExpr)
	assert.Equal(t, scheduler.StatusScheduled, info.Status)
}

// TestRegisterCronJobs_Disabled 测试 cron 表达式为空时跳过注册.
func TestRegisterCronJobs_Disabled(t *testing.T) {
	setCron(t, "", "0 4 * * *")

	sched := newScheduler(t)
	require.NoError(t, jobs.RegisterCronJobs(sched, newManager(t)))

	assert.Equal(t, []string{jobs.JobTrashPurge}, jobNames(sched))
}

func TestRegisterCronJobs_InvalidInput(t *testing.T) {
	setCron(t, "not a cron", "")

	require.Error(t, jobs.RegisterCronJobs(nil, newManager(t)))
	require.Error(t, jobs.RegisterCronJobs(newScheduler(t), nil))
	require.Error(t, jobs.RegisterCronJobs(newScheduler(t), newManager(t)))
}
