package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/service"
)

// forkFixture 源项目里子节点的 file_id 小于父目录，分页时子节点先于父节点出现.
func forkFixture(t *testing.T) (*env, *model.FileNode) {
	t.Helper()

	e := newEnv(t)
	_, root1 := e.project(t, "p1", "org1", "org1/proj1")
	_, root2 := e.project(t, "p2", "org2", "org2/proj2")

	e.insert(t,
		row("Z1", "p1", "org1/proj1/d/f.txt", "Z2", false),
		row("Z2", "p1", "org1/proj1/d/", root1.FileID, true),
	)
	e.objects.Put("org1", "org1/proj1/d/f.txt", []byte("data"))

	return e, root2
}

// TestFork_PendingParents 测试父节点晚于子节点迁移时在第二阶段修复.
func TestFork_PendingParents(t *testing.T) {
	ctx := context.Background()
	e, root2 := forkFixture(t)
	fork := service.NewForkService(e.deps, e.tree())

	job, err := fork.Start(ctx, service.StartForkRequest{SourceProjectID: "p1", TargetProjectID: "p2", UserID: "u1"})
	require.NoError(t, err)
	fork.Wait()

	got, err := fork.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.ForkFinished, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, int64(3), got.TotalFiles)
	assert.Equal(t, int64(3), got.ProcessedFiles)
	assert.Zero(t, got.FailedFiles)
	assert.NotNil(t, got.FinishedAt)

	d := e.liveKey(t, "p2", "org2/proj2/d/")
	f := e.liveKey(t, "p2", "org2/proj2/d/f.txt")

	assert.Equal(t, root2.FileID, d.ParentIDValue())
	assert.Equal(t, d.FileID, f.ParentIDValue())
	assert.Equal(t, model.SourceFork, f.Source)
	assert.Equal(t, "org2", f.OrganizationCode)
	assert.True(t, e.objects.Has("org2", "org2/proj2/d/f.txt"))
	assert.True(t, e.objects.Has("org1", "org1/proj1/d/f.txt"))

	// 重复执行不会产生重复节点
	again, err := fork.Start(ctx, service.StartForkRequest{SourceProjectID: "p1", TargetProjectID: "p2"})
	require.NoError(t, err)
	fork.Wait()

	total, err := e.nodes.CountLive(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	got, err = fork.Get(ctx, again.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.ForkFinished, got.Status)
}

// TestFork_ResumeReattachesStrays 测试中断后恢复：游标之前已提交的节点暂挂在根目录，恢复后挂回正确目录.
func TestFork_ResumeReattachesStrays(t *testing.T) {
	ctx := context.Background()
	e, root2 := forkFixture(t)
	fork := service.NewForkService(e.deps, e.tree())

	stray := row("T1", "p2", "org2/proj2/d/f.txt", root2.FileID, false)
	stray.OrganizationCode = "org2"
	e.insert(t, stray)

	require.NoError(t, e.deps.Jobs.Create(ctx, &model.ForkJob{
		JobID:           "J1",
		SourceProjectID: "p1",
		TargetProjectID: "p2",
		SourceOrg:       "org1",
		TargetOrg:       "org2",
		Status:          model.ForkFailed,
		CurrentFileID:   "Z1",
		ProcessedFiles:  2,
		ErrMessage:      "process killed",
		StartedAt:       time.Now(),
	}))

	job, err := fork.Resume(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, model.ForkRunning, job.Status)
	fork.Wait()

	got, err := fork.Get(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, model.ForkFinished, got.Status)
	assert.Equal(t, int64(3), got.ProcessedFiles)
	assert.Empty(t, got.ErrMessage)

	d := e.liveKey(t, "p2", "org2/proj2/d/")
	assert.Equal(t, d.FileID, e.get(t, "T1").ParentIDValue())

	_, err = fork.Resume(ctx, "J1")
	require.ErrorIs(t, err, service.ErrInvalidArgument)
}

func TestFork_Validation(t *testing.T) {
	ctx := context.Background()
	e, _ := forkFixture(t)
	fork := service.NewForkService(e.deps, e.tree())

	_, err := fork.Start(ctx, service.StartForkRequest{SourceProjectID: "p1", TargetProjectID: "p1"})
	require.ErrorIs(t, err, service.ErrInvalidArgument)

	_, err = fork.Start(ctx, service.StartForkRequest{SourceProjectID: "p1", TargetProjectID: "nope"})
	require.ErrorIs(t, err, service.ErrNotFound)

	_, err = fork.Run(ctx, "missing")
	require.ErrorIs(t, err, service.ErrNotFound)
}
