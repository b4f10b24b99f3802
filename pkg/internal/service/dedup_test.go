package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/service"
	"github.com/yeisme/treevault/pkg/internal/testutil"
	"github.com/yeisme/treevault/pkg/queue"
)

func reconcile(t *testing.T, e *env, opts service.ReconcileOptions) *service.ReconcileResult {
	t.Helper()

	res, err := service.NewDedupService(e.deps).Run(context.Background(), opts)
	require.NoError(t, err)

	return res
}

// TestDedup_DivergentParents 测试重复文件父节点不一致时保留父节点仍存在的记录.
func TestDedup_DivergentParents(t *testing.T) {
	e := newEnv(t)
	now := time.Now()

	e.insert(t,
		row("R", "p1", "ws/", "", true),
		row("A1", "p1", "ws/a/", "R", true),
		updatedAt(row("F1", "p1", "ws/a/x.txt", "A1", false), now.Add(-2*time.Hour)),
		updatedAt(row("F2", "p1", "ws/a/x.txt", "GONE", false), now.Add(-time.Hour)),
		updatedAt(row("F3", "p1", "ws/b.txt", "R", false), now.Add(-2*time.Hour)),
		updatedAt(row("F4", "p1", "ws/b.txt", "R", false), now.Add(-time.Hour)),
	)

	res := reconcile(t, e, service.ReconcileOptions{ProjectIDs: []string{"p1"}})

	assert.True(t, e.exists(t, "F1"))
	assert.False(t, e.exists(t, "F2"))
	assert.False(t, e.exists(t, "F3"))
	assert.True(t, e.exists(t, "F4"))

	files := res.Stages["files"]
	require.NotNil(t, files)
	assert.Equal(t, 2, files.Processed)
	assert.Equal(t, 2, files.Kept)
	assert.Equal(t, 2, files.Deleted)
	assert.Contains(t, e.audit.actions(), "files:keep")
	assert.Contains(t, e.audit.actions(), "files:hard_delete")
}

// TestDedup_MergeDirectories 测试重复目录保留 file_id 最小的一条并改挂子节点.
func TestDedup_MergeDirectories(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ps := testutil.NewPubSub(t)
	e.deps.Publisher = ps
	e.deps.Events = configs.EventsConfig{Enabled: true, Job: configs.JobEventsConfig{Reconciled: true}}

	e.insert(t,
		row("R", "p1", "ws/", "", true),
		row("A1", "p1", "ws/a/", "R", true),
		row("A2", "p1", "ws/a/", "R", true),
		row("C1", "p1", "ws/a/c.txt", "A2", false),
	)

	res := reconcile(t, e, service.ReconcileOptions{ProjectIDs: []string{"p1"}})

	assert.True(t, e.exists(t, "A1"))
	assert.False(t, e.exists(t, "A2"))
	assert.Equal(t, "A1", e.get(t, "C1").ParentIDValue())
	assert.Equal(t, 1, res.ChildrenRewired)
	assert.Zero(t, res.ParentsFixed)

	ch, err := ps.Subscribe(ctx, queue.TopicReconciled)
	require.NoError(t, err)

	select {
	case msg := <-ch:
		msg.Ack()

		env, err := queue.ParseWatermillMessage[queue.ReconciledPayload](msg)
		require.NoError(t, err)
		assert.Equal(t, res.RunID, env.Payload.RunID)
		assert.Equal(t, 1, env.Payload.Deleted)
	case <-time.After(time.Second):
		t.Fatal("reconciled event not published")
	}
}

// TestDedup_DryRun 测试 dry run 只写审计记录，不修改数据.
func TestDedup_DryRun(t *testing.T) {
	e := newEnv(t)

	e.insert(t,
		row("R", "p1", "ws/", "", true),
		row("A1", "p1", "ws/a/", "R", true),
		row("A2", "p1", "ws/a/", "R", true),
		row("C1", "p1", "ws/a/c.txt", "A2", false),
	)

	res := reconcile(t, e, service.ReconcileOptions{ProjectIDs: []string{"p1"}, DryRun: true})

	assert.True(t, res.DryRun)
	assert.True(t, e.exists(t, "A2"))
	assert.Equal(t, "A2", e.get(t, "C1").ParentIDValue())
	assert.Equal(t, 1, res.Stages["directories"].Deleted)
	assert.Contains(t, e.audit.actions(), "directories:would_rewire_children")
	assert.Contains(t, e.audit.actions(), "directories:would_hard_delete")

	for _, entry := range e.audit.entries {
		assert.True(t, entry.DryRun)
		assert.Equal(t, res.RunID, entry.RunID)
	}
}

// TestDedup_FixDirectoryFlag 测试先按 key 语法修正目录标记，再合并重复目录.
func TestDedup_FixDirectoryFlag(t *testing.T) {
	e := newEnv(t)

	e.insert(t,
		row("R", "p1", "ws/", "", true),
		row("X1", "p1", "ws/docs/", "R", true),
		row("X2", "p1", "ws/docs/", "R", false),
	)

	res := reconcile(t, e, service.ReconcileOptions{ProjectIDs: []string{"p1"}})

	assert.Equal(t, 1, res.FlagsFixed)
	assert.True(t, e.exists(t, "X1"))
	assert.False(t, e.exists(t, "X2"))

	actions := e.audit.actions()
	assert.Equal(t, "is_directory:fix_flag", actions[0])
}

// TestDedup_FlagFromKeySyntax 测试没有扩展名的 key 统一为目录，带扩展名的统一为文件.
func TestDedup_FlagFromKeySyntax(t *testing.T) {
	e := newEnv(t)

	e.insert(t,
		row("R", "p1", "ws/", "", true),
		row("A1", "p1", "ws/a/", "R", true),
		row("B1", "p1", "ws/a/b", "A1", false),
		row("B2", "p1", "ws/a/b", "A1", true),
		row("T1", "p1", "ws/a/b.txt", "A1", true),
		row("T2", "p1", "ws/a/b.txt", "A1", false),
	)

	res := reconcile(t, e, service.ReconcileOptions{ProjectIDs: []string{"p1"}})
	assert.Equal(t, 2, res.FlagsFixed)

	// 修正后按目录合并，保留 file_id 最小的 B1
	require.True(t, e.exists(t, "B1"))
	assert.False(t, e.exists(t, "B2"))
	assert.True(t, e.get(t, "B1").IsDirectory)

	var left []*model.FileNode

	for _, id := range []string{"T1", "T2"} {
		if e.exists(t, id) {
			left = append(left, e.get(t, id))
		}
	}

	require.Len(t, left, 1)
	assert.False(t, left[0].IsDirectory)
	assert.Equal(t, 1, res.Stages["files"].Deleted)
}

// TestDedup_MixedTombstones 测试部分副本已软删除、其余父节点不一致时只留一条有效记录，子节点全部改挂.
func TestDedup_MixedTombstones(t *testing.T) {
	e := newEnv(t)
	at := time.Now().Add(-time.Hour)

	a3 := row("A3", "p1", "ws/a/", "R", true)
	a3.Tombstone(at)

	x2 := row("X2", "p1", "ws/a/x.txt", "A1", false)
	x2.Tombstone(at)

	e.insert(t,
		row("R", "p1", "ws/", "", true),
		row("A1", "p1", "ws/a/", "R", true),
		row("A2", "p1", "ws/a/", "GONE", true),
		a3,
		row("C1", "p1", "ws/a/c1.txt", "A2", false),
		row("C2", "p1", "ws/a/c2.txt", "A3", false),
		row("C3", "p1", "ws/a/c3.txt", "A1", false),
		row("X1", "p1", "ws/a/x.txt", "A1", false),
		x2,
		row("X3", "p1", "ws/a/x.txt", "GONE", false),
	)

	res := reconcile(t, e, service.ReconcileOptions{ProjectIDs: []string{"p1"}})

	assert.True(t, e.exists(t, "A1"))
	assert.False(t, e.exists(t, "A2"))
	assert.False(t, e.exists(t, "A3"))
	assert.Equal(t, 2, res.Stages["directories"].Deleted)
	assert.Equal(t, 2, res.ChildrenRewired)

	for _, id := range []string{"C1", "C2", "C3"} {
		c := e.get(t, id)
		assert.Equal(t, "A1", c.ParentIDValue(), id)
		assert.Equal(t, model.NodeLive, c.Status, id)
	}

	assert.True(t, e.exists(t, "X1"))
	assert.False(t, e.exists(t, "X2"))
	assert.False(t, e.exists(t, "X3"))
	assert.Equal(t, 2, res.Stages["files"].Deleted)

	live := e.liveKey(t, "p1", "ws/a/")
	assert.Equal(t, "A1", live.FileID)
	assert.Zero(t, res.ParentsFixed)
}

// TestDedup_DeletedKeys 测试全部副本均为墓碑的 key 被物理删除，项目由重复 key 自动发现.
func TestDedup_DeletedKeys(t *testing.T) {
	e := newEnv(t)
	at := time.Now().Add(-time.Hour)

	d1, d2 := row("D1", "p9", "ws/old.txt", "R", false), row("D2", "p9", "ws/old.txt", "R", false)
	d1.Tombstone(at)
	d2.Tombstone(at)

	e.insert(t, row("R", "p9", "ws/", "", true), d1, d2)

	res := reconcile(t, e, service.ReconcileOptions{})

	assert.Equal(t, 1, res.Projects)
	assert.False(t, e.exists(t, "D1"))
	assert.False(t, e.exists(t, "D2"))
	assert.Equal(t, 2, res.Stages["deleted_keys"].Deleted)
}

// TestDedup_RepairOrphans 测试孤儿节点改挂到 key 的父目录，父目录不存在时挂到根目录.
func TestDedup_RepairOrphans(t *testing.T) {
	e := newEnv(t)

	e.insert(t,
		row("R", "p1", "ws/", "", true),
		row("A1", "p1", "ws/a/", "R", true),
		row("O1", "p1", "ws/a/b.txt", "MISSING", false),
		row("O2", "p1", "ws/zz/c.txt", "MISSING", false),
		row("O3", "p1", "ws/a/d.txt", "A1", false),
	)

	gone := row("T1", "p1", "ws/t/", "R", true)
	gone.Tombstone(time.Now())
	e.insert(t, gone, row("O4", "p1", "ws/t/e.txt", "T1", false))

	res := reconcile(t, e, service.ReconcileOptions{ProjectIDs: []string{"p1"}})

	assert.Equal(t, "A1", e.get(t, "O1").ParentIDValue())
	assert.Equal(t, "R", e.get(t, "O2").ParentIDValue())
	assert.Equal(t, "A1", e.get(t, "O3").ParentIDValue())
	assert.Equal(t, "R", e.get(t, "O4").ParentIDValue())
	assert.Equal(t, 3, res.ParentsFixed)
	assert.Equal(t, model.NodeLive, e.get(t, "O4").Status)

	// 再次执行没有任何变更
	res = reconcile(t, e, service.ReconcileOptions{ProjectIDs: []string{"p1"}})
	assert.Zero(t, res.ParentsFixed)
	assert.Zero(t, res.Totals().Deleted)
}
