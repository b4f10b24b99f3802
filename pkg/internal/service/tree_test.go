package service_test

import (
	"context"
	"fmt"
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

func create(t *testing.T, tree *service.TreeService, projectID, key string) *model.FileNode {
	t.Helper()

	n, err := tree.Create(context.Background(), service.CreateNodeRequest{ProjectID: projectID, FileKey: key, UserID: "u1"})
	require.NoError(t, err, key)

	return n
}

// TestCreate_AutoDirectories 测试创建文件时自动补齐中间目录.
func TestCreate_AutoDirectories(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, root := e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	n, err := tree.Create(ctx, service.CreateNodeRequest{ProjectID: "p1", FileKey: "org1/proj1/a/b/c.txt", Body: []byte("hi")})
	require.NoError(t, err)

	a := e.liveKey(t, "p1", "org1/proj1/a/")
	b := e.liveKey(t, "p1", "org1/proj1/a/b/")

	assert.True(t, a.IsDirectory)
	assert.Equal(t, root.FileID, a.ParentIDValue())
	assert.Equal(t, a.FileID, b.ParentIDValue())
	assert.Equal(t, b.FileID, n.ParentIDValue())
	assert.Equal(t, "c.txt", n.FileName)
	assert.Equal(t, int64(1024), a.Sort)
	assert.Equal(t, []string{"org1/proj1/", "org1/proj1/a/", "org1/proj1/a/b/", "org1/proj1/a/b/c.txt"}, e.objects.Keys("org1"))

	// 目录已存在时直接返回
	dir, err := tree.Create(ctx, service.CreateNodeRequest{ProjectID: "p1", FileKey: "org1/proj1/a", IsDirectory: true})
	require.NoError(t, err)
	assert.Equal(t, a.FileID, dir.FileID)

	_, err = tree.Create(ctx, service.CreateNodeRequest{ProjectID: "p1", FileKey: "org1/proj1/a/b/c.txt"})
	require.ErrorIs(t, err, service.ErrConflict)

	// 文件 key 与已有目录只差结尾分隔符
	_, err = tree.Create(ctx, service.CreateNodeRequest{ProjectID: "p1", FileKey: "org1/proj1/a/b"})
	require.ErrorIs(t, err, service.ErrConflict)
}

// TestCreate_KeySpellings 测试同一路径的不同写法命中同一条记录.
func TestCreate_KeySpellings(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.project(t, "p1", "org1", "/org1/proj1/")
	tree := e.tree()

	n := create(t, tree, "p1", "org1/proj1/a.txt")
	assert.Equal(t, "org1/proj1/a.txt", n.FileKey)

	for _, key := range []string{"/org1/proj1/a.txt", "org1//proj1/a.txt", "//org1/proj1//a.txt"} {
		_, err := tree.Create(ctx, service.CreateNodeRequest{ProjectID: "p1", FileKey: key})
		require.ErrorIs(t, err, service.ErrConflict, key)
	}

	dir, err := tree.Create(ctx, service.CreateNodeRequest{ProjectID: "p1", FileKey: "/org1/proj1/d/", IsDirectory: true})
	require.NoError(t, err)
	assert.Equal(t, "org1/proj1/d/", dir.FileKey)

	again, err := tree.Create(ctx, service.CreateNodeRequest{ProjectID: "p1", FileKey: "org1/proj1/d", IsDirectory: true})
	require.NoError(t, err)
	assert.Equal(t, dir.FileID, again.FileID)

	assert.Equal(t, []string{"org1/proj1/", "org1/proj1/a.txt", "org1/proj1/d/"}, e.objects.Keys("org1"))
}

func TestCreate_RejectsIllegalKeys(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	for _, key := range []string{"org1/other/x.txt", "org1/proj1/../x.txt", "org1/proj1/"} {
		_, err := tree.Create(ctx, service.CreateNodeRequest{ProjectID: "p1", FileKey: key})
		require.ErrorIs(t, err, service.ErrIllegalPath, key)
	}

	_, err := tree.Create(ctx, service.CreateNodeRequest{ProjectID: "p1"})
	require.ErrorIs(t, err, service.ErrInvalidArgument)

	_, err = tree.Create(ctx, service.CreateNodeRequest{ProjectID: "missing", FileKey: "x"})
	require.ErrorIs(t, err, service.ErrNotFound)
}

// TestCreate_ByParentInheritsMetadata 测试按父节点创建并继承索引文件元数据.
func TestCreate_ByParentInheritsMetadata(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	idx, err := tree.Create(ctx, service.CreateNodeRequest{ProjectID: "p1", FileKey: "org1/proj1/app/project.js", Metadata: `{"kind":"app"}`})
	require.NoError(t, err)

	n, err := tree.Create(ctx, service.CreateNodeRequest{ProjectID: "p1", ParentID: idx.ParentIDValue(), FileName: "main.go"})
	require.NoError(t, err)
	assert.Equal(t, "org1/proj1/app/main.go", n.FileKey)
	assert.Equal(t, `{"kind":"app"}`, n.Metadata)
	assert.Equal(t, int64(2048), n.Sort)
}

func TestCreate_PublishesEvent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ps := testutil.NewPubSub(t)
	e.deps.Publisher = ps
	e.deps.Events = configs.EventsConfig{Enabled: true, Producer: "test", Node: configs.NodeEventsConfig{Created: true}}
	e.project(t, "p1", "org1", "org1/proj1")

	n := create(t, e.tree(), "p1", "org1/proj1/d/x.txt")

	ch, err := ps.Subscribe(ctx, queue.TopicNodeCreated)
	require.NoError(t, err)

	var keys []string

	for range 2 {
		select {
		case msg := <-ch:
			msg.Ack()

			env, err := queue.ParseWatermillMessage[queue.NodeCreatedPayload](msg)
			require.NoError(t, err)
			assert.Equal(t, "test", env.Header.Producer)
			keys = append(keys, env.Payload.Node.FileKey)
		case <-time.After(time.Second):
			t.Fatal("event not published")
		}
	}

	assert.Equal(t, []string{"org1/proj1/d/", n.FileKey}, keys)
}

// TestCopy_ConflictStrategies 测试复制时三种冲突策略.
func TestCopy_ConflictStrategies(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	old := create(t, tree, "p1", "org1/proj1/x/a.txt")
	src := create(t, tree, "p1", "org1/proj1/y/a.txt")
	x := e.liveKey(t, "p1", "org1/proj1/x/")

	req := service.CopyNodeRequest{FileID: src.FileID, TargetParentID: x.FileID, Conflict: service.ConflictKeepBoth}

	out, err := tree.Copy(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "org1/proj1/x/a(1).txt", out.FileKey)
	assert.Equal(t, model.SourceCopy, out.Source)
	assert.True(t, e.objects.Has("org1", "org1/proj1/x/a(1).txt"))

	out, err = tree.Copy(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "org1/proj1/x/a(2).txt", out.FileKey)

	req.Conflict = service.ConflictFail
	_, err = tree.Copy(ctx, req)
	require.ErrorIs(t, err, service.ErrConflict)

	// 默认覆盖，KeepBothIDs 中的节点例外
	req.Conflict = ""
	req.KeepBothIDs = []string{src.FileID}
	out, err = tree.Copy(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "org1/proj1/x/a(3).txt", out.FileKey)

	req.KeepBothIDs = nil
	out, err = tree.Copy(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "org1/proj1/x/a.txt", out.FileKey)
	assert.Equal(t, model.NodeTombstone, e.get(t, old.FileID).Status)
	assert.Equal(t, model.NodeLive, e.get(t, src.FileID).Status)
}

func TestCopy_KeepBothTimestampFallback(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	create(t, tree, "p1", "org1/proj1/x/a.txt")
	for i := 1; i <= 10; i++ {
		create(t, tree, "p1", fmt.Sprintf("org1/proj1/x/a(%d).txt", i))
	}

	src := create(t, tree, "p1", "org1/proj1/y/a.txt")
	x := e.liveKey(t, "p1", "org1/proj1/x/")

	out, err := tree.Copy(ctx, service.CopyNodeRequest{FileID: src.FileID, TargetParentID: x.FileID, Conflict: service.ConflictKeepBoth})
	require.NoError(t, err)
	assert.Regexp(t, `^org1/proj1/x/a_\d{14}\.txt$`, out.FileKey)
}

// TestCopy_RereadsSourceUnderLock 测试等待项目锁期间源节点被修改时，按加锁后的状态复制.
func TestCopy_RereadsSourceUnderLock(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	src := create(t, tree, "p1", "org1/proj1/y/a.txt")
	gone := create(t, tree, "p1", "org1/proj1/y/gone.txt")
	x := e.liveKey(t, "p1", "org1/proj1/x/")

	copyWhileLocked := func(fileID string, change func()) (*model.FileNode, error) {
		key := e.locker.ProjectKey("p1")
		ok, err := e.locker.SpinLock(ctx, key, "someone-else", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		type result struct {
			n   *model.FileNode
			err error
		}

		done := make(chan result, 1)

		go func() {
			n, err := tree.Copy(ctx, service.CopyNodeRequest{FileID: fileID, TargetParentID: x.FileID})
			done <- result{n, err}
		}()

		time.Sleep(50 * time.Millisecond)
		change()

		_, err = e.locker.Release(ctx, key, "someone-else")
		require.NoError(t, err)

		r := <-done

		return r.n, r.err
	}

	// 改名
	out, err := copyWhileLocked(src.FileID, func() {
		require.NoError(t, e.db.Model(&model.FileNode{}).Where("file_id = ?", src.FileID).
			Updates(map[string]any{"file_key": "org1/proj1/y/b.txt", "file_name": "b.txt"}).Error)
		e.objects.Put("org1", "org1/proj1/y/b.txt", []byte("b"))
	})
	require.NoError(t, err)
	assert.Equal(t, "org1/proj1/x/b.txt", out.FileKey)
	assert.True(t, e.objects.Has("org1", "org1/proj1/x/b.txt"))

	// 删除
	_, err = copyWhileLocked(gone.FileID, func() {
		_, err := e.nodes.Tombstone(ctx, []string{gone.FileID}, time.Now())
		require.NoError(t, err)
	})
	require.ErrorIs(t, err, service.ErrNotFound)
	assert.False(t, e.objects.Has("org1", "org1/proj1/x/gone.txt"))
}

// TestCopy_IntoOwnDirectory 测试复制到自身所在目录时保留两者.
func TestCopy_IntoOwnDirectory(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	f := create(t, tree, "p1", "org1/proj1/d/sub/f.txt")
	d := e.liveKey(t, "p1", "org1/proj1/d/")

	out, err := tree.Copy(ctx, service.CopyNodeRequest{FileID: d.FileID, TargetParentID: d.ParentIDValue()})
	require.NoError(t, err)
	assert.Equal(t, "org1/proj1/d(1)/", out.FileKey)

	clone := e.liveKey(t, "p1", "org1/proj1/d(1)/sub/f.txt")
	sub := e.liveKey(t, "p1", "org1/proj1/d(1)/sub/")
	assert.NotEqual(t, f.FileID, clone.FileID)
	assert.Equal(t, sub.FileID, clone.ParentIDValue())
	assert.Equal(t, out.FileID, sub.ParentIDValue())
	assert.True(t, e.objects.Has("org1", "org1/proj1/d(1)/sub/f.txt"))

	_, err = tree.Copy(ctx, service.CopyNodeRequest{FileID: d.FileID, TargetParentID: sub.FileID})
	require.NoError(t, err)

	_, err = tree.Copy(ctx, service.CopyNodeRequest{FileID: d.FileID, TargetParentID: e.liveKey(t, "p1", "org1/proj1/d/sub/").FileID})
	require.ErrorIs(t, err, service.ErrIllegalPath)
}

// TestRename_SegmentRewrite 测试目录重命名只改写完整路径段匹配的后代.
func TestRename_SegmentRewrite(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	x := create(t, tree, "p1", "org1/proj1/a/x.txt")
	z := create(t, tree, "p1", "org1/proj1/a/sub/z.txt")
	y := create(t, tree, "p1", "org1/proj1/ab/y.txt")
	a := e.liveKey(t, "p1", "org1/proj1/a/")

	out, err := tree.Rename(ctx, service.RenameNodeRequest{FileID: a.FileID, NewName: "c"})
	require.NoError(t, err)
	assert.Equal(t, "org1/proj1/c/", out.FileKey)
	assert.Equal(t, "c", out.FileName)

	assert.Equal(t, "org1/proj1/c/x.txt", e.get(t, x.FileID).FileKey)
	assert.Equal(t, "org1/proj1/c/sub/z.txt", e.get(t, z.FileID).FileKey)
	assert.Equal(t, "org1/proj1/ab/y.txt", e.get(t, y.FileID).FileKey)

	assert.ElementsMatch(t, []string{
		"org1/proj1/", "org1/proj1/ab/", "org1/proj1/ab/y.txt",
		"org1/proj1/c/", "org1/proj1/c/sub/", "org1/proj1/c/sub/z.txt", "org1/proj1/c/x.txt",
	}, e.objects.Keys("org1"))

	_, err = tree.Rename(ctx, service.RenameNodeRequest{FileID: a.FileID, NewName: "ab"})
	require.ErrorIs(t, err, service.ErrConflict)

	_, err = tree.Rename(ctx, service.RenameNodeRequest{FileID: a.FileID, NewName: "x/y"})
	require.ErrorIs(t, err, service.ErrIllegalPath)
}

// TestRename_BackingStoreFailure 测试顶层对象重命名失败时数据库不变.
func TestRename_BackingStoreFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	y := create(t, tree, "p1", "org1/proj1/y.txt")
	e.objects.FailOn("RenameObject", "org1/proj1/y.txt")

	_, err := tree.Rename(ctx, service.RenameNodeRequest{FileID: y.FileID, NewName: "w.txt"})
	require.ErrorIs(t, err, service.ErrBackingStore)
	assert.Equal(t, "org1/proj1/y.txt", e.get(t, y.FileID).FileKey)
}

// TestMove_CrossOrganization 测试跨组织移动目录：节点改写项目与组织，对象复制后删除源.
func TestMove_CrossOrganization(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ps := testutil.NewPubSub(t)
	e.deps.Publisher = ps
	e.deps.Events = configs.EventsConfig{Enabled: true, Node: configs.NodeEventsConfig{Moved: true}}

	e.project(t, "p1", "org1", "org1/proj1")
	_, root2 := e.project(t, "p2", "org2", "org2/proj2")
	tree := e.tree()

	f := create(t, tree, "p1", "org1/proj1/d/f.txt")
	d := e.liveKey(t, "p1", "org1/proj1/d/")

	out, err := tree.Move(ctx, service.MoveNodeRequest{FileID: d.FileID, TargetProjectID: "p2", TargetParentID: root2.FileID})
	require.NoError(t, err)
	assert.Equal(t, "org2/proj2/d/", out.FileKey)
	assert.Equal(t, "p2", out.ProjectID)
	assert.Equal(t, "org2", out.OrganizationCode)
	assert.Equal(t, root2.FileID, out.ParentIDValue())

	moved := e.get(t, f.FileID)
	assert.Equal(t, "org2/proj2/d/f.txt", moved.FileKey)
	assert.Equal(t, "p2", moved.ProjectID)
	assert.Equal(t, d.FileID, moved.ParentIDValue())

	assert.Equal(t, []string{"org1/proj1/"}, e.objects.Keys("org1"))
	assert.Equal(t, []string{"org2/proj2/", "org2/proj2/d/", "org2/proj2/d/f.txt"}, e.objects.Keys("org2"))

	ch, err := ps.Subscribe(ctx, queue.TopicNodeMoved)
	require.NoError(t, err)

	select {
	case msg := <-ch:
		msg.Ack()

		env, err := queue.ParseNodeMoved(msg)
		require.NoError(t, err)
		assert.Equal(t, "p1", env.Payload.FromProject)
		assert.Equal(t, "org1/proj1/d/", env.Payload.FromKey)
		assert.Equal(t, 1, env.Payload.Descendants)
	case <-time.After(time.Second):
		t.Fatal("moved event not published")
	}
}

func TestMove_Rules(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	create(t, tree, "p1", "org1/proj1/m/n/k.txt")
	m := e.liveKey(t, "p1", "org1/proj1/m/")
	n := e.liveKey(t, "p1", "org1/proj1/m/n/")

	_, err := tree.Move(ctx, service.MoveNodeRequest{FileID: m.FileID, TargetParentID: n.FileID})
	require.ErrorIs(t, err, service.ErrIllegalPath)

	_, err = tree.Move(ctx, service.MoveNodeRequest{FileID: m.FileID, TargetParentID: n.FileID, Conflict: "merge"})
	require.ErrorIs(t, err, service.ErrInvalidArgument)

	// 覆盖同名节点
	old := create(t, tree, "p1", "org1/proj1/t/a.txt")
	src := create(t, tree, "p1", "org1/proj1/s/a.txt")
	tdir := e.liveKey(t, "p1", "org1/proj1/t/")

	out, err := tree.Move(ctx, service.MoveNodeRequest{FileID: src.FileID, TargetParentID: tdir.FileID})
	require.NoError(t, err)
	assert.Equal(t, "org1/proj1/t/a.txt", out.FileKey)
	assert.Equal(t, src.FileID, e.liveKey(t, "p1", "org1/proj1/t/a.txt").FileID)
	assert.Equal(t, model.NodeTombstone, e.get(t, old.FileID).Status)
	assert.False(t, e.objects.Has("org1", "org1/proj1/s/a.txt"))
}

// TestReorder 测试同目录内调整顺序.
func TestReorder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	f1 := create(t, tree, "p1", "org1/proj1/f1.txt")
	create(t, tree, "p1", "org1/proj1/f2.txt")
	f3 := create(t, tree, "p1", "org1/proj1/f3.txt")
	assert.Equal(t, int64(3072), f3.Sort)

	out, err := tree.Reorder(ctx, service.ReorderRequest{FileID: f3.FileID, PredecessorID: f1.FileID})
	require.NoError(t, err)
	assert.Equal(t, int64(1536), out.Sort)

	out, err = tree.Reorder(ctx, service.ReorderRequest{FileID: f3.FileID, PredecessorID: "0"})
	require.NoError(t, err)
	assert.Equal(t, int64(512), out.Sort)

	rows, err := tree.ListChildren(ctx, "p1", "")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, f3.FileID, rows[0].FileID)
}

// TestDelete_Subtree 测试删除目录时整棵子树进入回收站，对象保留.
func TestDelete_Subtree(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, root := e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	f := create(t, tree, "p1", "org1/proj1/d/f.txt")
	d := e.liveKey(t, "p1", "org1/proj1/d/")

	_, err := tree.Delete(ctx, service.DeleteNodeRequest{FileID: d.FileID})
	require.NoError(t, err)

	assert.Equal(t, model.NodeTombstone, e.get(t, f.FileID).Status)
	assert.NotNil(t, e.get(t, d.FileID).DeletedAt)
	assert.True(t, e.objects.Has("org1", "org1/proj1/d/f.txt"))

	_, err = tree.Get(ctx, d.FileID)
	require.ErrorIs(t, err, service.ErrNotFound)

	_, err = tree.Delete(ctx, service.DeleteNodeRequest{FileID: root.FileID})
	require.ErrorIs(t, err, service.ErrIllegalPath)
}

// TestProjectLock_Busy 测试项目锁被占用时返回 ErrBusy.
func TestProjectLock_Busy(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.project(t, "p1", "org1", "org1/proj1")
	tree := e.tree()

	key := e.locker.ProjectKey("p1")
	ok, err := e.locker.SpinLock(ctx, key, "someone-else", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = tree.Create(ctx, service.CreateNodeRequest{ProjectID: "p1", FileKey: "org1/proj1/x.txt"})
	require.ErrorIs(t, err, service.ErrBusy)

	_, err = e.locker.Release(ctx, key, "someone-else")
	require.NoError(t, err)

	create(t, tree, "p1", "org1/proj1/x.txt")
}
