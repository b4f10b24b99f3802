package handle_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/idgen"
	"github.com/yeisme/treevault/pkg/internal/handle"
	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/repository"
	"github.com/yeisme/treevault/pkg/internal/router"
	"github.com/yeisme/treevault/pkg/internal/service"
	"github.com/yeisme/treevault/pkg/internal/testutil"
	"github.com/yeisme/treevault/pkg/internal/types"
)

type server struct {
	engine  *service.Engine
	objects *testutil.ObjectStore
	router  *gin.Engine
	roots   map[string]string
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	objects := testutil.NewObjectStore()
	projects := repository.NewProjectRepository(db)

	deps := service.Deps{
		Nodes:    repository.NewNodeRepository(db),
		Projects: projects,
		Jobs:     repository.NewForkJobRepository(db),
		Tx:       repository.NewTxManager(db),
		Objects:  objects,
		Locker:   testutil.NewLocker(t),
		IDs:      idgen.New(),
		Tree: configs.TreeConfig{
			Sort:   configs.SortConfig{Step: 1024, MinGap: 10},
			Rename: configs.RenameConfig{PageSize: 10, MirrorConcurrency: 2},
			Fork:   configs.ForkConfig{PageSize: 10},
			Dedup:  configs.DedupConfig{BatchSize: 10, MaxIterations: 10},
			Trash:  configs.TrashConfig{RetentionDays: 30},
		},
		Lock: testutil.LockConfig(),
	}

	s := &server{engine: service.NewEngine(deps), objects: objects, router: gin.New(), roots: map[string]string{}}
	router.Register(s.router.Group("/api/v1"), handle.New(s.engine))

	for _, p := range []*model.Project{
		{ProjectID: "p1", OrganizationCode: "org1", UserID: "u1", WorkDir: "org1/proj1"},
		{ProjectID: "p2", OrganizationCode: "org1", UserID: "u1", WorkDir: "org1/proj2"},
	} {
		require.NoError(t, projects.Save(context.Background(), p))

		root, err := s.engine.Tree.EnsureRoot(context.Background(), p)
		require.NoError(t, err)

		s.roots[p.ProjectID] = root.FileID
	}

	return s
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", "u1")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())

	return v
}

func (s *server) createFile(t *testing.T, projectID, key string) *model.FileNode {
	t.Helper()

	w := s.do(t, http.MethodPost, "/api/v1/projects/"+projectID+"/nodes", types.CreateNodeRequest{FileKey: key, Content: "x"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	return decode[types.NodeResponse](t, w).Node
}

func TestNodes_CreateAndList(t *testing.T) {
	s := newServer(t)

	f := s.createFile(t, "p1", "org1/proj1/docs/a.md")
	assert.Equal(t, "a.md", f.FileName)
	assert.Equal(t, "u1", f.UserID)
	assert.True(t, s.objects.Has("org1", "org1/proj1/docs/a.md"))

	w := s.do(t, http.MethodGet, "/api/v1/projects/p1/children", nil)
	require.Equal(t, http.StatusOK, w.Code)

	top := decode[types.ChildrenResponse](t, w)
	require.Len(t, top.Nodes, 1)
	assert.Equal(t, "org1/proj1/docs/", top.Nodes[0].FileKey)

	w = s.do(t, http.MethodGet, "/api/v1/projects/p1/children?parent_id="+f.ParentIDValue(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[types.ChildrenResponse](t, w).Nodes, 1)
}

// TestNodes_ErrorMapping 测试引擎错误与 HTTP 状态码的映射.
func TestNodes_ErrorMapping(t *testing.T) {
	s := newServer(t)
	s.createFile(t, "p1", "org1/proj1/a.txt")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"not found", http.MethodGet, "/api/v1/nodes/missing", nil, http.StatusNotFound, "not_found"},
		{"conflict", http.MethodPost, "/api/v1/projects/p1/nodes", types.CreateNodeRequest{FileKey: "org1/proj1/a.txt"}, http.StatusConflict, "conflict"},
		{"illegal path", http.MethodPost, "/api/v1/projects/p1/nodes", types.CreateNodeRequest{FileKey: "org1/other/a.txt"}, http.StatusBadRequest, "illegal_path"},
		{"validation", http.MethodPost, "/api/v1/projects/p1/nodes", types.CreateNodeRequest{}, http.StatusBadRequest, "invalid_argument"},
		{"bad strategy", http.MethodPost, "/api/v1/nodes/x/move", types.MoveNodeRequest{Conflict: "merge"}, http.StatusBadRequest, "invalid_argument"},
		{"slash in name", http.MethodPost, "/api/v1/nodes/x/rename", types.RenameNodeRequest{NewName: "a/b"}, http.StatusBadRequest, "invalid_argument"},
		{"unknown project", http.MethodGet, "/api/v1/projects/nope/children", nil, http.StatusNotFound, "not_found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, decode[types.ErrorResponse](t, w).Code)
		})
	}
}

func TestNodes_RenameCopyDelete(t *testing.T) {
	s := newServer(t)
	f := s.createFile(t, "p1", "org1/proj1/a.txt")

	w := s.do(t, http.MethodPost, "/api/v1/nodes/"+f.FileID+"/rename", types.RenameNodeRequest{NewName: "b.txt"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "org1/proj1/b.txt", decode[types.NodeResponse](t, w).Node.FileKey)

	w = s.do(t, http.MethodPost, "/api/v1/nodes/"+f.FileID+"/copy", types.MoveNodeRequest{TargetProjectID: "p2", TargetParentID: s.roots["p2"]})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	cp := decode[types.NodeResponse](t, w).Node
	assert.Equal(t, "org1/proj2/b.txt", cp.FileKey)
	assert.Equal(t, "p2", cp.ProjectID)

	w = s.do(t, http.MethodDelete, "/api/v1/nodes/"+f.FileID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.NodeTombstone, decode[types.NodeResponse](t, w).Node.Status)
}

// TestTrash_ListAndPurge 测试回收站列表与按截止时间清理.
func TestTrash_ListAndPurge(t *testing.T) {
	s := newServer(t)
	f := s.createFile(t, "p1", "org1/proj1/a.txt")

	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/v1/nodes/"+f.FileID, nil).Code)

	w := s.do(t, http.MethodGet, "/api/v1/projects/p1/trash?page=1&size=10", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	list := decode[service.TrashList](t, w)
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Nodes, 1)
	assert.Equal(t, f.FileID, list.Nodes[0].FileID)

	// 默认保留期内不会被清理
	w = s.do(t, http.MethodDelete, "/api/v1/projects/p1/trash", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Zero(t, decode[types.PurgeTrashResponse](t, w).Result.Purged)

	before := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w = s.do(t, http.MethodDelete, "/api/v1/projects/p1/trash?before="+before, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[types.PurgeTrashResponse](t, w).Result.Purged)
	assert.False(t, s.objects.Has("org1", "org1/proj1/a.txt"))

	w = s.do(t, http.MethodGet, "/api/v1/projects/p1/trash?size=500", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestForks_StartAndPoll(t *testing.T) {
	s := newServer(t)
	s.createFile(t, "p1", "org1/proj1/d/f.txt")

	w := s.do(t, http.MethodPost, "/api/v1/forks", types.StartForkRequest{SourceProjectID: "p1", TargetProjectID: "p1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/forks", types.StartForkRequest{SourceProjectID: "p1", TargetProjectID: "p2"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	job := decode[types.ForkJobResponse](t, w).Job
	s.engine.Fork.Wait()

	w = s.do(t, http.MethodGet, "/api/v1/forks/"+job.JobID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	got := decode[types.ForkJobResponse](t, w).Job
	assert.Equal(t, model.ForkFinished, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.True(t, s.objects.Has("org1", "org1/proj2/d/f.txt"))

	// 已完成的任务不能恢复
	w = s.do(t, http.MethodPost, "/api/v1/forks/"+job.JobID+"/resume", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/forks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReconcile(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[types.ReconcileResponse](t, w)
	assert.False(t, resp.Result.DryRun)
	assert.Zero(t, resp.Totals.Deleted)

	w = s.do(t, http.MethodPost, "/api/v1/reconcile", types.ReconcileRequest{DryRun: true, ProjectIDs: []string{"p1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[types.ReconcileResponse](t, w).Result.DryRun)

	w = s.do(t, http.MethodPost, "/api/v1/reconcile", types.ReconcileRequest{BatchSize: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestHealthAndScheduler 未注入存储与调度器时的表现.
func TestHealthAndScheduler(t *testing.T) {
	s := newServer(t)

	for _, c := range []string{"db", "s3", "mq", "lock"} {
		w := s.do(t, http.MethodGet, "/api/v1/health/"+c, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, c)
	}

	w := s.do(t, http.MethodGet, "/api/v1/scheduler/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"jobs":[],"waiting":0}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/scheduler/jobs/tree.trash.purge/run", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
