package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/idgen"
	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/repository"
	"github.com/yeisme/treevault/pkg/internal/service"
	"github.com/yeisme/treevault/pkg/internal/storage/lock"
	"github.com/yeisme/treevault/pkg/internal/testutil"
	"github.com/yeisme/treevault/pkg/pathkey"
)

type env struct {
	db      *gorm.DB
	nodes   *repository.NodeRepository
	objects *testutil.ObjectStore
	locker  *lock.Locker
	audit   *recordingAudit
	deps    service.Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db := testutil.NewDB(t)
	e := &env{
		db:      db,
		nodes:   repository.NewNodeRepository(db),
		objects: testutil.NewObjectStore(),
		locker:  testutil.NewLocker(t),
		audit:   &recordingAudit{},
	}

	e.deps = service.Deps{
		Nodes:    e.nodes,
		Projects: repository.NewProjectRepository(db),
		Jobs:     repository.NewForkJobRepository(db),
		Tx:       repository.NewTxManager(db),
		Objects:  e.objects,
		Locker:   e.locker,
		IDs:      idgen.New(),
		Audit:    e.audit,
		Tree: configs.TreeConfig{
			Sort:       configs.SortConfig{Step: 1024, MinGap: 10},
			Rename:     configs.RenameConfig{PageSize: 2, MirrorConcurrency: 4},
			Fork:       configs.ForkConfig{PageSize: 1},
			Dedup:      configs.DedupConfig{BatchSize: 10, MaxIterations: 50},
			Trash:      configs.TrashConfig{RetentionDays: 30},
			IndexFiles: []string{"project.js"},
		},
		Lock: testutil.LockConfig(),
	}

	return e
}

func (e *env) tree() *service.TreeService { return service.NewTreeService(e.deps) }

// project 登记项目并创建根目录.
func (e *env) project(t *testing.T, id, org, workDir string) (*model.Project, *model.FileNode) {
	t.Helper()

	p := &model.Project{ProjectID: id, OrganizationCode: org, UserID: "u1", WorkDir: workDir}
	require.NoError(t, repository.NewProjectRepository(e.db).Save(context.Background(), p))

	root, err := e.tree().EnsureRoot(context.Background(), p)
	require.NoError(t, err)

	return p, root
}

// insert 直接写入节点，绕过服务层以构造异常数据.
func (e *env) insert(t *testing.T, nodes ...*model.FileNode) {
	t.Helper()
	require.NoError(t, e.nodes.Create(context.Background(), nodes...))
}

func (e *env) get(t *testing.T, id string) *model.FileNode {
	t.Helper()

	n, err := e.nodes.GetByID(context.Background(), id)
	require.NoError(t, err)

	return n
}

func (e *env) exists(t *testing.T, id string) bool {
	t.Helper()

	_, err := e.nodes.GetByID(context.Background(), id)

	return err == nil
}

func (e *env) liveKey(t *testing.T, projectID, key string) *model.FileNode {
	t.Helper()

	n, err := e.nodes.GetLiveByKey(context.Background(), projectID, key)
	require.NoError(t, err, key)

	return n
}

func row(id, projectID, key, parentID string, isDir bool) *model.FileNode {
	n := &model.FileNode{
		FileID:           id,
		ProjectID:        projectID,
		OrganizationCode: "org1",
		FileKey:          key,
		FileName:         pathkey.Base(key),
		IsDirectory:      isDir,
		Status:           model.NodeLive,
		StorageType:      model.StorageWorkspace,
		Source:           model.SourceUser,
	}

	if parentID != "" {
		n.ParentID = &parentID
	}

	return n
}

func updatedAt(n *model.FileNode, t time.Time) *model.FileNode {
	n.CreatedAt, n.UpdatedAt = t, t

	return n
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []service.AuditEntry
}

func (r *recordingAudit) Record(_ context.Context, e service.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, e)

	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Stage+":"+e.Action)
	}

	return out
}
