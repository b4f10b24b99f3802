// Package service 实现文件树一致性引擎：排序分配、节点变更、项目 fork 迁移、重复记录对账与回收站清理.
//
// 所有依赖以消费方接口声明，默认实现见 repository 与 storage 包；
// 数据库事务由 TxRunner 放在 ctx 上传递.
package service

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeisme/treevault/pkg/cache"
	"github.com/yeisme/treevault/pkg/configs"
	ctxPkg "github.com/yeisme/treevault/pkg/context"
	"github.com/yeisme/treevault/pkg/idgen"
	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/repository"
	"github.com/yeisme/treevault/pkg/internal/storage/s3"
	"github.com/yeisme/treevault/pkg/internal/storage/sandbox"
	nlog "github.com/yeisme/treevault/pkg/log"
)

// NodeStore 文件树持久化.
type NodeStore interface {
	GetByID(ctx context.Context, fileID string) (*model.FileNode, error)
	GetLiveByKey(ctx context.Context, projectID, fileKey string) (*model.FileNode, error)
	ListByKey(ctx context.Context, projectID, fileKey string) ([]model.FileNode, error)
	GetRoot(ctx context.Context, projectID string) (*model.FileNode, error)
	ListChildren(ctx context.Context, q repository.ChildrenQuery) ([]model.FileNode, error)
	FindChild(ctx context.Context, projectID, parentID, name string) (*model.FileNode, error)
	ListDescendants(ctx context.Context, q repository.DescendantsQuery) ([]model.FileNode, error)
	ListAfter(ctx context.Context, q repository.CursorQuery) ([]model.FileNode, error)
	CountLive(ctx context.Context, projectID string) (int64, error)
	ExistingLiveIDs(ctx context.Context, ids []string) ([]string, error)

	Create(ctx context.Context, nodes ...*model.FileNode) error
	Update(ctx context.Context, fileID string, fields map[string]any) error
	BatchUpdateSort(ctx context.Context, updates []repository.SortUpdate) error
	UpdateParent(ctx context.Context, ids []string, parentID string) (int64, error)
	RewireChildren(ctx context.Context, projectID string, fromIDs []string, toID string) (int64, error)
	Tombstone(ctx context.Context, ids []string, at time.Time) (int64, error)
	HardDelete(ctx context.Context, ids []string) (int64, error)
	SetIsDirectory(ctx context.Context, projectID, fileKey string, isDir bool) (int64, error)

	DuplicateKeys(ctx context.Context, q repository.DuplicateKeyQuery) ([]repository.DuplicateKey, error)
	ListOrphans(ctx context.Context, q repository.OrphanQuery) ([]model.FileNode, error)
	ProjectsWithDuplicates(ctx context.Context) ([]string, error)

	ListTombstones(ctx context.Context, projectID string, page, size int) ([]model.FileNode, int64, error)
	ListTombstonesBefore(ctx context.Context, projectID string, before time.Time, limit int) ([]model.FileNode, error)
}

// ProjectStore 项目只读访问.
type ProjectStore interface {
	Get(ctx context.Context, projectID string) (*model.Project, error)
	ListIDs(ctx context.Context) ([]string, error)
}

// ForkJobStore fork 任务持久化.
type ForkJobStore interface {
	Create(ctx context.Context, job *model.ForkJob) error
	Get(ctx context.Context, jobID string) (*model.ForkJob, error)
	Update(ctx context.Context, jobID string, fields map[string]any) error
	ListByStatus(ctx context.Context, status model.ForkStatus, limit int) ([]model.ForkJob, error)
}

// TxRunner 在事务中执行 fn，事务随 ctx 传递.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ObjectStorage 对象存储，所有调用按组织隔离凭据.
type ObjectStorage interface {
	CreateFolder(ctx context.Context, orgCode, key string) error
	CreateObject(ctx context.Context, orgCode, key string, body []byte) error
	HeadObject(ctx context.Context, orgCode, key string) (*s3.ObjectStat, error)
	CopyObject(ctx context.Context, srcOrg, srcKey, dstOrg, dstKey string) error
	RenameObject(ctx context.Context, orgCode, srcKey, dstKey string) error
	DeleteObject(ctx context.Context, orgCode, key string) error
}

// RemoteCopier 沙箱网关，负责对象存储无法直接完成的跨组织复制.
type RemoteCopier interface {
	CopyObject(ctx context.Context, req sandbox.CopyRequest) error
}

// Locker 项目级自旋锁.
type Locker interface {
	ProjectKey(projectID string) string
	SpinLock(ctx context.Context, key, owner string, timeout time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) (bool, error)
	KeepAlive(ctx context.Context, owner string, keys []string) (stop func())
}

// Deps 引擎依赖.Remote、Publisher、Cache 可以为空.
type Deps struct {
	Nodes    NodeStore
	Projects ProjectStore
	Jobs     ForkJobStore
	Tx       TxRunner
	Objects  ObjectStorage
	Remote   RemoteCopier
	Locker   Locker
	IDs      idgen.Generator
	Audit    AuditSink

	Publisher message.Publisher
	Cache     *cache.Cache

	Tree   configs.TreeConfig
	Lock   configs.LockConfig
	Events configs.EventsConfig
	Log    configs.LogConfig
}

// NewDeps 从 ctx 上的存储管理器组装默认依赖.
func NewDeps(ctx context.Context) Deps {
	mgr := ctxPkg.GetManager(ctx)
	if mgr == nil || mgr.GetDBClient() == nil {
		nlog.Logger().Fatal().Msg("storage clients not initialized")
	}

	cfg := configs.GetConfig()
	gdb := mgr.GetDBClient().GetDB()

	d := Deps{
		Nodes:    repository.NewNodeRepository(gdb),
		Projects: repository.NewProjectRepository(gdb),
		Jobs:     repository.NewForkJobRepository(gdb),
		Tx:       repository.NewTxManager(gdb),
		Objects:  mgr.GetS3Client(),
		Locker:   mgr.GetLocker(),
		IDs:      idgen.New(),
		Audit:    NewFileAuditSink(cfg.Tree.Dedup.AuditFile, cfg.Log),
		Tree:     cfg.Tree,
		Lock:     cfg.Lock,
		Events:   cfg.Events,
		Log:      cfg.Log,
	}

	if sb := mgr.GetSandboxClient(); sb != nil {
		d.Remote = sb
	}

	if mqc := mgr.GetMQClient(); mqc != nil {
		d.Publisher = mqc.Publisher()
	}

	if kvc := mgr.GetKVClient(); kvc != nil {
		d.Cache = cache.NewCache(kvc, "treevault.cache")
	}

	return d
}

func traceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}

	return sc.TraceID().String()
}

func sandboxRequest(srcOrg, srcKey, dstOrg, dstKey, userID string) sandbox.CopyRequest {
	return sandbox.CopyRequest{
		SourceOrg: srcOrg,
		SourceKey: srcKey,
		TargetOrg: dstOrg,
		TargetKey: dstKey,
		UserID:    userID,
	}
}

// Engine 持有进程内共享的服务实例.ForkService 跟踪后台任务，需要在整个进程内复用.
type Engine struct {
	Tree  *TreeService
	Fork  *ForkService
	Dedup *DedupService
	Trash *TrashService
}

// NewEngine 基于同一组依赖创建全部服务.
func NewEngine(deps Deps) *Engine {
	tree := NewTreeService(deps)

	return &Engine{
		Tree:  tree,
		Fork:  NewForkService(deps, tree),
		Dedup: NewDedupService(deps),
		Trash: NewTrashService(deps),
	}
}
