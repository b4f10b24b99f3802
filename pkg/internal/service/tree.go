package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yeisme/treevault/pkg/configs"
	"github.com/yeisme/treevault/pkg/internal/model"
	"github.com/yeisme/treevault/pkg/internal/repository"
	nlog "github.com/yeisme/treevault/pkg/log"
	"github.com/yeisme/treevault/pkg/pathkey"
	"github.com/yeisme/treevault/pkg/queue"
	"github.com/yeisme/treevault/pkg/tracing"
)

// TreeService 负责单节点的创建、移动、复制、重命名与删除，维护树结构与兄弟排序.
type TreeService struct {
	deps   Deps
	sorter *SortAllocator
	logger zerolog.Logger
	now    func() time.Time
}

// NewTreeService 创建 TreeService.
func NewTreeService(deps Deps) *TreeService {
	return &TreeService{
		deps:   deps,
		sorter: NewSortAllocator(deps.Tree.Sort, deps.Nodes),
		logger: nlog.Component("tree"),
		now:    time.Now,
	}
}

// Sorter 返回排序分配器.
func (s *TreeService) Sorter() *SortAllocator { return s.sorter }

// ListChildren 返回父节点下的有效子节点，parentID 为空时列出根目录.
func (s *TreeService) ListChildren(ctx context.Context, projectID, parentID string) ([]model.FileNode, error) {
	ctx, span := tracing.StartSpan(ctx, "TreeService.ListChildren")
	defer span.End()

	if projectID == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrInvalidArgument)
	}

	if parentID == "" {
		root, err := s.deps.Nodes.GetRoot(ctx, projectID)
		if err != nil {
			return nil, classify(err)
		}

		parentID = root.FileID
	}

	rows, err := s.deps.Nodes.ListChildren(ctx, repository.ChildrenQuery{ProjectID: projectID, ParentID: parentID})

	return rows, classify(err)
}

// Get 返回有效节点.
func (s *TreeService) Get(ctx context.Context, fileID string) (*model.FileNode, error) {
	n, err := s.deps.Nodes.GetByID(ctx, fileID)
	if err != nil {
		return nil, classify(err)
	}

	if !n.IsLive() {
		return nil, fmt.Errorf("%w: node %s is deleted", ErrNotFound, fileID)
	}

	return n, nil
}

// withProjectLocks 按排序后的顺序获取全部项目锁，避免死锁；fn 返回后逆序释放.
func (s *TreeService) withProjectLocks(ctx context.Context, projectIDs []string, fn func(ctx context.Context) error) error {
	ids := slices.Clone(projectIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	ctx, span := tracing.StartSpan(ctx, "TreeService.projectLocks",
		trace.WithAttributes(attribute.StringSlice("treevault.projects", ids)))
	defer span.End()

	owner := s.deps.IDs.NewID()
	timeout := s.deps.Lock.GetTimeout()

	if timeout <= 0 {
		timeout = configs.DefaultLockTimeoutSeconds * time.Second
	}

	held := make([]string, 0, len(ids))

	defer func() {
		// 释放不使用调用方 ctx，避免请求取消后锁残留到 TTL
		rctx := context.WithoutCancel(ctx)
		for i := len(held) - 1; i >= 0; i-- {
			if ok, err := s.deps.Locker.Release(rctx, held[i], owner); err != nil || !ok {
				s.logger.Warn().Err(err).Str("key", held[i]).Msg("释放项目锁失败")
			}
		}
	}()

	for _, id := range ids {
		key := s.deps.Locker.ProjectKey(id)

		ok, err := s.deps.Locker.SpinLock(ctx, key, owner, timeout)
		if err != nil {
			return tracing.Record(span, classify(err))
		}

		if !ok {
			return tracing.Record(span, fmt.Errorf("%w: project %s", ErrBusy, id))
		}

		held = append(held, key)
	}

	// 目录重命名与跨组织移动可能超过 TTL，持有期间持续续期
	stop := s.deps.Locker.KeepAlive(ctx, owner, held)
	defer stop()

	return tracing.Record(span, fn(ctx))
}

// loadProject 读取项目，项目没有登记时返回 ErrNotFound.
func (s *TreeService) loadProject(ctx context.Context, projectID string) (*model.Project, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrInvalidArgument)
	}

	p, err := s.deps.Projects.Get(ctx, projectID)
	if err != nil {
		return nil, classify(fmt.Errorf("project %s: %w", projectID, err))
	}

	return p, nil
}

// rootKey 返回项目根目录 key.
func rootKey(p *model.Project) string {
	return pathkey.AsDir(strings.Join(pathkey.Split(p.WorkDir), pathkey.Separator))
}

// checkWithin key 必须位于项目工作目录之下且不能是根目录本身.
func checkWithin(p *model.Project, key string) error {
	root := rootKey(p)
	if !pathkey.HasPrefix(key, root) || len(pathkey.Split(key)) <= len(pathkey.Split(root)) {
		return fmt.Errorf("%w: %q is outside project %s", ErrIllegalPath, key, p.ProjectID)
	}

	return nil
}

// EnsureRoot 返回项目根目录，不存在时创建.根目录是唯一 parent_id 为空的节点.
func (s *TreeService) EnsureRoot(ctx context.Context, p *model.Project) (*model.FileNode, error) {
	root, err := s.deps.Nodes.GetRoot(ctx, p.ProjectID)
	if err == nil {
		return root, nil
	}

	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	key := rootKey(p)
	if err := s.deps.Objects.CreateFolder(ctx, p.OrganizationCode, key); err != nil {
		return nil, backingStore("create folder", key, err)
	}

	root = &model.FileNode{
		FileID:           s.deps.IDs.NewID(),
		ProjectID:        p.ProjectID,
		OrganizationCode: p.OrganizationCode,
		UserID:           p.UserID,
		FileKey:          key,
		FileName:         pathkey.Base(key),
		IsDirectory:      true,
		StorageType:      model.StorageWorkspace,
		Source:           model.SourceUser,
		Status:           model.NodeLive,
	}

	if err := s.deps.Nodes.Create(ctx, root); err != nil {
		return nil, err
	}

	s.logger.Info().Str("project_id", p.ProjectID).Str("file_key", key).Msg("创建项目根目录")

	return root, nil
}

// placeAfter 计算插入位置.predecessorID 为空表示追加到末尾，显式的 "0"、"-1"、"null" 表示插入到最前.
func (s *TreeService) placeAfter(ctx context.Context, projectID, parentID, predecessorID, excludeID string) (int64, error) {
	if predecessorID == "" {
		return s.sorter.Append(ctx, projectID, parentID, excludeID)
	}

	return s.sorter.Place(ctx, projectID, parentID, predecessorID, excludeID)
}

// pendingDir 目录自动补齐时待创建的目录.
type pendingDir struct {
	key  string
	name string
}

// planDirectories 自上而下遍历 dirKey 的路径段，返回已存在的最深目录与需要补齐的目录.
func (s *TreeService) planDirectories(ctx context.Context, p *model.Project, root *model.FileNode, dirKey string) (*model.FileNode, []pendingDir, error) {
	segs, ok := pathkey.Rel(dirKey, rootKey(p))
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q is outside project %s", ErrIllegalPath, dirKey, p.ProjectID)
	}

	cur := root

	for i, seg := range segs {
		child, err := s.deps.Nodes.FindChild(ctx, p.ProjectID, cur.FileID, seg)
		if errors.Is(err, repository.ErrNotFound) {
			missing := make([]pendingDir, 0, len(segs)-i)
			for j := i; j < len(segs); j++ {
				key := pathkey.AsDir(pathkey.Join(rootKey(p), segs[:j+1]...))
				missing = append(missing, pendingDir{key: key, name: segs[j]})
			}

			return cur, missing, nil
		}

		if err != nil {
			return nil, nil, err
		}

		if !child.IsDirectory {
			return nil, nil, fmt.Errorf("%w: %q is a file", ErrConflict, child.FileKey)
		}

		cur = child
	}

	return cur, nil, nil
}

// createDirectories 在事务内插入 planDirectories 规划出的目录，返回最深一级目录.
func (s *TreeService) createDirectories(ctx context.Context, p *model.Project, parent *model.FileNode, missing []pendingDir, userID string) ([]*model.FileNode, error) {
	created := make([]*model.FileNode, 0, len(missing))

	for _, d := range missing {
		sort, err := s.sorter.Append(ctx, p.ProjectID, parent.FileID, "")
		if err != nil {
			return nil, err
		}

		parentID := parent.FileID
		node := &model.FileNode{
			FileID:           s.deps.IDs.NewID(),
			ProjectID:        p.ProjectID,
			OrganizationCode: p.OrganizationCode,
			UserID:           userID,
			FileKey:          d.key,
			FileName:         d.name,
			ParentID:         &parentID,
			IsDirectory:      true,
			Sort:             sort,
			StorageType:      model.StorageWorkspace,
			Source:           model.SourceUser,
			Status:           model.NodeLive,
		}

		if err := s.deps.Nodes.Create(ctx, node); err != nil {
			return nil, err
		}

		created = append(created, node)
		parent = node
	}

	return created, nil
}

// collectSubtree 按 file_id 游标分页读出目录的全部有效后代.
func (s *TreeService) collectSubtree(ctx context.Context, projectID, dirKey string) ([]model.FileNode, error) {
	page := s.pageSize()

	var (
		out    []model.FileNode
		cursor string
	)

	for {
		rows, err := s.deps.Nodes.ListDescendants(ctx, repository.DescendantsQuery{
			ProjectID: projectID,
			Prefix:    pathkey.AsDir(dirKey),
			AfterID:   cursor,
			Limit:     page,
		})
		if err != nil {
			return nil, err
		}

		out = append(out, rows...)

		if len(rows) < page {
			return out, nil
		}

		cursor = rows[len(rows)-1].FileID
	}
}

func (s *TreeService) pageSize() int {
	if s.deps.Tree.Rename.PageSize > 0 {
		return s.deps.Tree.Rename.PageSize
	}

	return configs.DefaultRenamePageSize
}

// resolveName 处理目标路径冲突，返回最终名称以及需要覆盖的节点.
func (s *TreeService) resolveName(ctx context.Context, projectID string, parent *model.FileNode, name string, isDir bool,
	selfID string, strategy ConflictStrategy,
) (string, *model.FileNode, error) {
	key := childKey(parent.FileKey, name, isDir)

	existing, err := s.findLive(ctx, projectID, key)
	if err != nil {
		return "", nil, err
	}

	if existing == nil || existing.FileID == selfID {
		return name, nil, nil
	}

	switch strategy {
	case ConflictOverwrite:
		return name, existing, nil
	case ConflictKeepBoth:
		for i := 1; i <= keepBothProbes; i++ {
			candidate := pathkey.Decorate(name, i)

			hit, err := s.findLive(ctx, projectID, childKey(parent.FileKey, candidate, isDir))
			if err != nil {
				return "", nil, err
			}

			if hit == nil {
				return candidate, nil, nil
			}
		}

		return pathkey.DecorateTimestamp(name, s.now()), nil, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrConflict, key)
	}
}

func (s *TreeService) findLive(ctx context.Context, projectID, key string) (*model.FileNode, error) {
	n, err := s.deps.Nodes.GetLiveByKey(ctx, projectID, key)
	if errors.Is(err, repository.ErrNotFound) {
		// 目录与文件 key 只差结尾分隔符，两种形式都算占用
		n, err = s.deps.Nodes.GetLiveByKey(ctx, projectID, toggleDirKey(key))
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
	}

	return n, err
}

// tombstoneSubtree 把节点及其全部有效后代标记删除，返回后代数量.
func (s *TreeService) tombstoneSubtree(ctx context.Context, n *model.FileNode, at time.Time) (int, error) {
	ids := []string{n.FileID}

	if n.IsDirectory {
		desc, err := s.collectSubtree(ctx, n.ProjectID, n.FileKey)
		if err != nil {
			return 0, err
		}

		for i := range desc {
			ids = append(ids, desc[i].FileID)
		}
	}

	if _, err := s.deps.Nodes.Tombstone(ctx, ids, at); err != nil {
		return 0, err
	}

	return len(ids) - 1, nil
}

// copyObject 同组织直接复制，跨组织在配置了网关时走沙箱网关.
func (s *TreeService) copyObject(ctx context.Context, srcOrg, srcKey, dstOrg, dstKey, userID string) error {
	if srcOrg != dstOrg && s.deps.Remote != nil {
		return s.deps.Remote.CopyObject(ctx, sandboxRequest(srcOrg, srcKey, dstOrg, dstKey, userID))
	}

	return s.deps.Objects.CopyObject(ctx, srcOrg, srcKey, dstOrg, dstKey)
}

// inheritMetadata 父目录下存在索引文件时继承其元数据.
func (s *TreeService) inheritMetadata(ctx context.Context, projectID, parentID string) string {
	for _, name := range s.deps.Tree.IndexFiles {
		idx, err := s.deps.Nodes.FindChild(ctx, projectID, parentID, name)
		if err == nil && idx.Metadata != "" {
			return idx.Metadata
		}
	}

	return ""
}

func childKey(parentKey, name string, isDir bool) string {
	key := pathkey.Join(parentKey, name)
	if isDir {
		return pathkey.AsDir(key)
	}

	return key
}

func toggleDirKey(key string) string {
	if pathkey.IsDirKey(key) {
		return pathkey.AsFile(key)
	}

	return pathkey.AsDir(key)
}

func nodeRef(n *model.FileNode) queue.NodeRef {
	return queue.NodeRef{
		FileID:           n.FileID,
		ProjectID:        n.ProjectID,
		OrganizationCode: n.OrganizationCode,
		FileKey:          n.FileKey,
		ParentID:         n.ParentIDValue(),
		IsDirectory:      n.IsDirectory,
	}
}

// emit 发布事件，失败只记录日志.
func (s *TreeService) emit(enabled bool, topic string, publish func() error) {
	if !s.deps.Events.Enabled || !enabled || s.deps.Publisher == nil {
		return
	}

	if err := publish(); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("发布事件失败")
	}
}

func (s *TreeService) headerOpts(ctx context.Context) []func(*queue.EventHeader) {
	opts := []func(*queue.EventHeader){queue.WithProducer(s.deps.Events.Producer)}
	if id := traceID(ctx); id != "" {
		opts = append(opts, queue.WithTraceID(id))
	}

	return opts
}
