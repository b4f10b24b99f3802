package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/treevault/pkg/internal/model"
)

// ChildrenQuery 子节点查询.
type ChildrenQuery struct {
	ProjectID string
	ParentID  string
	// ExcludeID 排除正在移动的节点
	ExcludeID string
	// ForUpdate 对父节点的全部子节点加行锁
	ForUpdate bool
}

// DescendantsQuery 按 key 前缀分页扫描后代，游标为 file_id.
type DescendantsQuery struct {
	ProjectID string
	Prefix    string
	AfterID   string
	Limit     int
}

// CursorQuery 按 file_id 游标分页扫描项目内节点.
type CursorQuery struct {
	ProjectID string
	AfterID   string
	Limit     int
}

// SortUpdate 单个节点的新排序值.
type SortUpdate struct {
	FileID string
	Sort   int64
}

// NodeRepository FileNode 仓储.
type NodeRepository struct {
	base
}

func NewNodeRepository(db *gorm.DB) *NodeRepository {
	return &NodeRepository{base{db: db}}
}

func (r *NodeRepository) live(ctx context.Context, projectID string) *gorm.DB {
	return r.conn(ctx).Model(&model.FileNode{}).
		Where("project_id = ? AND status = ?", projectID, model.NodeLive)
}

// GetByID 按 ID 获取节点，不区分状态.
func (r *NodeRepository) GetByID(ctx context.Context, fileID string) (*model.FileNode, error) {
	var n model.FileNode
	if err := r.conn(ctx).Where("file_id = ?", fileID).First(&n).Error; err != nil {
		return nil, notFound(err)
	}

	return &n, nil
}

// GetLiveByKey 获取项目内指定 key 的有效节点，存在重复时返回 file_id 最小的一条.
func (r *NodeRepository) GetLiveByKey(ctx context.Context, projectID, fileKey string) (*model.FileNode, error) {
	var n model.FileNode

	err := r.live(ctx, projectID).Where("file_key = ?", fileKey).Order("file_id ASC").First(&n).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &n, nil
}

// ListByKey 返回项目内指定 key 的全部记录（含墓碑）.
func (r *NodeRepository) ListByKey(ctx context.Context, projectID, fileKey string) ([]model.FileNode, error) {
	var rows []model.FileNode

	err := r.conn(ctx).Where("project_id = ? AND file_key = ?", projectID, fileKey).
		Order("file_id ASC").Find(&rows).Error

	return rows, err
}

// GetRoot 返回项目根节点.
func (r *NodeRepository) GetRoot(ctx context.Context, projectID string) (*model.FileNode, error) {
	var n model.FileNode

	err := r.live(ctx, projectID).Where("parent_id IS NULL").Order("file_id ASC").First(&n).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &n, nil
}

// ListChildren 返回父节点下的有效子节点，按 sort、created_at 升序.
func (r *NodeRepository) ListChildren(ctx context.Context, q ChildrenQuery) ([]model.FileNode, error) {
	dbx := r.live(ctx, q.ProjectID).Where("parent_id = ?", q.ParentID)
	if q.ExcludeID != "" {
		dbx = dbx.Where("file_id <> ?", q.ExcludeID)
	}

	if q.ForUpdate {
		dbx = dbx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var rows []model.FileNode
	err := dbx.Order("sort ASC").Order("created_at ASC").Order("file_id ASC").Find(&rows).Error

	return rows, err
}

// FindChild 按名称查找父节点下的有效子节点.
func (r *NodeRepository) FindChild(ctx context.Context, projectID, parentID, name string) (*model.FileNode, error) {
	var n model.FileNode

	err := r.live(ctx, projectID).Where("parent_id = ? AND file_name = ?", parentID, name).
		Order("file_id ASC").First(&n).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &n, nil
}

// ListDescendants 按前缀分页返回有效后代，不含前缀本身.
func (r *NodeRepository) ListDescendants(ctx context.Context, q DescendantsQuery) ([]model.FileNode, error) {
	dbx := r.live(ctx, q.ProjectID).Where(likePrefix(q.Prefix)).Where("file_key <> ?", q.Prefix)
	if q.AfterID != "" {
		dbx = dbx.Where("file_id > ?", q.AfterID)
	}

	var rows []model.FileNode
	err := dbx.Order("file_id ASC").Limit(q.Limit).Find(&rows).Error

	return rows, err
}

// ListAfter 按 file_id 游标分页返回项目内有效节点.
func (r *NodeRepository) ListAfter(ctx context.Context, q CursorQuery) ([]model.FileNode, error) {
	dbx := r.live(ctx, q.ProjectID)
	if q.AfterID != "" {
		dbx = dbx.Where("file_id > ?", q.AfterID)
	}

	var rows []model.FileNode
	err := dbx.Order("file_id ASC").Limit(q.Limit).Find(&rows).Error

	return rows, err
}

// CountLive 统计项目内有效节点数.
func (r *NodeRepository) CountLive(ctx context.Context, projectID string) (int64, error) {
	var total int64
	err := r.live(ctx, projectID).Count(&total).Error

	return total, err
}

// ExistingLiveIDs 返回 ids 中仍有效的节点 ID.
func (r *NodeRepository) ExistingLiveIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var out []string

	err := r.conn(ctx).Model(&model.FileNode{}).
		Where("file_id IN ? AND status = ?", ids, model.NodeLive).
		Pluck("file_id", &out).Error

	return out, err
}

// Create 插入节点.
func (r *NodeRepository) Create(ctx context.Context, nodes ...*model.FileNode) error {
	if len(nodes) == 0 {
		return nil
	}

	return r.conn(ctx).Create(nodes).Error
}

// Update 更新节点的指定列.
func (r *NodeRepository) Update(ctx context.Context, fileID string, fields map[string]any) error {
	tx := r.conn(ctx).Model(&model.FileNode{}).Where("file_id = ?", fileID).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}

	if tx.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// BatchUpdateSort 用一条 CASE 语句批量写入排序值.
func (r *NodeRepository) BatchUpdateSort(ctx context.Context, updates []SortUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	dbx := r.conn(ctx)
	cast := batchCast(dbx)

	var sb strings.Builder

	args := make([]any, 0, len(updates)*2)
	ids := make([]string, 0, len(updates))

	sb.WriteString("CASE file_id")

	for _, u := range updates {
		sb.WriteString(" WHEN ? THEN ")
		sb.WriteString(cast)

		args = append(args, u.FileID, u.Sort)
		ids = append(ids, u.FileID)
	}

	sb.WriteString(" ELSE sort END")

	return dbx.Model(&model.FileNode{}).Where("file_id IN ?", ids).
		Update("sort", gorm.Expr(sb.String(), args...)).Error
}

// UpdateParent 批量设置父节点.
func (r *NodeRepository) UpdateParent(ctx context.Context, ids []string, parentID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx := r.conn(ctx).Model(&model.FileNode{}).Where("file_id IN ?", ids).Update("parent_id", parentID)

	return tx.RowsAffected, tx.Error
}

// RewireChildren 把 fromIDs 的全部子节点（含墓碑）改挂到 toID.
func (r *NodeRepository) RewireChildren(ctx context.Context, projectID string, fromIDs []string, toID string) (int64, error) {
	if len(fromIDs) == 0 {
		return 0, nil
	}

	tx := r.conn(ctx).Model(&model.FileNode{}).
		Where("project_id = ? AND parent_id IN ?", projectID, fromIDs).
		Update("parent_id", toID)

	return tx.RowsAffected, tx.Error
}

// Tombstone 标记删除.
func (r *NodeRepository) Tombstone(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx := r.conn(ctx).Model(&model.FileNode{}).
		Where("file_id IN ? AND status = ?", ids, model.NodeLive).
		Updates(map[string]any{"status": model.NodeTombstone, "deleted_at": at})

	return tx.RowsAffected, tx.Error
}

// HardDelete 物理删除.
func (r *NodeRepository) HardDelete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx := r.conn(ctx).Where("file_id IN ?", ids).Delete(&model.FileNode{})

	return tx.RowsAffected, tx.Error
}

// SetIsDirectory 把项目内指定 key 的全部记录的目录标记设为 isDir.
func (r *NodeRepository) SetIsDirectory(ctx context.Context, projectID, fileKey string, isDir bool) (int64, error) {
	tx := r.conn(ctx).Model(&model.FileNode{}).
		Where("project_id = ? AND file_key = ? AND is_directory <> ?", projectID, fileKey, isDir).
		Update("is_directory", isDir)

	return tx.RowsAffected, tx.Error
}

// ListTombstones 分页返回项目墓碑，按删除时间倒序.
func (r *NodeRepository) ListTombstones(ctx context.Context, projectID string, page, size int) ([]model.FileNode, int64, error) {
	dbx := r.conn(ctx).Model(&model.FileNode{}).Where("project_id = ? AND status = ?", projectID, model.NodeTombstone)

	var total int64
	if err := dbx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []model.FileNode
	if err := dbx.Order("deleted_at DESC").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	return rows, total, nil
}

// ListTombstonesBefore 返回删除时间早于 before 的墓碑.
func (r *NodeRepository) ListTombstonesBefore(ctx context.Context, projectID string, before time.Time, limit int) ([]model.FileNode, error) {
	var rows []model.FileNode

	err := r.conn(ctx).Where("project_id = ? AND status = ? AND deleted_at < ?", projectID, model.NodeTombstone, before).
		Order("file_id ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list tombstones: %w", err)
	}

	return rows, nil
}
