package repository

import (
	"context"

	"github.com/yeisme/treevault/pkg/internal/model"
)

// DuplicateClass 重复 key 的分类.
type DuplicateClass string

const (
	// DuplicateDeleted 全部副本均为墓碑.
	DuplicateDeleted DuplicateClass = "deleted_keys"
	// DuplicateDirectory 至少一个有效副本，且存在目录标记.
	DuplicateDirectory DuplicateClass = "directories"
	// DuplicateFile 至少一个有效副本，且全部为文件.
	DuplicateFile DuplicateClass = "files"
	// InconsistentFlag 同一 key 的目录标记不一致，不要求重复.
	InconsistentFlag DuplicateClass = "is_directory"
)

// DuplicateKeyQuery 重复 key 查询，始终从 offset 0 开始.
type DuplicateKeyQuery struct {
	ProjectID string
	Class     DuplicateClass
	Limit     int
}

// DuplicateKey 重复 key 统计行.
type DuplicateKey struct {
	FileKey   string `gorm:"column:file_key"`
	Total     int64  `gorm:"column:total"`
	LiveTotal int64  `gorm:"column:live_total"`
	MaxIsDir  int64  `gorm:"column:max_is_dir"`
	MinIsDir  int64  `gorm:"column:min_is_dir"`
}

const (
	sqlIsDir = "CASE WHEN is_directory THEN 1 ELSE 0 END"
	sqlLive  = "CASE WHEN status = 'live' THEN 1 ELSE 0 END"
)

// DuplicateKeys 按分类返回一批问题 key.
func (r *NodeRepository) DuplicateKeys(ctx context.Context, q DuplicateKeyQuery) ([]DuplicateKey, error) {
	dbx := r.conn(ctx).Model(&model.FileNode{}).
		Select("file_key, COUNT(*) AS total, SUM("+sqlLive+") AS live_total, MAX("+sqlIsDir+") AS max_is_dir, MIN("+sqlIsDir+") AS min_is_dir").
		Where("project_id = ?", q.ProjectID).
		Group("file_key")

	switch q.Class {
	case DuplicateDeleted:
		dbx = dbx.Having("COUNT(*) > 1 AND SUM(" + sqlLive + ") = 0")
	case DuplicateDirectory:
		dbx = dbx.Having("COUNT(*) > 1 AND SUM(" + sqlLive + ") > 0 AND MAX(" + sqlIsDir + ") = 1")
	case DuplicateFile:
		dbx = dbx.Having("COUNT(*) > 1 AND SUM(" + sqlLive + ") > 0 AND MAX(" + sqlIsDir + ") = 0")
	case InconsistentFlag:
		dbx = dbx.Having("MIN(" + sqlIsDir + ") <> MAX(" + sqlIsDir + ")")
	}

	var rows []DuplicateKey
	err := dbx.Order("file_key ASC").Limit(q.Limit).Scan(&rows).Error

	return rows, err
}

// OrphanQuery 孤儿节点查询，游标为 file_id.
type OrphanQuery struct {
	ProjectID string
	AfterID   string
	Limit     int
}

// ListOrphans 返回父节点不存在或已删除的有效非根节点.
func (r *NodeRepository) ListOrphans(ctx context.Context, q OrphanQuery) ([]model.FileNode, error) {
	dbx := r.conn(ctx).Table("file_nodes AS n").
		Select("n.*").
		Joins("LEFT JOIN file_nodes AS p ON p.file_id = n.parent_id AND p.status = ?", model.NodeLive).
		Where("n.project_id = ? AND n.status = ? AND n.parent_id IS NOT NULL AND p.file_id IS NULL", q.ProjectID, model.NodeLive)
	if q.AfterID != "" {
		dbx = dbx.Where("n.file_id > ?", q.AfterID)
	}

	var rows []model.FileNode
	err := dbx.Order("n.file_id ASC").Limit(q.Limit).Scan(&rows).Error

	return rows, err
}

// ProjectsWithDuplicates 返回存在重复 key 的项目.
func (r *NodeRepository) ProjectsWithDuplicates(ctx context.Context) ([]string, error) {
	var rows []string

	err := r.conn(ctx).Model(&model.FileNode{}).
		Group("project_id, file_key").
		Having("COUNT(*) > 1").
		Pluck("project_id", &rows).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))

	for _, id := range rows {
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return ids, nil
}
