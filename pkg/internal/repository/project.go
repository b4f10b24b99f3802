package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/yeisme/treevault/pkg/internal/model"
)

// ProjectRepository Project 仓储.
type ProjectRepository struct {
	base
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{base{db: db}}
}

// Get 获取项目.
func (r *ProjectRepository) Get(ctx context.Context, projectID string) (*model.Project, error) {
	var p model.Project
	if err := r.conn(ctx).Where("project_id = ?", projectID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}

	return &p, nil
}

// Save 新建或更新项目.
func (r *ProjectRepository) Save(ctx context.Context, p *model.Project) error {
	return r.conn(ctx).Save(p).Error
}

// ListIDs 返回全部项目 ID.
func (r *ProjectRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.conn(ctx).Model(&model.Project{}).Order("project_id ASC").Pluck("project_id", &ids).Error

	return ids, err
}
