package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/yeisme/treevault/pkg/internal/model"
)

// ForkJobRepository ForkJob 仓储.
type ForkJobRepository struct {
	base
}

func NewForkJobRepository(db *gorm.DB) *ForkJobRepository {
	return &ForkJobRepository{base{db: db}}
}

// Create 插入任务.
func (r *ForkJobRepository) Create(ctx context.Context, job *model.ForkJob) error {
	return r.conn(ctx).Create(job).Error
}

// Get 获取任务.
func (r *ForkJobRepository) Get(ctx context.Context, jobID string) (*model.ForkJob, error) {
	var job model.ForkJob
	if err := r.conn(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, notFound(err)
	}

	return &job, nil
}

// Update 更新任务的指定列.
func (r *ForkJobRepository) Update(ctx context.Context, jobID string, fields map[string]any) error {
	tx := r.conn(ctx).Model(&model.ForkJob{}).Where("job_id = ?", jobID).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}

	if tx.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListByStatus 按状态列出任务，新任务在前.
func (r *ForkJobRepository) ListByStatus(ctx context.Context, status model.ForkStatus, limit int) ([]model.ForkJob, error) {
	var jobs []model.ForkJob
	err := r.conn(ctx).Where("status = ?", status).Order("job_id DESC").Limit(limit).Find(&jobs).Error

	return jobs, err
}
