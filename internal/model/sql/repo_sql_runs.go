package sql

import (
	"atelier/internal/entity"
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// CreatePipelineRun persists a new pipeline run record.
func (r *GormRepository) CreatePipelineRun(ctx context.Context, run *entity.DbPipelineRun) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	return r.db.WithContext(ctx).Create(run).Error
}

// UpdatePipelineRun 部分更新一次运行的遥测字段。
func (r *GormRepository) UpdatePipelineRun(ctx context.Context, id string, updates entity.RunUpdates) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("invalid run id")
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbPipelineRun{}).Where("id = ?", trimmed).Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetPipelineRun loads a run by ID.
func (r *GormRepository) GetPipelineRun(ctx context.Context, id string) (*entity.DbPipelineRun, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("invalid run id")
	}
	var run entity.DbPipelineRun
	if err := r.db.WithContext(ctx).Preload("User").Where("id = ?", trimmed).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ListPipelineRuns returns paginated runs, newest first.
func (r *GormRepository) ListPipelineRuns(ctx context.Context, params *entity.RunQuery) ([]entity.DbPipelineRun, *entity.Meta, error) {
	if r == nil || r.db == nil {
		return nil, nil, fmt.Errorf("repository not initialised")
	}

	query := r.db.WithContext(ctx).Model(&entity.DbPipelineRun{})
	if params != nil {
		if !params.IncludeAll && params.UserID > 0 {
			query = query.Where("user_id = ?", params.UserID)
		}
		if provider := strings.TrimSpace(params.Provider); provider != "" {
			query = query.Where("provider_id = ?", provider)
		}
		if status := strings.TrimSpace(params.Status); status != "" {
			query = query.Where("status = ?", status)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	page := 1
	pageSize := 20
	if params != nil {
		if params.Page > 0 {
			page = int(params.Page)
		}
		if params.PageSize > 0 {
			pageSize = int(params.PageSize)
		}
	}

	offset := (page - 1) * pageSize
	if offset < 0 {
		offset = 0
	}

	var runs []entity.DbPipelineRun
	if err := query.Preload("User").Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&runs).Error; err != nil {
		return nil, nil, err
	}

	meta := r.calculatePagination(total, page, pageSize)
	return runs, meta, nil
}

// ProviderRunStats 返回某后端在窗口内所有已结束运行的废弃率与平均质量。
// 只计入真实产出过候选的运行，避免空跑污染统计。
func (r *GormRepository) ProviderRunStats(ctx context.Context, providerID string, since time.Time) ([]entity.ProviderRunStats, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	trimmed := strings.TrimSpace(providerID)
	if trimmed == "" {
		return nil, fmt.Errorf("provider id is empty")
	}

	var stats []entity.ProviderRunStats
	err := r.db.WithContext(ctx).
		Model(&entity.DbPipelineRun{}).
		Select("discard_rate, avg_quality").
		Where("provider_id = ?", trimmed).
		Where("status IN ?", []string{entity.RunStatusCompleted, entity.RunStatusDegraded}).
		Where("generated_count > 0").
		Where("created_at >= ?", since).
		Order("created_at DESC").
		Find(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}
