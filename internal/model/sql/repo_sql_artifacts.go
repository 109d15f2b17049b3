package sql

import (
	"atelier/internal/entity"
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// CreateArtifacts 批量写入候选产物。
func (r *GormRepository) CreateArtifacts(ctx context.Context, artifacts []*entity.DbArtifact) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if len(artifacts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(artifacts, 50).Error
}

// UpdateArtifact 部分更新一个产物。
func (r *GormRepository) UpdateArtifact(ctx context.Context, id string, updates entity.ArtifactUpdates) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("invalid artifact id")
	}
	if updates.IsEmpty() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entity.DbArtifact{}).Where("id = ?", trimmed).Updates(updates.ToMap())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetArtifact loads an artifact by ID.
func (r *GormRepository) GetArtifact(ctx context.Context, id string) (*entity.DbArtifact, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, fmt.Errorf("invalid artifact id")
	}
	var artifact entity.DbArtifact
	if err := r.db.WithContext(ctx).Where("id = ?", trimmed).First(&artifact).Error; err != nil {
		return nil, err
	}
	return &artifact, nil
}

// ListRunArtifacts 返回一次运行的全部产物，按创建顺序。
func (r *GormRepository) ListRunArtifacts(ctx context.Context, runID string) ([]entity.DbArtifact, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	trimmed := strings.TrimSpace(runID)
	if trimmed == "" {
		return nil, fmt.Errorf("invalid run id")
	}
	var artifacts []entity.DbArtifact
	if err := r.db.WithContext(ctx).Where("run_id = ?", trimmed).Order("created_at ASC, id ASC").Find(&artifacts).Error; err != nil {
		return nil, err
	}
	return artifacts, nil
}
