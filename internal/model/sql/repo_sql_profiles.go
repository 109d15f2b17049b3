package sql

import (
	"atelier/internal/entity"
	"context"
	"fmt"
)

// CreateStyleProfile 新建用户画像。
func (r *GormRepository) CreateStyleProfile(ctx context.Context, profile *entity.DbStyleProfile) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if profile == nil {
		return fmt.Errorf("profile is nil")
	}
	if profile.UserID == 0 {
		return fmt.Errorf("invalid user id")
	}
	return r.db.WithContext(ctx).Create(profile).Error
}

// GetStyleProfile 按用户加载画像。
func (r *GormRepository) GetStyleProfile(ctx context.Context, userID uint) (*entity.DbStyleProfile, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	if userID == 0 {
		return nil, fmt.Errorf("invalid user id")
	}
	var profile entity.DbStyleProfile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// SaveStyleProfile 整体写回画像（分布、探索率、版本、计数）。
func (r *GormRepository) SaveStyleProfile(ctx context.Context, profile *entity.DbStyleProfile) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if profile == nil || profile.ID == 0 {
		return fmt.Errorf("profile not persisted")
	}
	return r.db.WithContext(ctx).Model(profile).Updates(map[string]interface{}{
		"distributions": profile.Distributions,
		"epsilon":       profile.Epsilon,
		"version":       profile.Version,
		"update_count":  profile.UpdateCount,
	}).Error
}
