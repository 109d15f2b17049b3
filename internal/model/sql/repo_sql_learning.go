package sql

import (
	"atelier/internal/entity"
	"context"
	"fmt"
)

// CreateFeedbackEvent 写入一条用户反馈。
func (r *GormRepository) CreateFeedbackEvent(ctx context.Context, event *entity.DbFeedbackEvent) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// ListFeedbackEvents 返回用户最近的反馈，按时间倒序。
func (r *GormRepository) ListFeedbackEvents(ctx context.Context, userID uint, limit int) ([]entity.DbFeedbackEvent, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	if userID == 0 {
		return nil, fmt.Errorf("invalid user id")
	}
	if limit <= 0 {
		limit = 100
	}
	var events []entity.DbFeedbackEvent
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CreateLearningEvent 追加一条画像增量审计记录。
func (r *GormRepository) CreateLearningEvent(ctx context.Context, event *entity.DbLearningEvent) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// CreateRewardRecord 追加一条奖励记录。
func (r *GormRepository) CreateRewardRecord(ctx context.Context, record *entity.DbRewardRecord) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// ListRewardRecords 返回用户最近的奖励记录，按时间倒序。
func (r *GormRepository) ListRewardRecords(ctx context.Context, userID uint, limit int) ([]entity.DbRewardRecord, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("repository not initialised")
	}
	if userID == 0 {
		return nil, fmt.Errorf("invalid user id")
	}
	if limit <= 0 {
		limit = 100
	}
	var records []entity.DbRewardRecord
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
