package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// DbStyleProfile 是每个用户的风格画像：按属性类别维护归一化偏好分布。
// 仅由偏好学习器修改，用户存在期间不会删除。
type DbStyleProfile struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID uint    `gorm:"column:user_id;uniqueIndex;not null" json:"user_id"`
	User   *DbUser `gorm:"foreignKey:UserID" json:"-"`

	// Distributions 序列化为 JSON 的 DistributionSet。
	Distributions JSONMap `gorm:"column:distributions;type:json" json:"distributions"`

	// Epsilon 是与提示构建方共享的探索率。
	Epsilon float64 `gorm:"column:epsilon;not null;default:0.15" json:"epsilon"`

	Version     int `gorm:"column:version;not null;default:1" json:"version"`
	UpdateCount int `gorm:"column:update_count;not null;default:0" json:"update_count"`
}

// TableName 指定表名。
func (DbStyleProfile) TableName() string {
	return "style_profiles"
}

// DistributionSet 将存储的 JSON 还原为类型化分布集合。
func (p *DbStyleProfile) DistributionSet() (DistributionSet, error) {
	if p == nil || len(p.Distributions) == 0 {
		return DistributionSet{}, nil
	}
	raw, err := json.Marshal(map[string]interface{}(p.Distributions))
	if err != nil {
		return nil, fmt.Errorf("marshal distributions: %w", err)
	}
	var set DistributionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("unmarshal distributions: %w", err)
	}
	return set, nil
}

// SetDistributionSet 写回类型化分布集合。
func (p *DbStyleProfile) SetDistributionSet(set DistributionSet) error {
	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("marshal distribution set: %w", err)
	}
	var m JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("unmarshal distribution set: %w", err)
	}
	p.Distributions = m
	return nil
}

// StyleProfileResponse 画像详情响应。
type StyleProfileResponse struct {
	UserID        uint            `json:"user_id"`
	Distributions DistributionSet `json:"distributions"`
	Epsilon       float64         `json:"epsilon"`
	Version       int             `json:"version"`
	UpdateCount   int             `json:"update_count"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ProfileMetricsResponse 画像表现指标（来自反馈历史）。
type ProfileMetricsResponse struct {
	FeedbackCount int     `json:"feedback_count"`
	SelectionRate float64 `json:"selection_rate"`
	RejectionRate float64 `json:"rejection_rate"`
	AverageRating float64 `json:"average_rating"`
	RewardMean    float64 `json:"reward_mean"`
	RewardTrend   float64 `json:"reward_trend"`
}
