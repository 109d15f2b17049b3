package entity

import "time"

// 反馈分类
const (
	FeedbackClassPositive = "positive"
	FeedbackClassNegative = "negative"
	FeedbackClassNeutral  = "neutral"
)

// 反馈来源
const (
	FeedbackSourceExplicit   = "explicit"   // 用户评分/选择/驳回
	FeedbackSourceImplicit   = "implicit"   // 被过滤或未入选的产物
	FeedbackSourceCorrection = "correction" // 从文字评论中提取的修正
)

// DbFeedbackEvent 是用户对某个产物的一次反馈。
type DbFeedbackEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	UserID     uint   `gorm:"column:user_id;index;not null" json:"user_id"`
	ArtifactID string `gorm:"column:artifact_id;type:varchar(64);index" json:"artifact_id"`
	RunID      string `gorm:"column:run_id;type:varchar(64);index" json:"run_id"`

	Rating   int    `gorm:"column:rating" json:"rating"` // 1-5，0 表示未评分
	Selected bool   `gorm:"column:selected" json:"selected"`
	Rejected bool   `gorm:"column:rejected" json:"rejected"`
	Comments string `gorm:"column:comments;type:text" json:"comments"`
}

// TableName 指定表名。
func (DbFeedbackEvent) TableName() string {
	return "feedback_events"
}

// DbLearningEvent 是一次画像增量应用的审计记录，只追加。
type DbLearningEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	UserID     uint   `gorm:"column:user_id;index;not null" json:"user_id"`
	FeedbackID uint   `gorm:"column:feedback_id;index" json:"feedback_id"`
	Source     string `gorm:"column:source;type:varchar(32)" json:"source"`
	Class      string `gorm:"column:class;type:varchar(32)" json:"class"`

	// Deltas 记录 属性键(category:value) → 带符号调整量。
	Deltas FloatMap `gorm:"column:deltas;type:json" json:"deltas"`

	// CorrectionTerms 记录从评论中提取的修正键，仅 correction 来源的事件非空。
	CorrectionTerms StringArray `gorm:"column:correction_terms;type:json" json:"correction_terms,omitempty"`
}

// TableName 指定表名。
func (DbLearningEvent) TableName() string {
	return "learning_events"
}

// DbRewardRecord 是一次带反馈结局的加权奖励记录，只追加。
// 用于纵向「优化是否有效」报表，不直接驱动画像。
type DbRewardRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	UserID     uint   `gorm:"column:user_id;index;not null" json:"user_id"`
	RunID      string `gorm:"column:run_id;type:varchar(64);index" json:"run_id"`
	ArtifactID string `gorm:"column:artifact_id;type:varchar(64)" json:"artifact_id"`

	// Components 记录各加权信号分量，Reward 为钳位到 [0,1] 的加权和。
	Components FloatMap `gorm:"column:components;type:json" json:"components"`
	Reward     float64  `gorm:"column:reward" json:"reward"`
}

// TableName 指定表名。
func (DbRewardRecord) TableName() string {
	return "reward_records"
}

// FeedbackRequest 是提交反馈的请求体。
type FeedbackRequest struct {
	ArtifactID string `json:"artifact_id" binding:"required"`
	Rating     int    `json:"rating" binding:"omitempty,min=1,max=5"`
	Selected   bool   `json:"selected"`
	Rejected   bool   `json:"rejected"`
	Comments   string `json:"comments"`
}

// FeedbackResponse 是反馈处理结果。
type FeedbackResponse struct {
	FeedbackID     uint             `json:"feedback_id"`
	LearningEvent  *DbLearningEvent `json:"learning_event,omitempty"`
	ProfileVersion int              `json:"profile_version"`
	Reward         float64          `json:"reward"`
}

// RewardTrendResponse 纵向奖励统计。
type RewardTrendResponse struct {
	Count      int     `json:"count"`
	Mean       float64 `json:"mean"`
	RecentMean float64 `json:"recent_mean"`
	Trend      float64 `json:"trend"`
}
