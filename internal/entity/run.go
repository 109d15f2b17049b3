package entity

import "time"

// 流水线运行状态
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusDegraded  = "degraded"
	RunStatusFailed    = "failed"
)

// 生成模式
const (
	RunModeExploratory = "exploratory"
	RunModeSpecific    = "specific"
)

// DbPipelineRun 记录一次完整的生成流水线执行及其遥测数据。
// 缓冲统计（BufferStats）按需从历史运行聚合，不单独持久化。
type DbPipelineRun struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID uint    `gorm:"column:user_id;index" json:"user_id"`
	User   *DbUser `gorm:"foreignKey:UserID" json:"-"`

	ProviderID string `gorm:"column:provider_id;type:varchar(64);index" json:"provider_id"`
	Mode       string `gorm:"column:mode;type:varchar(32)" json:"mode"`
	Status     string `gorm:"column:status;type:varchar(32);index" json:"status"`
	Prompt     string `gorm:"column:prompt;type:text" json:"prompt"`

	TargetSpec JSONMap `gorm:"column:target_spec;type:json" json:"target_spec"`

	RequestedCount int     `gorm:"column:requested_count" json:"requested_count"`
	BufferPercent  float64 `gorm:"column:buffer_percent" json:"buffer_percent"`
	BufferDefault  bool    `gorm:"column:buffer_default" json:"buffer_default"`
	GeneratedCount int     `gorm:"column:generated_count" json:"generated_count"`
	AcceptedCount  int     `gorm:"column:accepted_count" json:"accepted_count"`
	RejectedCount  int     `gorm:"column:rejected_count" json:"rejected_count"`
	SelectedCount  int     `gorm:"column:selected_count" json:"selected_count"`

	// DiscardRate = 1 - accepted/generated，缓冲估计的聚合来源。
	DiscardRate float64 `gorm:"column:discard_rate" json:"discard_rate"`
	AvgQuality  float64 `gorm:"column:avg_quality" json:"avg_quality"`

	DiversityScore  float64 `gorm:"column:diversity_score" json:"diversity_score"`
	AvgPairDistance float64 `gorm:"column:avg_pair_distance" json:"avg_pair_distance"`
	CoverageScore   float64 `gorm:"column:coverage_score" json:"coverage_score"`
	CoverageStatus  string  `gorm:"column:coverage_status;type:varchar(32)" json:"coverage_status"`
	CoverageReport  JSONMap `gorm:"column:coverage_report;type:json" json:"coverage_report"`

	SelectionDegraded bool `gorm:"column:selection_degraded" json:"selection_degraded"`
	FilterDegraded    bool `gorm:"column:filter_degraded" json:"filter_degraded"`

	DurationMs   int64  `gorm:"column:duration_ms" json:"duration_ms"`
	ErrorMessage string `gorm:"column:error_message;type:text" json:"error_message"`

	Artifacts []DbArtifact `gorm:"foreignKey:RunID" json:"artifacts,omitempty"`
}

// TableName 指定表名。
func (DbPipelineRun) TableName() string {
	return "pipeline_runs"
}

// RunQuery 运行记录查询参数。
type RunQuery struct {
	BaseParams
	Provider   string `json:"provider" form:"provider" query:"provider"`
	Status     string `json:"status" form:"status" query:"status"`
	UserID     uint   `json:"-" form:"-" query:"-"`
	IncludeAll bool   `json:"-" form:"-" query:"-"`
}

// ProviderRunStats 是缓冲估计所需的单次运行统计切片。
type ProviderRunStats struct {
	DiscardRate float64
	AvgQuality  float64
}

// RunListResponse 运行记录列表响应。
type RunListResponse struct {
	Runs []RunItem `json:"runs"`
	Meta *Meta     `json:"meta"`
}

// RunItem 是返回给客户端的运行记录视图。
type RunItem struct {
	ID             string      `json:"id"`
	ProviderID     string      `json:"provider_id"`
	Mode           string      `json:"mode"`
	Status         string      `json:"status"`
	Prompt         string      `json:"prompt"`
	RequestedCount int         `json:"requested_count"`
	BufferPercent  float64     `json:"buffer_percent"`
	GeneratedCount int         `json:"generated_count"`
	AcceptedCount  int         `json:"accepted_count"`
	RejectedCount  int         `json:"rejected_count"`
	SelectedCount  int         `json:"selected_count"`
	DiversityScore float64     `json:"diversity_score"`
	CoverageScore  float64     `json:"coverage_score"`
	CoverageStatus string      `json:"coverage_status"`
	DurationMs     int64       `json:"duration_ms"`
	ErrorMessage   string      `json:"error_message"`
	CreatedAt      time.Time   `json:"created_at"`
	User           UserSummary `json:"user"`
}

// RunDetailResponse 运行详情：遥测 + 全部产物。
type RunDetailResponse struct {
	Run       RunItem        `json:"run"`
	Artifacts []ArtifactItem `json:"artifacts"`
	Coverage  JSONMap        `json:"coverage,omitempty"`
}
