package entity

import "time"

// 候选产物的终态
const (
	ArtifactStatusGenerated = "generated" // 已生成，尚未验证
	ArtifactStatusRejected  = "rejected"  // 质量过滤淘汰
	ArtifactStatusKept      = "kept"      // 多样性选择保留
	ArtifactStatusDiscarded = "discarded" // 通过验证但未入选
)

// ValidationAcceptThreshold 是质量过滤的接受阈值（总分 0-100）。
const ValidationAcceptThreshold = 60.0

// DbArtifact 是外部生成后端产出的一个候选产物及其验证结果。
type DbArtifact struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RunID      string `gorm:"column:run_id;type:varchar(64);index" json:"run_id"`
	ProviderID string `gorm:"column:provider_id;type:varchar(64);index" json:"provider_id"`

	// ContentPath 指向存储后端中的原始内容。
	ContentPath string `gorm:"column:content_path;type:text" json:"content_path"`

	Status string `gorm:"column:status;type:varchar(32);index" json:"status"`

	// 验证阶段提取的属性估计（VLT 规格），不保证准确。
	Attributes JSONMap `gorm:"column:attributes;type:json" json:"attributes"`

	// 属性特征空间中的嵌入向量，定长。
	Embedding Vector `gorm:"column:embedding;type:json" json:"embedding"`

	OverallScore    float64 `gorm:"column:overall_score" json:"overall_score"`
	ConsistencyScore float64 `gorm:"column:consistency_score" json:"consistency_score"`
	StyleMatchScore  float64 `gorm:"column:style_match_score" json:"style_match_score"`
	IsRejected      bool    `gorm:"column:is_rejected" json:"is_rejected"`
	RejectionReason string  `gorm:"column:rejection_reason;type:text" json:"rejection_reason"`
}

// TableName 指定表名。
func (DbArtifact) TableName() string {
	return "artifacts"
}

// Accepted 返回产物是否通过质量过滤。
func (a *DbArtifact) Accepted() bool {
	return a != nil && !a.IsRejected && a.OverallScore >= ValidationAcceptThreshold
}

// AttributeEstimates 将存储的属性 JSON 还原为类型化估计。
func (a *DbArtifact) AttributeEstimates() AttributeEstimates {
	estimates := make(AttributeEstimates, len(a.Attributes))
	for key, value := range a.Attributes {
		category := AttributeCategory(key)
		if !IsValidCategory(category) {
			continue
		}
		if s, ok := value.(string); ok {
			estimates[category] = s
		}
	}
	return estimates
}

// ValidationOutcome 是单个产物的验证结果。
type ValidationOutcome struct {
	ArtifactID      string             `json:"artifact_id"`
	OverallScore    float64            `json:"overall_score"`
	Consistency     float64            `json:"consistency"`
	StyleMatch      float64            `json:"style_match"`
	IsRejected      bool               `json:"is_rejected"`
	RejectionReason string             `json:"rejection_reason,omitempty"`
	Attributes      AttributeEstimates `json:"attributes,omitempty"`
}

// ArtifactItem 是返回给客户端的产物视图。
type ArtifactItem struct {
	ID              string  `json:"id"`
	ProviderID      string  `json:"provider_id"`
	ContentPath     string  `json:"content_path"`
	ContentURL      string  `json:"content_url,omitempty"`
	Status          string  `json:"status"`
	OverallScore    float64 `json:"overall_score"`
	IsRejected      bool    `json:"is_rejected"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
	Attributes      JSONMap `json:"attributes,omitempty"`
}
