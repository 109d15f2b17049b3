package entity

// UserUpdates 用户更新字段
type UserUpdates struct {
	DisplayName  *string
	Role         *string
	PasswordHash *string
	IsActive     *bool
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u UserUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.DisplayName != nil {
		updates["display_name"] = *u.DisplayName
	}
	if u.Role != nil {
		updates["role"] = *u.Role
	}
	if u.PasswordHash != nil {
		updates["password_hash"] = *u.PasswordHash
	}
	if u.IsActive != nil {
		updates["is_active"] = *u.IsActive
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u UserUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}

// RunUpdates 流水线运行更新字段
type RunUpdates struct {
	Status            *string
	BufferPercent     *float64
	BufferDefault     *bool
	GeneratedCount    *int
	AcceptedCount     *int
	RejectedCount     *int
	SelectedCount     *int
	DiscardRate       *float64
	AvgQuality        *float64
	DiversityScore    *float64
	AvgPairDistance   *float64
	CoverageScore     *float64
	CoverageStatus    *string
	CoverageReport    *JSONMap
	SelectionDegraded *bool
	FilterDegraded    *bool
	DurationMs        *int64
	ErrorMessage      *string
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u RunUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Status != nil {
		updates["status"] = *u.Status
	}
	if u.BufferPercent != nil {
		updates["buffer_percent"] = *u.BufferPercent
	}
	if u.BufferDefault != nil {
		updates["buffer_default"] = *u.BufferDefault
	}
	if u.GeneratedCount != nil {
		updates["generated_count"] = *u.GeneratedCount
	}
	if u.AcceptedCount != nil {
		updates["accepted_count"] = *u.AcceptedCount
	}
	if u.RejectedCount != nil {
		updates["rejected_count"] = *u.RejectedCount
	}
	if u.SelectedCount != nil {
		updates["selected_count"] = *u.SelectedCount
	}
	if u.DiscardRate != nil {
		updates["discard_rate"] = *u.DiscardRate
	}
	if u.AvgQuality != nil {
		updates["avg_quality"] = *u.AvgQuality
	}
	if u.DiversityScore != nil {
		updates["diversity_score"] = *u.DiversityScore
	}
	if u.AvgPairDistance != nil {
		updates["avg_pair_distance"] = *u.AvgPairDistance
	}
	if u.CoverageScore != nil {
		updates["coverage_score"] = *u.CoverageScore
	}
	if u.CoverageStatus != nil {
		updates["coverage_status"] = *u.CoverageStatus
	}
	if u.CoverageReport != nil {
		updates["coverage_report"] = *u.CoverageReport
	}
	if u.SelectionDegraded != nil {
		updates["selection_degraded"] = *u.SelectionDegraded
	}
	if u.FilterDegraded != nil {
		updates["filter_degraded"] = *u.FilterDegraded
	}
	if u.DurationMs != nil {
		updates["duration_ms"] = *u.DurationMs
	}
	if u.ErrorMessage != nil {
		updates["error_message"] = *u.ErrorMessage
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u RunUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}

// ArtifactUpdates 产物更新字段
type ArtifactUpdates struct {
	Status           *string
	ContentPath      *string
	Attributes       *JSONMap
	Embedding        *Vector
	OverallScore     *float64
	ConsistencyScore *float64
	StyleMatchScore  *float64
	IsRejected       *bool
	RejectionReason  *string
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u ArtifactUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Status != nil {
		updates["status"] = *u.Status
	}
	if u.ContentPath != nil {
		updates["content_path"] = *u.ContentPath
	}
	if u.Attributes != nil {
		updates["attributes"] = *u.Attributes
	}
	if u.Embedding != nil {
		updates["embedding"] = *u.Embedding
	}
	if u.OverallScore != nil {
		updates["overall_score"] = *u.OverallScore
	}
	if u.ConsistencyScore != nil {
		updates["consistency_score"] = *u.ConsistencyScore
	}
	if u.StyleMatchScore != nil {
		updates["style_match_score"] = *u.StyleMatchScore
	}
	if u.IsRejected != nil {
		updates["is_rejected"] = *u.IsRejected
	}
	if u.RejectionReason != nil {
		updates["rejection_reason"] = *u.RejectionReason
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u ArtifactUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}
