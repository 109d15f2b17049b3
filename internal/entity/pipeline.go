package entity

import "time"

// 覆盖缺口严重度
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SeverityRank 返回严重度排序值，越大越严重。
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// BufferStats 是某个生成后端在滚动窗口内的历史统计。
type BufferStats struct {
	ProviderID      string  `json:"provider_id"`
	SampleCount     int     `json:"sample_count"`
	MeanDiscardRate float64 `json:"mean_discard_rate"`
	StdDevDiscard   float64 `json:"std_dev_discard"`
	MeanQuality     float64 `json:"mean_quality"`
}

// BufferEstimate 是缓冲估计结果。
type BufferEstimate struct {
	ProviderID        string  `json:"provider_id"`
	RequestedCount    int     `json:"requested_count"`
	BufferPercent     float64 `json:"buffer_percent"`
	ExpectedGenerated int     `json:"expected_generated"`
	IsDefault         bool    `json:"is_default"`
	Confidence        float64 `json:"confidence"`
	Reason            string  `json:"reason,omitempty"`
}

// SelectionResult 是多样性选择的结果与诊断指标。
type SelectionResult struct {
	Selected        []*DbArtifact `json:"-"`
	SelectedIDs     []string      `json:"selected_ids"`
	DiversityScore  float64       `json:"diversity_score"`
	AvgPairDistance float64       `json:"avg_pair_distance"`
	AvgCoverage     float64       `json:"avg_coverage"`
	Insufficient    bool          `json:"insufficient"` // 池子不足，跳过选择
	Degraded        bool          `json:"degraded"`     // 算法失败，回退 top-K
	Duration        time.Duration `json:"-"`
	DurationMs      int64         `json:"duration_ms"`
}

// CoverageGap 表示某个属性维度的覆盖缺口。
type CoverageGap struct {
	Category  AttributeCategory `json:"category"`
	Requested []string          `json:"requested"`
	Ratio     float64           `json:"ratio"`
	Shortfall float64           `json:"shortfall"`
	Severity  Severity          `json:"severity"`
}

// CoverageReport 是选中集合对请求属性空间的覆盖度量。
type CoverageReport struct {
	Ratios       map[AttributeCategory]float64 `json:"ratios"`
	Gaps         []CoverageGap                 `json:"gaps"`
	OverallScore float64                       `json:"overall_score"`
	Status       Severity                      `json:"status"` // 最严重缺口决定整体状态
}

// PipelineRequest 是一次生成请求，发出后不可变。
type PipelineRequest struct {
	ClientID   string              `json:"client_id,omitempty"` // SSE 推送使用
	ProviderID string              `json:"provider_id" binding:"required"`
	Prompt     string              `json:"prompt" binding:"required"`
	TargetSpec map[string][]string `json:"target_spec" binding:"required"`
	Count      int                 `json:"count" binding:"required,min=1,max=50"`
	Mode       string              `json:"mode"`
}

// Spec 将原始请求映射为类型化属性规格。
func (r *PipelineRequest) Spec() AttributeSpec {
	spec := make(AttributeSpec, len(r.TargetSpec))
	for key, values := range r.TargetSpec {
		spec[AttributeCategory(key)] = values
	}
	return spec.Normalized()
}

// PipelineAcceptedResponse 是异步提交后的即时响应。
type PipelineAcceptedResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}
