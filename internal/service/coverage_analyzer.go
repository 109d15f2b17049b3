package service

import (
	"atelier/internal/entity"

	"github.com/sirupsen/logrus"
)

// 覆盖率缺口阈值：低于 gapThreshold 的维度计为缺口，
// 严重度随缺口幅度升高。
const (
	coverageGapThreshold      = 0.75
	coverageMediumThreshold   = 0.55
	coverageHighThreshold     = 0.35
	coverageCriticalThreshold = 0.15
)

// CoverageAnalyzer 衡量选中集合对请求属性空间的覆盖程度。
type CoverageAnalyzer struct{}

func NewCoverageAnalyzer() *CoverageAnalyzer {
	return &CoverageAnalyzer{}
}

// Analyze 对每个请求维度计算命中率并汇总缺口。
// 整体状态取最严重缺口；无缺口时状态为 low 之下的空值。
func (a *CoverageAnalyzer) Analyze(selected []*entity.DbArtifact, spec entity.AttributeSpec) *entity.CoverageReport {
	if len(spec) == 0 {
		return nil
	}

	report := &entity.CoverageReport{
		Ratios: make(map[entity.AttributeCategory]float64, len(spec)),
	}

	var sum float64
	for _, category := range spec.Categories() {
		ratio := a.categoryRatio(selected, category, spec)
		report.Ratios[category] = ratio
		sum += ratio

		if ratio < coverageGapThreshold {
			report.Gaps = append(report.Gaps, entity.CoverageGap{
				Category:  category,
				Requested: spec[category],
				Ratio:     ratio,
				Shortfall: coverageGapThreshold - ratio,
				Severity:  gapSeverity(ratio),
			})
		}
	}
	report.OverallScore = sum / float64(len(spec))

	for _, gap := range report.Gaps {
		if entity.SeverityRank(gap.Severity) > entity.SeverityRank(report.Status) {
			report.Status = gap.Severity
		}
	}

	logrus.WithFields(logrus.Fields{
		"dimensions":    len(spec),
		"gaps":          len(report.Gaps),
		"overall_score": report.OverallScore,
		"status":        report.Status,
	}).Info("coverage_analyze_done")

	return report
}

// categoryRatio 计算选中项在某维度上命中请求值的比例。
func (a *CoverageAnalyzer) categoryRatio(selected []*entity.DbArtifact, category entity.AttributeCategory, spec entity.AttributeSpec) float64 {
	if len(selected) == 0 {
		return 0
	}
	matched := 0
	for _, artifact := range selected {
		if artifact.AttributeEstimates().Matches(category, spec) {
			matched++
		}
	}
	return float64(matched) / float64(len(selected))
}

func gapSeverity(ratio float64) entity.Severity {
	switch {
	case ratio < coverageCriticalThreshold:
		return entity.SeverityCritical
	case ratio < coverageHighThreshold:
		return entity.SeverityHigh
	case ratio < coverageMediumThreshold:
		return entity.SeverityMedium
	default:
		return entity.SeverityLow
	}
}
