package service

import (
	"atelier/internal/entity"
	"math"
	"testing"
)

func artifactWithColor(id, color string) *entity.DbArtifact {
	return &entity.DbArtifact{
		ID:         id,
		Attributes: entity.JSONMap{"color": color},
	}
}

func TestCoverageAnalyzerFullCoverage(t *testing.T) {
	analyzer := NewCoverageAnalyzer()
	spec := entity.AttributeSpec{
		entity.CategoryColor: {"black", "red"},
	}
	selected := []*entity.DbArtifact{
		artifactWithColor("a", "black"),
		artifactWithColor("b", "red"),
		artifactWithColor("c", "black"),
	}

	report := analyzer.Analyze(selected, spec)
	if report == nil {
		t.Fatal("expected report")
	}
	if report.Ratios[entity.CategoryColor] != 1 {
		t.Fatalf("expected full ratio, got %v", report.Ratios[entity.CategoryColor])
	}
	if len(report.Gaps) != 0 {
		t.Fatalf("full coverage should have no gaps, got %v", report.Gaps)
	}
	if report.OverallScore != 1 {
		t.Fatalf("expected overall 1, got %v", report.OverallScore)
	}
}

func TestCoverageAnalyzerGapSeverity(t *testing.T) {
	analyzer := NewCoverageAnalyzer()
	spec := entity.AttributeSpec{
		entity.CategoryColor:  {"black"},
		entity.CategoryFabric: {"silk"},
	}
	// 颜色 2/4 命中（medium 缺口），面料 0/4 命中（critical 缺口）
	selected := []*entity.DbArtifact{
		{ID: "a", Attributes: entity.JSONMap{"color": "black", "fabric": "wool"}},
		{ID: "b", Attributes: entity.JSONMap{"color": "black", "fabric": "wool"}},
		{ID: "c", Attributes: entity.JSONMap{"color": "red", "fabric": "wool"}},
		{ID: "d", Attributes: entity.JSONMap{"color": "red", "fabric": "wool"}},
	}

	report := analyzer.Analyze(selected, spec)
	if len(report.Gaps) != 2 {
		t.Fatalf("expected 2 gaps, got %d", len(report.Gaps))
	}

	bySeverity := make(map[entity.AttributeCategory]entity.Severity)
	for _, gap := range report.Gaps {
		bySeverity[gap.Category] = gap.Severity
	}
	if bySeverity[entity.CategoryColor] != entity.SeverityMedium {
		t.Fatalf("expected medium gap on color, got %s", bySeverity[entity.CategoryColor])
	}
	if bySeverity[entity.CategoryFabric] != entity.SeverityCritical {
		t.Fatalf("expected critical gap on fabric, got %s", bySeverity[entity.CategoryFabric])
	}

	// 整体状态取最严重缺口
	if report.Status != entity.SeverityCritical {
		t.Fatalf("expected critical status, got %s", report.Status)
	}
	if math.Abs(report.OverallScore-0.25) > 1e-9 {
		t.Fatalf("expected overall 0.25, got %v", report.OverallScore)
	}
}

func TestCoverageAnalyzerShortfall(t *testing.T) {
	analyzer := NewCoverageAnalyzer()
	spec := entity.AttributeSpec{
		entity.CategoryColor: {"black"},
	}
	selected := []*entity.DbArtifact{
		artifactWithColor("a", "black"),
		artifactWithColor("b", "red"),
	}

	report := analyzer.Analyze(selected, spec)
	if len(report.Gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(report.Gaps))
	}
	gap := report.Gaps[0]
	if math.Abs(gap.Shortfall-(coverageGapThreshold-0.5)) > 1e-9 {
		t.Fatalf("expected shortfall %v, got %v", coverageGapThreshold-0.5, gap.Shortfall)
	}
	if gap.Severity != entity.SeverityMedium {
		t.Fatalf("ratio 0.5 should be medium, got %s", gap.Severity)
	}
}

func TestCoverageAnalyzerEmptySpec(t *testing.T) {
	analyzer := NewCoverageAnalyzer()
	if report := analyzer.Analyze(nil, nil); report != nil {
		t.Fatalf("empty spec should yield no report, got %+v", report)
	}
}

func TestCoverageAnalyzerEmptySelection(t *testing.T) {
	analyzer := NewCoverageAnalyzer()
	spec := entity.AttributeSpec{
		entity.CategoryColor: {"black"},
	}
	report := analyzer.Analyze(nil, spec)
	if report == nil {
		t.Fatal("expected report for empty selection")
	}
	if report.Status != entity.SeverityCritical {
		t.Fatalf("empty selection covers nothing, expected critical, got %s", report.Status)
	}
}
