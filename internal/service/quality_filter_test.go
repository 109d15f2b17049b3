package service

import (
	"atelier/internal/entity"
	"context"
	"errors"
	"fmt"
	"testing"
)

// stubValidator 按产物 ID 返回预置结果。
type stubValidator struct {
	outcomes map[string]*entity.ValidationOutcome
	fail     map[string]bool
}

func (v *stubValidator) Validate(ctx context.Context, contentURL, prompt string, spec entity.AttributeSpec) (*entity.ValidationOutcome, error) {
	if v.fail[contentURL] {
		return nil, errors.New("validator unavailable")
	}
	if outcome, ok := v.outcomes[contentURL]; ok {
		copied := *outcome
		return &copied, nil
	}
	return &entity.ValidationOutcome{OverallScore: 80}, nil
}

func makeArtifacts(n int) []*entity.DbArtifact {
	artifacts := make([]*entity.DbArtifact, 0, n)
	for i := 0; i < n; i++ {
		artifacts = append(artifacts, &entity.DbArtifact{
			ID:          fmt.Sprintf("a-%02d", i),
			ContentPath: fmt.Sprintf("content-%02d", i),
		})
	}
	return artifacts
}

func TestQualityFilterPartition(t *testing.T) {
	artifacts := makeArtifacts(4)
	validator := &stubValidator{
		outcomes: map[string]*entity.ValidationOutcome{
			"content-00": {OverallScore: 90},
			"content-01": {OverallScore: 30},
			"content-02": {OverallScore: 60}, // 阈值边界，应接受
			"content-03": {OverallScore: 59.9},
		},
	}

	filter := NewQualityFilter(validator, nil, 4)
	result := filter.Filter(context.Background(), artifacts, "prompt", nil)

	if len(result.Accepted)+len(result.Rejected) != len(artifacts) {
		t.Fatalf("partition must be total: %d + %d != %d", len(result.Accepted), len(result.Rejected), len(artifacts))
	}
	if len(result.Accepted) != 2 {
		t.Fatalf("expected 2 accepted, got %d", len(result.Accepted))
	}

	// 驳回项分数必须低于阈值
	for _, a := range result.Rejected {
		if !a.IsRejected {
			t.Fatalf("artifact %s in rejected pool without flag", a.ID)
		}
		if a.OverallScore >= entity.ValidationAcceptThreshold {
			t.Fatalf("rejected artifact %s has score %v above threshold", a.ID, a.OverallScore)
		}
	}

	// 分区内保持输入相对顺序
	if result.Accepted[0].ID != "a-00" || result.Accepted[1].ID != "a-02" {
		t.Fatalf("accepted order not preserved: %s, %s", result.Accepted[0].ID, result.Accepted[1].ID)
	}
	if result.Rejected[0].ID != "a-01" || result.Rejected[1].ID != "a-03" {
		t.Fatalf("rejected order not preserved: %s, %s", result.Rejected[0].ID, result.Rejected[1].ID)
	}
}

func TestQualityFilterValidatorFailure(t *testing.T) {
	artifacts := makeArtifacts(3)
	validator := &stubValidator{
		outcomes: map[string]*entity.ValidationOutcome{
			"content-00": {OverallScore: 85},
			"content-02": {OverallScore: 70},
		},
		fail: map[string]bool{"content-01": true},
	}

	filter := NewQualityFilter(validator, nil, 2)
	result := filter.Filter(context.Background(), artifacts, "prompt", nil)

	// 单个验证失败不中断批次，失败项以零分驳回参与核算
	if len(result.Accepted) != 2 || len(result.Rejected) != 1 {
		t.Fatalf("expected 2/1 partition, got %d/%d", len(result.Accepted), len(result.Rejected))
	}
	failed := result.Rejected[0]
	if failed.ID != "a-01" || failed.OverallScore != 0 || !failed.IsRejected {
		t.Fatalf("failed artifact should be synthetic zero-score rejection: %+v", failed)
	}
	if !result.Degraded {
		t.Fatal("batch with validation failures should be flagged degraded")
	}
	if len(result.Outcomes) != 3 {
		t.Fatalf("every outcome must be retained for audit, got %d", len(result.Outcomes))
	}
}

func TestQualityFilterWritesAttributesAndEmbedding(t *testing.T) {
	artifacts := makeArtifacts(1)
	validator := &stubValidator{
		outcomes: map[string]*entity.ValidationOutcome{
			"content-00": {
				OverallScore: 88,
				Consistency:  90,
				StyleMatch:   80,
				Attributes: entity.AttributeEstimates{
					entity.CategoryColor:   "black",
					entity.CategoryGarment: "dress",
				},
			},
		},
	}

	filter := NewQualityFilter(validator, nil, 1)
	result := filter.Filter(context.Background(), artifacts, "prompt", nil)

	if len(result.Accepted) != 1 {
		t.Fatalf("expected 1 accepted, got %d", len(result.Accepted))
	}
	a := result.Accepted[0]
	if a.Attributes["color"] != "black" {
		t.Fatalf("attributes not written back: %v", a.Attributes)
	}
	if len(a.Embedding) == 0 {
		t.Fatal("embedding should be computed for validated artifacts")
	}
	active := 0
	for _, v := range a.Embedding {
		if v == 1 {
			active++
		}
	}
	if active != 2 {
		t.Fatalf("expected 2 active embedding components, got %d", active)
	}
}

func TestQualityFilterEmptyInput(t *testing.T) {
	filter := NewQualityFilter(&stubValidator{}, nil, 4)
	result := filter.Filter(context.Background(), nil, "prompt", nil)
	if len(result.Accepted) != 0 || len(result.Rejected) != 0 {
		t.Fatal("empty input should produce empty partitions")
	}
}
