package service

import (
	"atelier/internal/entity"
	"context"
	"errors"
	"math"
	"testing"
)

func statsOf(n int, mean, stddev float64) []entity.ProviderRunStats {
	// 构造均值与标准差都精确命中的样本序列
	stats := make([]entity.ProviderRunStats, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			stats = append(stats, entity.ProviderRunStats{DiscardRate: mean + stddev, AvgQuality: 75})
		} else {
			stats = append(stats, entity.ProviderRunStats{DiscardRate: mean - stddev, AvgQuality: 75})
		}
	}
	return stats
}

func TestBufferEstimatorDefaultOnFewSamples(t *testing.T) {
	repo := newStubRepo()
	repo.providerStats = statsOf(5, 0.2, 0.05)

	estimator := NewBufferEstimator(repo, 10, 20, 30)
	estimate := estimator.Estimate(context.Background(), "unknown-provider", 30, 0.95)

	if !estimate.IsDefault {
		t.Fatal("expected default estimate for insufficient samples")
	}
	if estimate.BufferPercent != 20 {
		t.Fatalf("expected fallback buffer 20, got %v", estimate.BufferPercent)
	}
	if estimate.Confidence != 0.5 {
		t.Fatalf("expected confidence 0.5, got %v", estimate.Confidence)
	}
	if estimate.Reason == "" {
		t.Fatal("default estimate should carry a reason")
	}
}

func TestBufferEstimatorDefaultOnFetchFailure(t *testing.T) {
	repo := newStubRepo()
	repo.providerStatsErr = errors.New("db down")

	estimator := NewBufferEstimator(repo, 10, 20, 30)
	estimate := estimator.Estimate(context.Background(), "gemini", 10, 0.95)

	if !estimate.IsDefault {
		t.Fatal("fetch failure must fall back to the default buffer")
	}
	if estimate.Reason != "stats_unavailable" {
		t.Fatalf("expected tagged reason, got %q", estimate.Reason)
	}
	// 后端专属默认值优先于全局默认
	if estimate.BufferPercent != 20 {
		t.Fatalf("expected provider default 20, got %v", estimate.BufferPercent)
	}
}

func TestBufferEstimatorReferenceScenario(t *testing.T) {
	// 50 个样本，均值 0.20，标准差 0.05，置信度 0.95：
	// 0.20 + 1.645×0.05 ≈ 0.2823 → 39.3% → ×1.05 ≈ 41.3% → 取 5 的倍数 → 40%
	repo := newStubRepo()
	repo.providerStats = statsOf(50, 0.20, 0.05)

	estimator := NewBufferEstimator(repo, 10, 20, 30)
	estimate := estimator.Estimate(context.Background(), "openrouter", 30, 0.95)

	if estimate.IsDefault {
		t.Fatal("expected statistical estimate")
	}
	if estimate.BufferPercent != 40 {
		t.Fatalf("expected buffer 40, got %v", estimate.BufferPercent)
	}
	if estimate.ExpectedGenerated != 42 {
		t.Fatalf("expected 42 generated for count 30, got %d", estimate.ExpectedGenerated)
	}
}

func TestBufferEstimatorDeterministic(t *testing.T) {
	repo := newStubRepo()
	repo.providerStats = statsOf(20, 0.3, 0.1)

	estimator := NewBufferEstimator(repo, 10, 20, 30)
	first := estimator.Estimate(context.Background(), "openrouter", 25, 0.99)
	second := estimator.Estimate(context.Background(), "openrouter", 25, 0.99)

	if first != second {
		t.Fatalf("estimate should be deterministic: %+v vs %+v", first, second)
	}
}

func TestBufferEstimatorClampAndRounding(t *testing.T) {
	tests := []struct {
		name   string
		mean   float64
		stddev float64
	}{
		{name: "极低废弃率钳到下限", mean: 0.01, stddev: 0.0},
		{name: "中等废弃率", mean: 0.25, stddev: 0.05},
		{name: "高废弃率钳到上限", mean: 0.8, stddev: 0.1},
		{name: "接近 1 的废弃率", mean: 0.95, stddev: 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStubRepo()
			repo.providerStats = statsOf(30, tt.mean, tt.stddev)

			estimator := NewBufferEstimator(repo, 10, 20, 30)
			estimate := estimator.Estimate(context.Background(), "openrouter", 10, 0.95)

			if estimate.BufferPercent < 10 || estimate.BufferPercent > 50 {
				t.Fatalf("buffer %v out of [10,50]", estimate.BufferPercent)
			}
			if math.Mod(estimate.BufferPercent, 5) != 0 {
				t.Fatalf("buffer %v is not a multiple of 5", estimate.BufferPercent)
			}
		})
	}
}

func TestNearestQuantile(t *testing.T) {
	tests := []struct {
		confidence float64
		wantZ      float64
	}{
		{0.90, 1.282},
		{0.95, 1.645},
		{0.99, 2.326},
		{0.97, 1.645}, // 不支持的置信度就近取值
		{0.999, 2.326},
		{0.5, 1.282},
	}

	for _, tt := range tests {
		if z := nearestQuantile(tt.confidence); z != tt.wantZ {
			t.Fatalf("confidence %v: expected z %v, got %v", tt.confidence, tt.wantZ, z)
		}
	}
}
