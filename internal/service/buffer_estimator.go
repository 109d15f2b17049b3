package service

import (
	"atelier/internal/entity"
	"atelier/internal/model"
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// 支持的单侧正态分位数，未支持的置信度就近取值。
var supportedQuantiles = []struct {
	confidence float64
	z          float64
}{
	{0.90, 1.282},
	{0.95, 1.645},
	{0.99, 2.326},
}

// 各后端冷启动时的保守默认缓冲比例。
var defaultBufferByProvider = map[string]float64{
	"openrouter": 25,
	"gemini":     20,
	"volcengine": 15,
}

// BufferEstimator 根据后端的历史废弃率估算超量生成比例。
// 统计不足或查询失败时退回默认值，永远不向调用方抛错。
type BufferEstimator struct {
	repo model.Repository

	minSamples    int
	defaultBuffer float64
	windowDays    int
}

// NewBufferEstimator 创建缓冲估计器。
func NewBufferEstimator(repo model.Repository, minSamples int, defaultBuffer float64, windowDays int) *BufferEstimator {
	if minSamples <= 0 {
		minSamples = 10
	}
	if defaultBuffer <= 0 {
		defaultBuffer = 20
	}
	if windowDays <= 0 {
		windowDays = 30
	}
	return &BufferEstimator{
		repo:          repo,
		minSamples:    minSamples,
		defaultBuffer: defaultBuffer,
		windowDays:    windowDays,
	}
}

// Estimate 计算某后端本次请求应放大到多少候选。
func (e *BufferEstimator) Estimate(ctx context.Context, providerID string, requestedCount int, targetConfidence float64) entity.BufferEstimate {
	stats, err := e.fetchStats(ctx, providerID)
	if err != nil {
		logrus.WithError(err).WithField("provider", providerID).Warn("buffer_stats_fetch_failed")
		return e.defaultEstimate(providerID, requestedCount, "stats_unavailable")
	}
	if stats.SampleCount < e.minSamples {
		return e.defaultEstimate(providerID, requestedCount, "insufficient_samples")
	}

	z := nearestQuantile(targetConfidence)
	expectedDiscard := stats.MeanDiscardRate + z*stats.StdDevDiscard
	if expectedDiscard < 0 {
		expectedDiscard = 0
	}
	// 废弃率贴近 1 时分母归零，直接顶格
	if expectedDiscard >= 0.99 {
		expectedDiscard = 0.99
	}

	raw := expectedDiscard / (1 - expectedDiscard) * 100
	buffered := raw * 1.05
	clamped := clampBuffer(buffered)
	rounded := roundToMultipleOfFive(clamped)

	expectedGenerated := int(math.Ceil(float64(requestedCount) * (1 + rounded/100)))

	logrus.WithFields(logrus.Fields{
		"provider":         providerID,
		"sample_count":     stats.SampleCount,
		"mean_discard":     stats.MeanDiscardRate,
		"stddev_discard":   stats.StdDevDiscard,
		"buffer_percent":   rounded,
		"expected_generate": expectedGenerated,
	}).Info("buffer_estimate_computed")

	return entity.BufferEstimate{
		ProviderID:        providerID,
		RequestedCount:    requestedCount,
		BufferPercent:     rounded,
		ExpectedGenerated: expectedGenerated,
		IsDefault:         false,
		Confidence:        nearestConfidence(targetConfidence),
	}
}

// Stats 返回该后端在滚动窗口内的聚合统计。
func (e *BufferEstimator) Stats(ctx context.Context, providerID string) (entity.BufferStats, error) {
	return e.fetchStats(ctx, providerID)
}

func (e *BufferEstimator) fetchStats(ctx context.Context, providerID string) (entity.BufferStats, error) {
	since := time.Now().AddDate(0, 0, -e.windowDays)
	samples, err := e.repo.ProviderRunStats(ctx, providerID, since)
	if err != nil {
		return entity.BufferStats{}, err
	}

	stats := entity.BufferStats{
		ProviderID:  providerID,
		SampleCount: len(samples),
	}
	if len(samples) == 0 {
		return stats, nil
	}

	var sumDiscard, sumQuality float64
	for _, s := range samples {
		sumDiscard += s.DiscardRate
		sumQuality += s.AvgQuality
	}
	stats.MeanDiscardRate = sumDiscard / float64(len(samples))
	stats.MeanQuality = sumQuality / float64(len(samples))

	var sumSq float64
	for _, s := range samples {
		diff := s.DiscardRate - stats.MeanDiscardRate
		sumSq += diff * diff
	}
	stats.StdDevDiscard = math.Sqrt(sumSq / float64(len(samples)))
	return stats, nil
}

func (e *BufferEstimator) defaultEstimate(providerID string, requestedCount int, reason string) entity.BufferEstimate {
	buffer := e.defaultBuffer
	if v, ok := defaultBufferByProvider[providerID]; ok {
		buffer = v
	}
	return entity.BufferEstimate{
		ProviderID:        providerID,
		RequestedCount:    requestedCount,
		BufferPercent:     buffer,
		ExpectedGenerated: int(math.Ceil(float64(requestedCount) * (1 + buffer/100))),
		IsDefault:         true,
		Confidence:        0.5,
		Reason:            reason,
	}
}

func nearestQuantile(confidence float64) float64 {
	best := supportedQuantiles[0]
	bestDiff := math.Abs(confidence - best.confidence)
	for _, q := range supportedQuantiles[1:] {
		if diff := math.Abs(confidence - q.confidence); diff < bestDiff {
			best = q
			bestDiff = diff
		}
	}
	return best.z
}

func nearestConfidence(confidence float64) float64 {
	best := supportedQuantiles[0]
	bestDiff := math.Abs(confidence - best.confidence)
	for _, q := range supportedQuantiles[1:] {
		if diff := math.Abs(confidence - q.confidence); diff < bestDiff {
			best = q
			bestDiff = diff
		}
	}
	return best.confidence
}

func clampBuffer(percent float64) float64 {
	if percent < 10 {
		return 10
	}
	if percent > 50 {
		return 50
	}
	return percent
}

func roundToMultipleOfFive(percent float64) float64 {
	rounded := math.Round(percent/5) * 5
	// 取整后仍需落在区间内
	return clampBuffer(rounded)
}
