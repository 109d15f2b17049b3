package service

import (
	"atelier/internal/entity"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// DiversitySelector 从接受池中选出恰好 targetCount 个产物，
// 在逐项质量和两两差异之间做质量加权的贪心 DPP 式权衡。
// 选择算法失败时确定性回退到按分数取 top-K，记为降级而非错误。
type DiversitySelector struct {
	qualityWeight   float64
	diversityWeight float64

	// 选中集合均分允许低于 top-K 基线均分的最大差值
	qualityTolerance float64
}

// NewDiversitySelector 创建多样性选择器。
func NewDiversitySelector(qualityTolerance float64) *DiversitySelector {
	if qualityTolerance <= 0 {
		qualityTolerance = 10
	}
	return &DiversitySelector{
		qualityWeight:    0.5,
		diversityWeight:  0.5,
		qualityTolerance: qualityTolerance,
	}
}

// Select 执行选择并返回诊断指标。
func (s *DiversitySelector) Select(pool []*entity.DbArtifact, targetCount int, spec entity.AttributeSpec) entity.SelectionResult {
	start := time.Now()

	if targetCount <= 0 || len(pool) == 0 {
		return entity.SelectionResult{Duration: time.Since(start)}
	}

	// 池子不足：整池返回，跳过选择
	if len(pool) <= targetCount {
		result := entity.SelectionResult{
			Selected:     pool,
			SelectedIDs:  artifactIDs(pool),
			Insufficient: true,
		}
		s.fillMetrics(&result, spec)
		result.Duration = time.Since(start)
		result.DurationMs = result.Duration.Milliseconds()
		return result
	}

	selected, err := s.greedySelect(pool, targetCount)
	degraded := false
	if err != nil {
		logrus.WithError(err).Warn("diversity_select_degraded")
		selected = topKByScore(pool, targetCount)
		degraded = true
	} else {
		selected = s.enforceQualityFloor(pool, selected, targetCount)
	}

	result := entity.SelectionResult{
		Selected:    selected,
		SelectedIDs: artifactIDs(selected),
		Degraded:    degraded,
	}
	s.fillMetrics(&result, spec)
	result.Duration = time.Since(start)
	result.DurationMs = result.Duration.Milliseconds()

	logrus.WithFields(logrus.Fields{
		"pool":            len(pool),
		"selected":        len(selected),
		"diversity_score": result.DiversityScore,
		"degraded":        degraded,
	}).Info("diversity_select_done")

	return result
}

// greedySelect 贪心最大化边际收益：质量项 + 与已选集合的最小差异项。
func (s *DiversitySelector) greedySelect(pool []*entity.DbArtifact, targetCount int) ([]*entity.DbArtifact, error) {
	dim := 0
	for _, a := range pool {
		if len(a.Embedding) > 0 {
			dim = len(a.Embedding)
			break
		}
	}
	if dim == 0 {
		return nil, errors.New("pool has no usable embeddings")
	}
	for _, a := range pool {
		if len(a.Embedding) != 0 && len(a.Embedding) != dim {
			return nil, errors.New("inconsistent embedding dimensions")
		}
	}

	// 质量归一到 [0,1]
	quality := make([]float64, len(pool))
	for i, a := range pool {
		q := a.OverallScore / 100
		if math.IsNaN(q) || math.IsInf(q, 0) {
			return nil, errors.New("invalid quality score")
		}
		quality[i] = q
	}

	chosen := make([]int, 0, targetCount)
	inSet := make([]bool, len(pool))

	// 起点取质量最高者，分数并列按下标保证确定性
	first := 0
	for i := 1; i < len(pool); i++ {
		if quality[i] > quality[first] {
			first = i
		}
	}
	chosen = append(chosen, first)
	inSet[first] = true

	for len(chosen) < targetCount {
		bestIdx := -1
		bestGain := math.Inf(-1)
		for i := range pool {
			if inSet[i] {
				continue
			}
			// 与已选集合中最相近项的差异度
			minDistance := 1.0
			for _, j := range chosen {
				d := 1 - cosineSimilarity(pool[i].Embedding, pool[j].Embedding)
				if d < minDistance {
					minDistance = d
				}
			}
			gain := s.qualityWeight*quality[i] + s.diversityWeight*minDistance
			if gain > bestGain {
				bestGain = gain
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			return nil, errors.New("no candidate left")
		}
		chosen = append(chosen, bestIdx)
		inSet[bestIdx] = true
	}

	out := make([]*entity.DbArtifact, 0, targetCount)
	for _, idx := range chosen {
		out = append(out, pool[idx])
	}
	return out, nil
}

// enforceQualityFloor 保证选中集合均分不低于 top-K 基线均分减容差。
// 逐次用未选中的最高分项替换选中的最低分项，必要时收敛到 top-K 本身。
func (s *DiversitySelector) enforceQualityFloor(pool, selected []*entity.DbArtifact, targetCount int) []*entity.DbArtifact {
	baseline := topKByScore(pool, targetCount)
	floor := meanScore(baseline) - s.qualityTolerance

	current := make([]*entity.DbArtifact, len(selected))
	copy(current, selected)

	for iter := 0; iter < targetCount && meanScore(current) < floor; iter++ {
		inSet := make(map[string]bool, len(current))
		for _, a := range current {
			inSet[a.ID] = true
		}

		// 未选中的最高分项
		var candidate *entity.DbArtifact
		for _, a := range baseline {
			if !inSet[a.ID] {
				candidate = a
				break
			}
		}
		if candidate == nil {
			break
		}

		// 替换选中最低分项
		lowIdx := 0
		for i := 1; i < len(current); i++ {
			if current[i].OverallScore < current[lowIdx].OverallScore {
				lowIdx = i
			}
		}
		if current[lowIdx].OverallScore >= candidate.OverallScore {
			break
		}
		current[lowIdx] = candidate
	}
	return current
}

func (s *DiversitySelector) fillMetrics(result *entity.SelectionResult, spec entity.AttributeSpec) {
	selected := result.Selected
	if len(selected) < 2 {
		result.AvgCoverage = avgSpecCoverage(selected, spec)
		return
	}

	var sum float64
	pairs := 0
	for i := 0; i < len(selected); i++ {
		for j := i + 1; j < len(selected); j++ {
			sum += 1 - cosineSimilarity(selected[i].Embedding, selected[j].Embedding)
			pairs++
		}
	}
	result.AvgPairDistance = sum / float64(pairs)
	// one-hot 空间下的两两距离本身落在 [0,1]，直接作为归一化多样性分
	result.DiversityScore = result.AvgPairDistance
	result.AvgCoverage = avgSpecCoverage(selected, spec)
}

// avgSpecCoverage 计算选中项对请求属性维度的平均命中率。
func avgSpecCoverage(selected []*entity.DbArtifact, spec entity.AttributeSpec) float64 {
	if len(selected) == 0 || len(spec) == 0 {
		return 0
	}
	var total float64
	for _, artifact := range selected {
		estimates := artifact.AttributeEstimates()
		matched := 0
		for _, category := range spec.Categories() {
			if estimates.Matches(category, spec) {
				matched++
			}
		}
		total += float64(matched) / float64(len(spec))
	}
	return total / float64(len(selected))
}

// topKByScore 确定性基线：按分数降序，并列按 ID 升序。
func topKByScore(pool []*entity.DbArtifact, k int) []*entity.DbArtifact {
	sorted := make([]*entity.DbArtifact, len(pool))
	copy(sorted, pool)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].OverallScore != sorted[j].OverallScore {
			return sorted[i].OverallScore > sorted[j].OverallScore
		}
		return sorted[i].ID < sorted[j].ID
	})
	if k > len(sorted) {
		k = len(sorted)
	}
	return sorted[:k]
}

func meanScore(artifacts []*entity.DbArtifact) float64 {
	if len(artifacts) == 0 {
		return 0
	}
	var sum float64
	for _, a := range artifacts {
		sum += a.OverallScore
	}
	return sum / float64(len(artifacts))
}

func artifactIDs(artifacts []*entity.DbArtifact) []string {
	ids := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		ids = append(ids, a.ID)
	}
	return ids
}

// cosineSimilarity 对空向量或零向量返回 0。
func cosineSimilarity(a, b entity.Vector) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
