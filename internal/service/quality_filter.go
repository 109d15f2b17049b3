package service

import (
	"atelier/internal/entity"
	"atelier/internal/genai"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FilterResult 是一次质量过滤的完整结果。
// accepted/rejected 保持各自在输入中的相对顺序。
type FilterResult struct {
	Accepted []*entity.DbArtifact
	Rejected []*entity.DbArtifact
	Outcomes []entity.ValidationOutcome

	AvgAccepted float64
	AvgRejected float64
	Degraded    bool // 有产物走了兜底打分
}

// QualityFilter 并发验证候选产物并按阈值分流。
// 单个产物的验证失败不会中断批次：失败置零分并标记驳回。
type QualityFilter struct {
	validator genai.Validator
	embedder  *genai.AttributeEmbedder

	parallel int
	timeout  time.Duration
}

// NewQualityFilter 创建质量过滤器。parallel 为并发验证上限。
func NewQualityFilter(validator genai.Validator, embedder *genai.AttributeEmbedder, parallel int) *QualityFilter {
	if parallel <= 0 {
		parallel = 8
	}
	if embedder == nil {
		embedder = genai.NewAttributeEmbedder()
	}
	return &QualityFilter{
		validator: validator,
		embedder:  embedder,
		parallel:  parallel,
		timeout:   90 * time.Second,
	}
}

// Filter 验证全部产物并产出接受/驳回两个分区。
// 每个产物的 Status、评分、属性、嵌入向量都会就地写回。
func (f *QualityFilter) Filter(ctx context.Context, artifacts []*entity.DbArtifact, prompt string, spec entity.AttributeSpec) FilterResult {
	if len(artifacts) == 0 {
		return FilterResult{}
	}

	outcomes := make([]entity.ValidationOutcome, len(artifacts))
	var mu sync.Mutex
	degraded := false

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallel)

	for i, artifact := range artifacts {
		i, artifact := i, artifact
		g.Go(func() error {
			outcome, failed := f.validateOne(groupCtx, artifact, prompt, spec)
			if failed {
				mu.Lock()
				degraded = true
				mu.Unlock()
			}
			outcomes[i] = outcome
			return nil
		})
	}
	// worker 从不返回错误，失败已转成兜底结果
	_ = g.Wait()

	result := FilterResult{
		Outcomes: outcomes,
		Degraded: degraded,
	}

	var sumAccepted, sumRejected float64
	for i, artifact := range artifacts {
		outcome := outcomes[i]
		artifact.OverallScore = outcome.OverallScore
		artifact.ConsistencyScore = outcome.Consistency
		artifact.StyleMatchScore = outcome.StyleMatch
		artifact.IsRejected = outcome.IsRejected
		artifact.RejectionReason = outcome.RejectionReason
		if len(outcome.Attributes) > 0 {
			attrs := make(entity.JSONMap, len(outcome.Attributes))
			for category, value := range outcome.Attributes {
				attrs[string(category)] = value
			}
			artifact.Attributes = attrs
		}
		artifact.Embedding = f.embedder.Embed(outcome.Attributes)

		if artifact.Accepted() {
			artifact.Status = entity.ArtifactStatusGenerated
			result.Accepted = append(result.Accepted, artifact)
			sumAccepted += outcome.OverallScore
		} else {
			artifact.IsRejected = true
			artifact.Status = entity.ArtifactStatusRejected
			result.Rejected = append(result.Rejected, artifact)
			sumRejected += outcome.OverallScore
		}
	}

	if len(result.Accepted) > 0 {
		result.AvgAccepted = sumAccepted / float64(len(result.Accepted))
	}
	if len(result.Rejected) > 0 {
		result.AvgRejected = sumRejected / float64(len(result.Rejected))
	}

	logrus.WithFields(logrus.Fields{
		"total":        len(artifacts),
		"accepted":     len(result.Accepted),
		"rejected":     len(result.Rejected),
		"avg_accepted": result.AvgAccepted,
		"avg_rejected": result.AvgRejected,
		"degraded":     degraded,
	}).Info("quality_filter_done")

	return result
}

// validateOne 验证单个产物，失败时返回零分驳回的兜底结果。
func (f *QualityFilter) validateOne(ctx context.Context, artifact *entity.DbArtifact, prompt string, spec entity.AttributeSpec) (entity.ValidationOutcome, bool) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	outcome, err := f.validator.Validate(callCtx, artifact.ContentPath, prompt, spec)
	if err != nil || outcome == nil {
		logrus.WithError(err).WithField("artifact_id", artifact.ID).Warn("quality_filter_validate_failed")
		return entity.ValidationOutcome{
			ArtifactID:      artifact.ID,
			OverallScore:    0,
			IsRejected:      true,
			RejectionReason: "validation failed",
		}, true
	}

	outcome.ArtifactID = artifact.ID
	// 阈值之下一律视为驳回，保证 isRejected ⇒ score < 阈值 的约束
	if outcome.OverallScore < entity.ValidationAcceptThreshold {
		outcome.IsRejected = true
		if outcome.RejectionReason == "" {
			outcome.RejectionReason = "below quality threshold"
		}
	} else {
		outcome.IsRejected = false
	}
	return *outcome, false
}
