package service

import (
	"atelier/internal/entity"
	"atelier/internal/genai"
	"atelier/internal/model"
	"atelier/internal/storage"
	"atelier/internal/utils"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	pipelineTimeout         = 10 * time.Minute
	generationTimeout       = 5 * time.Minute
	generationParallel      = 4
	defaultTargetConfidence = 0.95
)

// PipelineOrchestrator 串联五个阶段：缓冲估计 → 生成 → 质量过滤 →
// 多样性选择 → 覆盖分析，并把被淘汰产物回灌给偏好学习器。
// 各阶段失败逐级降级，最坏情况返回前 N 个原始产物，绝不向调用方抛致命错误。
type PipelineOrchestrator struct {
	repo      model.Repository
	storage   storage.Storage
	backends  *genai.Registry
	estimator *BufferEstimator
	filter    *QualityFilter
	selector  *DiversitySelector
	coverage  *CoverageAnalyzer
	learner   *PreferenceLearner
	prompts   *genai.PromptBuilder

	// notifyFunc 用于通知流水线完成事件（由调用方设置）
	notifyFunc func(clientID string, runID string, status string, errMsg string)
}

// NewPipelineOrchestrator 创建流水线编排器。
func NewPipelineOrchestrator(
	repo model.Repository,
	store storage.Storage,
	backends *genai.Registry,
	estimator *BufferEstimator,
	filter *QualityFilter,
	selector *DiversitySelector,
	coverage *CoverageAnalyzer,
	learner *PreferenceLearner,
	prompts *genai.PromptBuilder,
) *PipelineOrchestrator {
	return &PipelineOrchestrator{
		repo:      repo,
		storage:   store,
		backends:  backends,
		estimator: estimator,
		filter:    filter,
		selector:  selector,
		coverage:  coverage,
		learner:   learner,
		prompts:   prompts,
	}
}

// SetNotifyFunc 设置通知函数（用于 SSE 推送）
func (o *PipelineOrchestrator) SetNotifyFunc(fn func(clientID string, runID string, status string, errMsg string)) {
	o.notifyFunc = fn
}

// Submit 创建运行记录并异步执行流水线，立即返回运行 ID。
func (o *PipelineOrchestrator) Submit(ctx context.Context, userID uint, request entity.PipelineRequest) (*entity.DbPipelineRun, error) {
	if _, ok := o.backends.Get(request.ProviderID); !ok {
		return nil, fmt.Errorf("unknown provider: %s", request.ProviderID)
	}
	spec := request.Spec()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	mode := strings.TrimSpace(request.Mode)
	if mode == "" {
		mode = entity.RunModeSpecific
	}
	if mode != entity.RunModeSpecific && mode != entity.RunModeExploratory {
		return nil, fmt.Errorf("unknown mode: %s", mode)
	}

	targetSpec := make(entity.JSONMap, len(request.TargetSpec))
	for key, values := range request.TargetSpec {
		targetSpec[key] = values
	}

	run := &entity.DbPipelineRun{
		ID:             uuid.NewString(),
		UserID:         userID,
		ProviderID:     request.ProviderID,
		Mode:           mode,
		Status:         entity.RunStatusPending,
		Prompt:         request.Prompt,
		TargetSpec:     targetSpec,
		RequestedCount: request.Count,
	}
	if err := o.repo.CreatePipelineRun(ctx, run); err != nil {
		return nil, err
	}

	go o.execute(run, request, spec, mode)
	return run, nil
}

// execute 在独立超时上下文中跑完整条流水线。
func (o *PipelineOrchestrator) execute(run *entity.DbPipelineRun, request entity.PipelineRequest, spec entity.AttributeSpec, mode string) {
	ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
	defer cancel()

	start := time.Now()
	logger := logrus.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"provider": run.ProviderID,
		"user_id":  run.UserID,
	})
	logger.Info("pipeline_start")

	o.updateRun(ctx, run.ID, entity.RunUpdates{Status: strPtr(entity.RunStatusRunning)})

	// 阶段一：缓冲估计（内部兜底，永不失败）
	estimate := o.estimator.Estimate(ctx, run.ProviderID, run.RequestedCount, defaultTargetConfidence)

	// 阶段二：生成（外部后端，容忍部分失败）
	artifacts := o.generate(ctx, run, request, spec, mode, estimate.ExpectedGenerated, logger)
	if len(artifacts) == 0 {
		o.finishRun(ctx, run, estimate, nil, entity.SelectionResult{}, nil, FilterResult{}, start, entity.RunStatusFailed, "generation produced no artifacts")
		o.notify(request.ClientID, run.ID, entity.RunStatusFailed, "generation produced no artifacts")
		return
	}

	if err := o.repo.CreateArtifacts(ctx, artifacts); err != nil {
		logger.WithError(err).Error("pipeline_artifacts_persist_failed")
	}

	// 阶段三：质量过滤
	filterResult := o.filter.Filter(ctx, artifacts, run.Prompt, spec)

	// 阶段四：多样性选择
	selection := o.selector.Select(filterResult.Accepted, run.RequestedCount, spec)
	if len(selection.Selected) == 0 && len(artifacts) > 0 {
		// 最坏情况：无一通过验证，返回前 N 个原始产物
		fallbackCount := run.RequestedCount
		if fallbackCount > len(artifacts) {
			fallbackCount = len(artifacts)
		}
		selection.Selected = artifacts[:fallbackCount]
		selection.SelectedIDs = artifactIDs(selection.Selected)
		selection.Degraded = true
		logger.Warn("pipeline_raw_fallback")
	}

	// 阶段五：覆盖分析（失败只丢报告，不影响结果）
	report := o.coverage.Analyze(selection.Selected, spec)

	o.persistOutcomes(ctx, artifacts, selection, logger)

	// 淘汰产物作为隐式负反馈回灌画像
	discarded := collectDiscarded(artifacts, selection)
	o.learner.ApplyDiscardedAsNegative(ctx, run.UserID, discarded)

	status := entity.RunStatusCompleted
	if filterResult.Degraded || selection.Degraded {
		status = entity.RunStatusDegraded
	}
	o.finishRun(ctx, run, estimate, report, selection, artifacts, filterResult, start, status, "")
	o.notify(request.ClientID, run.ID, status, "")

	logger.WithFields(logrus.Fields{
		"generated": len(artifacts),
		"accepted":  len(filterResult.Accepted),
		"selected":  len(selection.Selected),
		"status":    status,
		"duration":  time.Since(start).String(),
	}).Info("pipeline_done")
}

// generate 并发调用生成后端，单次失败只损失一个候选。
func (o *PipelineOrchestrator) generate(ctx context.Context, run *entity.DbPipelineRun, request entity.PipelineRequest, spec entity.AttributeSpec, mode string, count int, logger *logrus.Entry) []*entity.DbArtifact {
	backend, ok := o.backends.Get(run.ProviderID)
	if !ok {
		return nil
	}

	var profileSet entity.DistributionSet
	epsilon := 0.15
	if profile, err := o.learner.Profile(ctx, run.UserID); err == nil {
		epsilon = profile.Epsilon
		if set, err := profile.DistributionSet(); err == nil {
			profileSet = set
		}
	}

	prompts := o.prompts.Build(run.Prompt, spec, profileSet, epsilon, mode, count)

	results := make([]*entity.DbArtifact, len(prompts))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(generationParallel)
	for i, prompt := range prompts {
		i, prompt := i, prompt
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(groupCtx, generationTimeout)
			defer cancel()

			result, err := backend.Generate(callCtx, genai.GenerateRequest{Prompt: prompt})
			if err != nil || result == nil || strings.TrimSpace(result.ContentURL) == "" {
				logger.WithError(err).WithField("candidate_index", i).Warn("pipeline_generate_candidate_failed")
				return nil
			}

			results[i] = &entity.DbArtifact{
				ID:          uuid.NewString(),
				RunID:       run.ID,
				ProviderID:  run.ProviderID,
				ContentPath: result.ContentURL,
				Status:      entity.ArtifactStatusGenerated,
			}
			return nil
		})
	}
	_ = g.Wait()

	artifacts := make([]*entity.DbArtifact, 0, len(results))
	for _, a := range results {
		if a != nil {
			artifacts = append(artifacts, a)
		}
	}
	return artifacts
}

// persistOutcomes 落存储与终态：入选 kept、通过未入选 discarded、未过滤 rejected。
func (o *PipelineOrchestrator) persistOutcomes(ctx context.Context, artifacts []*entity.DbArtifact, selection entity.SelectionResult, logger *logrus.Entry) {
	selectedSet := make(map[string]bool, len(selection.SelectedIDs))
	for _, id := range selection.SelectedIDs {
		selectedSet[id] = true
	}

	for _, artifact := range artifacts {
		switch {
		case selectedSet[artifact.ID]:
			artifact.Status = entity.ArtifactStatusKept
		case artifact.IsRejected:
			artifact.Status = entity.ArtifactStatusRejected
		default:
			artifact.Status = entity.ArtifactStatusDiscarded
		}

		// 入选产物的内容异步性最强，落稳定存储；其余保留原始引用
		if artifact.Status == entity.ArtifactStatusKept {
			if stored, err := o.storeContent(ctx, artifact); err != nil {
				logger.WithError(err).WithField("artifact_id", artifact.ID).Warn("pipeline_store_content_failed")
			} else if stored != "" {
				artifact.ContentPath = stored
			}
		}

		updates := entity.ArtifactUpdates{
			Status:           &artifact.Status,
			ContentPath:      &artifact.ContentPath,
			OverallScore:     &artifact.OverallScore,
			ConsistencyScore: &artifact.ConsistencyScore,
			StyleMatchScore:  &artifact.StyleMatchScore,
			IsRejected:       &artifact.IsRejected,
			RejectionReason:  &artifact.RejectionReason,
			Attributes:       &artifact.Attributes,
			Embedding:        &artifact.Embedding,
		}
		if err := o.repo.UpdateArtifact(ctx, artifact.ID, updates); err != nil {
			logger.WithError(err).WithField("artifact_id", artifact.ID).Warn("pipeline_artifact_update_failed")
		}
	}
}

// storeContent 把 data URL 内容写入存储后端，远程链接原样保留。
func (o *PipelineOrchestrator) storeContent(ctx context.Context, artifact *entity.DbArtifact) (string, error) {
	if o.storage == nil {
		return "", nil
	}
	payload := artifact.ContentPath
	if strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://") {
		return "", nil
	}

	data, ext, err := utils.DecodeMediaPayload(payload)
	if err != nil {
		return "", err
	}
	return o.storage.Save(ctx, data, storage.SaveOptions{
		Category:  "artifacts",
		Extension: ext,
		BaseName:  artifact.ID,
	})
}

func (o *PipelineOrchestrator) finishRun(ctx context.Context, run *entity.DbPipelineRun, estimate entity.BufferEstimate, report *entity.CoverageReport, selection entity.SelectionResult, artifacts []*entity.DbArtifact, filterResult FilterResult, start time.Time, status, errMsg string) {
	generated := len(artifacts)
	accepted := len(filterResult.Accepted)
	rejected := len(filterResult.Rejected)

	discardRate := 0.0
	avgQuality := 0.0
	if generated > 0 {
		discardRate = 1 - float64(accepted)/float64(generated)
		var sum float64
		for _, a := range artifacts {
			sum += a.OverallScore
		}
		avgQuality = sum / float64(generated)
	}

	durationMs := time.Since(start).Milliseconds()
	updates := entity.RunUpdates{
		Status:            &status,
		BufferPercent:     &estimate.BufferPercent,
		BufferDefault:     &estimate.IsDefault,
		GeneratedCount:    &generated,
		AcceptedCount:     &accepted,
		RejectedCount:     &rejected,
		DiscardRate:       &discardRate,
		AvgQuality:        &avgQuality,
		DiversityScore:    &selection.DiversityScore,
		AvgPairDistance:   &selection.AvgPairDistance,
		SelectionDegraded: &selection.Degraded,
		FilterDegraded:    &filterResult.Degraded,
		DurationMs:        &durationMs,
	}
	selectedCount := len(selection.Selected)
	updates.SelectedCount = &selectedCount
	if errMsg != "" {
		updates.ErrorMessage = &errMsg
	}
	if report != nil {
		updates.CoverageScore = &report.OverallScore
		coverageStatus := string(report.Status)
		updates.CoverageStatus = &coverageStatus
		if raw := coverageReportMap(report); raw != nil {
			updates.CoverageReport = &raw
		}
	}
	o.updateRun(ctx, run.ID, updates)
}

func (o *PipelineOrchestrator) updateRun(ctx context.Context, runID string, updates entity.RunUpdates) {
	if err := o.repo.UpdatePipelineRun(ctx, runID, updates); err != nil {
		logrus.WithError(err).WithField("run_id", runID).Error("pipeline_run_update_failed")
	}
}

func (o *PipelineOrchestrator) notify(clientID, runID, status, errMsg string) {
	if o.notifyFunc == nil || strings.TrimSpace(clientID) == "" {
		return
	}
	o.notifyFunc(clientID, runID, status, errMsg)
}

// collectDiscarded 汇总被过滤与通过但未入选的产物。
func collectDiscarded(artifacts []*entity.DbArtifact, selection entity.SelectionResult) []*entity.DbArtifact {
	selectedSet := make(map[string]bool, len(selection.SelectedIDs))
	for _, id := range selection.SelectedIDs {
		selectedSet[id] = true
	}
	out := make([]*entity.DbArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		if !selectedSet[a.ID] {
			out = append(out, a)
		}
	}
	return out
}

func coverageReportMap(report *entity.CoverageReport) entity.JSONMap {
	if report == nil {
		return nil
	}
	ratios := make(map[string]interface{}, len(report.Ratios))
	for category, ratio := range report.Ratios {
		ratios[string(category)] = ratio
	}
	gaps := make([]interface{}, 0, len(report.Gaps))
	for _, gap := range report.Gaps {
		gaps = append(gaps, map[string]interface{}{
			"category":  string(gap.Category),
			"requested": gap.Requested,
			"ratio":     gap.Ratio,
			"shortfall": gap.Shortfall,
			"severity":  string(gap.Severity),
		})
	}
	return entity.JSONMap{
		"ratios":        ratios,
		"gaps":          gaps,
		"overall_score": report.OverallScore,
		"status":        string(report.Status),
	}
}

func strPtr(s string) *string {
	return &s
}
