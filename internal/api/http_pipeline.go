package api

import (
	"atelier/internal/entity"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ListProviders 返回已配置凭据的生成后端。
func (h *HTTPHandler) ListProviders(c *gin.Context) {
	ids := h.backends.IDs()
	providers := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		backend, ok := h.backends.Get(id)
		if !ok {
			continue
		}
		providers = append(providers, gin.H{
			"id":            id,
			"default_model": backend.DefaultModel(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// ProviderBufferEstimate 返回某后端当前的缓冲估计与统计来源。
func (h *HTTPHandler) ProviderBufferEstimate(c *gin.Context) {
	providerID := strings.TrimSpace(c.Param("id"))
	if _, ok := h.backends.Get(providerID); !ok {
		c.JSON(http.StatusNotFound, APIError{Code: ErrCodeProviderNotFound, Message: "未知的生成后端"})
		return
	}

	count := 10
	if raw := strings.TrimSpace(c.Query("count")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			count = parsed
		}
	}
	confidence := 0.95
	if raw := strings.TrimSpace(c.Query("confidence")); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed > 0 {
			confidence = parsed
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	estimate := h.estimator.Estimate(ctx, providerID, count, confidence)
	stats, _ := h.estimator.Stats(ctx, providerID)
	c.JSON(http.StatusOK, gin.H{
		"estimate": estimate,
		"stats":    stats,
	})
}

// SubmitPipeline 接收生成请求并异步执行，立即返回运行 ID。
func (h *HTTPHandler) SubmitPipeline(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var request entity.PipelineRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	request.Prompt = strings.TrimSpace(request.Prompt)
	if request.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	run, err := h.pipeline.Submit(c.Request.Context(), requestUser.ID, request)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id":  requestUser.ID,
			"provider": request.ProviderID,
		}).Warn("pipeline_submit_rejected")
		c.JSON(http.StatusBadRequest, APIError{Code: ErrCodePipelineFailed, Message: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, entity.PipelineAcceptedResponse{
		RunID:  run.ID,
		Status: run.Status,
	})
}

// ListRuns 分页返回运行记录，普通用户只能看到自己的。
func (h *HTTPHandler) ListRuns(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var params entity.RunQuery
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	if requestUser.IsAdmin() {
		params.IncludeAll = true
		if userFilter := strings.TrimSpace(c.Query("user_id")); userFilter != "" {
			if parsed, err := strconv.ParseUint(userFilter, 10, 64); err == nil && parsed > 0 {
				params.UserID = uint(parsed)
				params.IncludeAll = false
			}
		}
	} else {
		params.UserID = requestUser.ID
		params.IncludeAll = false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	runs, meta, err := h.repo.ListPipelineRuns(ctx, &params)
	if err != nil {
		logrus.WithError(err).Error("failed to list pipeline runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pipeline runs"})
		return
	}

	items := make([]entity.RunItem, 0, len(runs))
	for idx := range runs {
		items = append(items, makeRunItem(&runs[idx]))
	}
	if meta == nil {
		meta = &entity.Meta{Page: int64(params.Page), PageSize: int64(params.PageSize), Total: int64(len(items))}
	}

	c.JSON(http.StatusOK, entity.RunListResponse{Runs: items, Meta: meta})
}

// GetRun 返回单次运行的遥测与全部产物。
func (h *HTTPHandler) GetRun(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	runID := strings.TrimSpace(c.Param("id"))
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	run, err := h.repo.GetPipelineRun(ctx, runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, APIError{Code: ErrCodeRunNotFound, Message: "运行记录不存在"})
			return
		}
		logrus.WithError(err).WithField("run_id", runID).Error("failed to load pipeline run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pipeline run"})
		return
	}

	if run.UserID != requestUser.ID && !requestUser.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
		return
	}

	artifacts, err := h.repo.ListRunArtifacts(ctx, run.ID)
	if err != nil {
		logrus.WithError(err).WithField("run_id", runID).Error("failed to load run artifacts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run artifacts"})
		return
	}

	items := make([]entity.ArtifactItem, 0, len(artifacts))
	for idx := range artifacts {
		items = append(items, h.makeArtifactItem(&artifacts[idx]))
	}

	c.JSON(http.StatusOK, entity.RunDetailResponse{
		Run:       makeRunItem(run),
		Artifacts: items,
		Coverage:  run.CoverageReport,
	})
}

// StreamPipelineEvents 建立 SSE 连接，推送流水线完成事件。
func (h *HTTPHandler) StreamPipelineEvents(c *gin.Context) {
	requestUser := CurrentUser(c)
	if requestUser == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	clientID := strings.TrimSpace(c.Query("client_id"))
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id is required"})
		return
	}

	ctx := c.Request.Context()
	events := make(chan sseMessage, 8)
	h.registerSSEClient(clientID, events)
	defer h.unregisterSSEClient(clientID, events)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	if flusher, ok := c.Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	heartbeatTicker := time.NewTicker(10 * time.Second)
	defer heartbeatTicker.Stop()

	logrus.WithFields(logrus.Fields{
		"user_id":   requestUser.ID,
		"client_id": clientID,
	}).Info("pipeline sse connected")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"user_id":   requestUser.ID,
				"client_id": clientID,
			}).Info("pipeline sse disconnected")
			return false
		case <-heartbeatTicker.C:
			c.SSEvent("ping", gin.H{"ts": time.Now().UnixMilli()})
			return true
		case msg, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(msg.event, msg.data)
			return true
		}
	})
}

func makeRunItem(run *entity.DbPipelineRun) entity.RunItem {
	if run == nil {
		return entity.RunItem{}
	}
	item := entity.RunItem{
		ID:             run.ID,
		ProviderID:     run.ProviderID,
		Mode:           run.Mode,
		Status:         run.Status,
		Prompt:         run.Prompt,
		RequestedCount: run.RequestedCount,
		BufferPercent:  run.BufferPercent,
		GeneratedCount: run.GeneratedCount,
		AcceptedCount:  run.AcceptedCount,
		RejectedCount:  run.RejectedCount,
		SelectedCount:  run.SelectedCount,
		DiversityScore: run.DiversityScore,
		CoverageScore:  run.CoverageScore,
		CoverageStatus: run.CoverageStatus,
		DurationMs:     run.DurationMs,
		ErrorMessage:   run.ErrorMessage,
		CreatedAt:      run.CreatedAt,
	}
	if run.User != nil {
		item.User = makeUserSummary(run.User)
	}
	return item
}

func (h *HTTPHandler) makeArtifactItem(artifact *entity.DbArtifact) entity.ArtifactItem {
	if artifact == nil {
		return entity.ArtifactItem{}
	}
	// 未入选产物可能仍持有内联 data URL，不回传原始负载
	contentPath := artifact.ContentPath
	contentURL := ""
	if !strings.HasPrefix(contentPath, "data:") {
		contentURL = h.publicURL(contentPath)
	} else {
		contentPath = ""
	}
	return entity.ArtifactItem{
		ID:              artifact.ID,
		ProviderID:      artifact.ProviderID,
		ContentPath:     contentPath,
		ContentURL:      contentURL,
		Status:          artifact.Status,
		OverallScore:    artifact.OverallScore,
		IsRejected:      artifact.IsRejected,
		RejectionReason: artifact.RejectionReason,
		Attributes:      artifact.Attributes,
	}
}
