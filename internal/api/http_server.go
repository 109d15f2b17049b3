package api

import (
	"atelier/internal/auth"
	"atelier/internal/config"
	"atelier/internal/genai"
	"atelier/internal/model"
	"atelier/internal/service"
	"atelier/internal/storage"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPHandler HTTP 请求处理器
type HTTPHandler struct {
	cfg               config.Config
	repo              model.Repository
	storage           storage.Storage
	storagePublicBase string
	authManager       *auth.Manager

	// 服务层
	backends  *genai.Registry
	pipeline  *service.PipelineOrchestrator
	estimator *service.BufferEstimator
	learner   *service.PreferenceLearner

	// SSE 客户端管理
	sseClients map[string][]chan sseMessage
	sseMu      sync.Mutex
}

// NewHTTPHandler 创建 HTTP 处理器实例
func NewHTTPHandler(cfg config.Config, repo model.Repository, store storage.Storage) (*HTTPHandler, error) {
	expiry := time.Duration(cfg.JWTExpirationMinutes) * time.Minute
	authManager, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, expiry)
	if err != nil {
		return nil, err
	}

	backends, err := genai.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	validator, err := genai.NewVisionValidator(cfg)
	if err != nil {
		return nil, err
	}

	estimator := service.NewBufferEstimator(repo, cfg.PipelineMinSamples, cfg.PipelineDefaultBuffer, cfg.PipelineStatsWindowDays)
	filter := service.NewQualityFilter(validator, genai.NewAttributeEmbedder(), cfg.PipelineValidateParallel)
	selector := service.NewDiversitySelector(cfg.PipelineQualityTolerance)
	learner := service.NewPreferenceLearner(repo, cfg.LearnerEpsilon)
	prompts := genai.NewPromptBuilder(rand.New(rand.NewSource(time.Now().UnixNano())))

	pipeline := service.NewPipelineOrchestrator(
		repo,
		store,
		backends,
		estimator,
		filter,
		selector,
		service.NewCoverageAnalyzer(),
		learner,
		prompts,
	)

	handler := &HTTPHandler{
		cfg:               cfg,
		repo:              repo,
		storage:           store,
		storagePublicBase: normalisePublicBase(cfg.StoragePublicBaseURL),
		authManager:       authManager,
		backends:          backends,
		pipeline:          pipeline,
		estimator:         estimator,
		learner:           learner,
		sseClients:        make(map[string][]chan sseMessage),
	}

	// 设置 SSE 通知回调
	pipeline.SetNotifyFunc(handler.notifyPipelineComplete)

	return handler, nil
}

// normalisePublicBase 规范化公共 URL 基础路径
func normalisePublicBase(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		trimmed = "/files"
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return strings.TrimRight(trimmed, "/")
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}

// notifyPipelineComplete 通知流水线完成（用于 SSE 推送）
func (h *HTTPHandler) notifyPipelineComplete(clientID string, runID string, status string, errMsg string) {
	if strings.TrimSpace(clientID) == "" {
		return
	}
	payload := gin.H{
		"run_id": runID,
		"status": status,
	}
	if trimmed := strings.TrimSpace(errMsg); trimmed != "" {
		payload["error"] = trimmed
	}
	h.publishSSEMessage(clientID, sseMessage{
		event: "pipeline_completed",
		data:  payload,
	})
}
