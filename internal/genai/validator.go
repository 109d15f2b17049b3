package genai

import (
	"atelier/internal/config"
	"atelier/internal/entity"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Validator 对生成内容做一致性与质量打分。
// 打分方也是外部协作方，失败由调用方兜底。
type Validator interface {
	Validate(ctx context.Context, contentURL, prompt string, spec entity.AttributeSpec) (*entity.ValidationOutcome, error)
}

const validatorSystemPrompt = `You are a strict visual quality reviewer for generated fashion imagery.
Given an image, the generation prompt and a target attribute spec, reply with ONLY a JSON object:
{
  "overall_score": 0-100,
  "consistency_score": 0-100,
  "style_match_score": 0-100,
  "attributes": {"garment": "...", "color": "...", "fabric": "...", "silhouette": "...", "style": "..."},
  "reason": "short reason when scores are low, empty otherwise"
}
Estimate each attribute from the image itself. Omit attributes you cannot judge. No markdown, no extra text.`

type visionVerdict struct {
	OverallScore     float64           `json:"overall_score"`
	ConsistencyScore float64           `json:"consistency_score"`
	StyleMatchScore  float64           `json:"style_match_score"`
	Attributes       map[string]string `json:"attributes"`
	Reason           string            `json:"reason"`
}

// VisionValidator 通过 OpenAI 兼容的视觉模型接口实现 Validator。
type VisionValidator struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
}

func NewVisionValidator(cfg config.Config) (*VisionValidator, error) {
	apiKey := strings.TrimSpace(cfg.ValidatorAPIKey)
	if apiKey == "" {
		// 默认复用 OpenRouter 凭据
		apiKey = strings.TrimSpace(cfg.OpenRouterAPIKey)
	}
	if apiKey == "" {
		return nil, errors.New("validator api key is not configured")
	}

	return &VisionValidator{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    cfg.ValidatorBaseURL,
		model:      cfg.ValidatorModel,
		apiKey:     apiKey,
	}, nil
}

func (v *VisionValidator) Validate(ctx context.Context, contentURL, prompt string, spec entity.AttributeSpec) (*entity.ValidationOutcome, error) {
	if v == nil {
		return nil, errors.New("validator not initialised")
	}
	if strings.TrimSpace(contentURL) == "" {
		return nil, errors.New("content url is empty")
	}

	logger := providerLogger(ctx, "validator", v.model)

	userText := fmt.Sprintf("Generation prompt:\n%s\n\nTarget spec:\n%s", prompt, formatSpec(spec))
	messages := []oaMessage{
		{Role: "system", Content: validatorSystemPrompt},
		{Role: "user", Content: []oaMsgPart{
			{Type: "text", Text: userText},
			{Type: "image_url", ImageURL: &oaImageURL{URL: contentURL}},
		}},
	}

	raw, err := completeByOpenAIProtocol(ctx, v.httpClient, v.apiKey, v.baseURL, v.model, messages)
	if err != nil {
		logger.WithError(err).Error("gen_validate_request_failed")
		return nil, err
	}

	verdict, err := parseVisionVerdict(raw)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"body_preview": logSnippet(raw),
		}).WithError(err).Error("gen_validate_parse_failed")
		return nil, err
	}

	outcome := &entity.ValidationOutcome{
		OverallScore:    clampScore(verdict.OverallScore),
		Consistency:     clampScore(verdict.ConsistencyScore),
		StyleMatch:      clampScore(verdict.StyleMatchScore),
		RejectionReason: strings.TrimSpace(verdict.Reason),
		Attributes:      make(entity.AttributeEstimates),
	}
	for key, value := range verdict.Attributes {
		category := entity.AttributeCategory(strings.ToLower(strings.TrimSpace(key)))
		if !entity.IsValidCategory(category) {
			continue
		}
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		outcome.Attributes[category] = trimmed
	}

	logger.WithFields(logrus.Fields{
		"overall_score": outcome.OverallScore,
		"attribute_cnt": len(outcome.Attributes),
	}).Info("gen_validate_success")
	return outcome, nil
}

// parseVisionVerdict 容忍模型偶尔包上 markdown 代码块。
func parseVisionVerdict(raw string) (*visionVerdict, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	if trimmed == "" {
		return nil, errors.New("empty verdict")
	}

	var verdict visionVerdict
	if err := json.Unmarshal([]byte(trimmed), &verdict); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	return &verdict, nil
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func formatSpec(spec entity.AttributeSpec) string {
	if len(spec) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, category := range spec.Categories() {
		sb.WriteString(string(category))
		sb.WriteString(": ")
		sb.WriteString(strings.Join(spec[category], ", "))
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
