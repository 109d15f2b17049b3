package genai

import (
	"atelier/internal/config"
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

type OpenRouter struct {
	apiKey   string
	endpoint string
	model    string
}

func NewOpenRouter(cfg config.Config) (*OpenRouter, error) {
	apiKey := strings.TrimSpace(cfg.OpenRouterAPIKey)
	if apiKey == "" {
		return nil, errors.New("openrouter api key is not configured")
	}

	return &OpenRouter{
		apiKey:   apiKey,
		endpoint: "https://openrouter.ai/api/v1/chat/completions",
		model:    "google/gemini-2.5-flash-image-preview",
	}, nil
}

func (o *OpenRouter) ProviderID() string {
	return ProviderOpenRouter
}

func (o *OpenRouter) DefaultModel() string {
	return o.model
}

func (o *OpenRouter) Generate(ctx context.Context, request GenerateRequest) (*GenerateResult, error) {
	if err := validateRequest(request); err != nil {
		return nil, err
	}

	model := strings.TrimSpace(request.Model)
	if model == "" {
		model = o.model
	}

	logger := providerLogger(ctx, o.ProviderID(), model)
	logger.WithFields(logrus.Fields{
		"prompt_preview": logSnippet(request.Prompt),
		"reference_cnt":  len(request.References),
	}).Info("gen_generate_start")

	imageDataURL, text, err := generateImageByOpenAIProtocol(ctx, o.apiKey, o.endpoint, model, request.Prompt, request.References)
	if err != nil {
		logger.WithError(err).Error("gen_generate_failed")
		return nil, err
	}

	logger.WithField("has_text", text != "").Info("gen_generate_success")
	return &GenerateResult{ContentURL: imageDataURL, Text: text}, nil
}
