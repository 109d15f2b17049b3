package genai

import (
	"context"
	"errors"
	"strings"
)

// 已接入的生成后端
const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderVolcengine = "volcengine"
)

// GenerateRequest 是对外部生成后端的一次调用。
type GenerateRequest struct {
	Model      string
	Prompt     string
	Size       string
	References []string // data URL 或 http(s) 链接
}

// GenerateResult 是一次生成调用的产出。
type GenerateResult struct {
	// ContentURL 是生成内容的 data URL 或可下载链接。
	ContentURL string
	// Text 是后端随内容返回的说明文本，可为空。
	Text string
}

// Backend 定义外部内容生成后端的接口。
// 后端被视为不可靠协作方：调用方必须容忍部分失败。
type Backend interface {
	ProviderID() string
	DefaultModel() string
	Generate(ctx context.Context, request GenerateRequest) (*GenerateResult, error)
}

// validateRequest 做后端无关的基础校验。
func validateRequest(request GenerateRequest) error {
	if strings.TrimSpace(request.Prompt) == "" {
		return errors.New("prompt is required")
	}
	return nil
}
