package genai

import (
	"atelier/internal/config"
	"atelier/internal/utils"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

type Gemini struct {
	httpClient *http.Client
	apiKey     string
	model      string
}

func NewGemini(cfg config.Config) (*Gemini, error) {
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return nil, errors.New("gemini api key is not configured")
	}

	return &Gemini{
		httpClient: &http.Client{},
		apiKey:     cfg.GeminiAPIKey,
		model:      "gemini-2.5-flash-image-preview",
	}, nil
}

func (g *Gemini) ProviderID() string {
	return ProviderGemini
}

func (g *Gemini) DefaultModel() string {
	return g.model
}

func (g *Gemini) Generate(ctx context.Context, request GenerateRequest) (*GenerateResult, error) {
	if err := validateRequest(request); err != nil {
		return nil, err
	}

	model := strings.TrimSpace(request.Model)
	if model == "" {
		model = g.model
	}

	logger := providerLogger(ctx, g.ProviderID(), model)
	logger.WithFields(logrus.Fields{
		"prompt_length":  len([]rune(request.Prompt)),
		"prompt_preview": logSnippet(request.Prompt),
		"reference_cnt":  len(request.References),
	}).Info("gen_generate_start")

	parts := []geminiContentPart{{Text: request.Prompt}}
	for idx, ref := range request.References {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			logger.WithField("reference_index", idx).Warn("gen_generate_skip_empty_reference")
			continue
		}
		mime, data := utils.SplitDataURL(ref)
		if data == "" {
			logger.WithField("reference_index", idx).Warn("gen_generate_skip_invalid_reference")
			continue
		}
		parts = append(parts, geminiContentPart{
			InlineData: &geminiInlineData{
				MimeType: mime,
				Data:     data,
			},
		})
	}

	payload := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: parts},
		},
		GenerationConfig: &geminiConfig{
			MaxOutputTokens: 2048,
			Temperature:     0.8,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).Error("gen_generate_payload_marshal_failed")
		return nil, err
	}

	endpoint := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		logger.WithError(err).Error("gen_generate_request_build_failed")
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		logger.WithError(err).Error("gen_generate_request_failed")
		return nil, err
	}
	defer resp.Body.Close()

	logger.WithField("status", resp.StatusCode).Info("gen_generate_response_status")
	if resp.StatusCode >= http.StatusBadRequest {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			logger.WithField("status", resp.StatusCode).WithError(readErr).Error("gen_generate_response_read_failed")
			return nil, fmt.Errorf("gemini request failed with status %d", resp.StatusCode)
		}
		logger.WithFields(logrus.Fields{
			"status":       resp.StatusCode,
			"body_preview": logSnippet(string(respBody)),
		}).Warn("gen_generate_response_error")
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, errors.New(apiErr.Error.Message)
		}
		return nil, fmt.Errorf("gemini request failed with status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024), 16*1024*1024)

	var (
		imageData     string
		imageMimeType string
		textBuilder   strings.Builder
		rawBuffer     strings.Builder
		chunkIndex    int
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		rawBuffer.WriteString(line)
		rawBuffer.WriteByte('\n')
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		payloadLine := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payloadLine == "" {
			continue
		}
		if payloadLine == "[DONE]" {
			logger.WithField("chunks", chunkIndex).Info("gen_generate_stream_completed")
			break
		}

		chunkIndex++
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(payloadLine), &chunk); err != nil {
			logger.WithField("chunk_index", chunkIndex).WithError(err).Error("gen_generate_stream_chunk_unmarshal_failed")
			return nil, err
		}

		for _, candidate := range chunk.Candidates {
			for _, part := range candidate.Content.Parts {
				if part.InlineData != nil && part.InlineData.Data != "" {
					if part.InlineData.MimeType != "" {
						imageMimeType = part.InlineData.MimeType
					} else if imageMimeType == "" {
						imageMimeType = "image/png"
					}
					imageData += part.InlineData.Data
				}
				if text := strings.TrimSpace(part.Text); text != "" {
					if textBuilder.Len() > 0 {
						textBuilder.WriteString("\n")
					}
					textBuilder.WriteString(text)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		logger.WithError(err).Error("gen_generate_stream_error")
		return nil, err
	}

	textResult := strings.TrimSpace(textBuilder.String())
	logger.WithFields(logrus.Fields{
		"chunks":            chunkIndex,
		"image_bytes_total": len(imageData),
		"text_length":       len([]rune(textResult)),
	}).Info("gen_generate_stream_summary")

	if imageData != "" {
		if imageMimeType == "" {
			imageMimeType = "image/png"
		}
		logger.WithField("result", "image").Info("gen_generate_success")
		return &GenerateResult{
			ContentURL: fmt.Sprintf("data:%s;base64,%s", imageMimeType, imageData),
			Text:       textResult,
		}, nil
	}

	// 非流式回退：部分模型直接整体返回
	respBody := strings.TrimSpace(rawBuffer.String())
	if respBody != "" {
		var apiResponse geminiResponse
		if err := json.Unmarshal([]byte(respBody), &apiResponse); err == nil {
			for _, candidate := range apiResponse.Candidates {
				for _, part := range candidate.Content.Parts {
					if part.InlineData != nil && part.InlineData.Data != "" {
						mimeType := part.InlineData.MimeType
						if mimeType == "" {
							mimeType = "image/png"
						}
						logger.WithField("fallback", true).Info("gen_generate_success")
						return &GenerateResult{
							ContentURL: fmt.Sprintf("data:%s;base64,%s", mimeType, part.InlineData.Data),
						}, nil
					}
				}
			}
		}
	}

	logger.Warn("gen_generate_no_parseable_content")
	return nil, errors.New("gemini response did not include image data")
}

type geminiContentPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string              `json:"role"`
	Parts []geminiContentPart `json:"parts"`
}

type geminiConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float32 `json:"temperature,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig *geminiConfig   `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiContentPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
