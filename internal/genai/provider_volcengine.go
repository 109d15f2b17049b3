package genai

import (
	"atelier/internal/config"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	volcModel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
)

//文档:https://www.volcengine.com/docs/82379/1824121

type Volcengine struct {
	apiKey string
	model  string

	allowedSizes map[string]struct{}
}

func NewVolcengine(cfg config.Config) (*Volcengine, error) {
	if strings.TrimSpace(cfg.VolcengineAPIKey) == "" {
		return nil, errors.New("volcengine api key is not configured")
	}

	sizes := map[string]struct{}{
		"1k": {},
		"2k": {},
		"4k": {},
	}

	return &Volcengine{
		apiKey:       cfg.VolcengineAPIKey,
		model:        "doubao-seedream-4-0-250828",
		allowedSizes: sizes,
	}, nil
}

func (v *Volcengine) ProviderID() string {
	return ProviderVolcengine
}

func (v *Volcengine) DefaultModel() string {
	return v.model
}

func (v *Volcengine) Generate(ctx context.Context, request GenerateRequest) (*GenerateResult, error) {
	if err := validateRequest(request); err != nil {
		return nil, err
	}

	model := strings.TrimSpace(request.Model)
	if model == "" {
		model = v.model
	}

	size := strings.TrimSpace(request.Size)
	if size == "" {
		size = "2K"
	}
	if _, ok := v.allowedSizes[strings.ToLower(size)]; !ok {
		return nil, errors.New("volcengine does not support size " + size)
	}

	logger := providerLogger(ctx, v.ProviderID(), model)
	logger.WithFields(logrus.Fields{
		"prompt_preview": logSnippet(request.Prompt),
		"reference_cnt":  len(request.References),
		"size":           size,
	}).Info("gen_generate_start")

	client := arkruntime.NewClientWithApiKey(v.apiKey)

	var sequentialImageGeneration volcModel.SequentialImageGeneration = "disabled"
	generateReq := volcModel.GenerateImagesRequest{
		Model:                     model,
		Prompt:                    request.Prompt,
		Image:                     request.References,
		Size:                      volcengine.String(size),
		ResponseFormat:            volcengine.String(volcModel.GenerateImagesResponseFormatURL),
		Watermark:                 volcengine.Bool(false),
		SequentialImageGeneration: &sequentialImageGeneration,
	}

	stream, err := client.GenerateImagesStreaming(ctx, generateReq)
	if err != nil {
		logger.WithError(err).Error("gen_generate_stream_open_failed")
		return nil, err
	}
	defer stream.Close()

	var (
		contentURL    string
		assistantText string
	)
	for {
		recv, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			logger.WithError(recvErr).Error("gen_generate_stream_recv_failed")
			return nil, recvErr
		}
		switch recv.Type {
		case "image_generation.partial_failed":
			if recv.Error != nil {
				assistantText = recv.Error.Message
				logger.WithField("code", recv.Error.Code).Warn("gen_generate_partial_failed")
				if strings.EqualFold(recv.Error.Code, "InternalServiceError") {
					return nil, errors.New(recv.Error.Message)
				}
			}
		case "image_generation.partial_succeeded":
			if recv.Error == nil && recv.Url != nil && contentURL == "" {
				contentURL = *recv.Url
			}
		case "image_generation.completed":
			logger.Info("gen_generate_stream_completed")
		}
	}

	if strings.TrimSpace(contentURL) == "" {
		logger.Warn("gen_generate_no_parseable_content")
		return nil, errors.New("volcengine response did not include image url")
	}

	logger.Info("gen_generate_success")
	return &GenerateResult{ContentURL: contentURL, Text: assistantText}, nil
}
