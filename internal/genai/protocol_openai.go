package genai

import (
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

type oaImageURL struct {
	URL string `json:"url"`
}
type oaImage struct {
	Type     string     `json:"type"` // "image_url"
	ImageURL oaImageURL `json:"image_url"`
}

type oaDelta struct {
	Content string    `json:"content"`
	Images  []oaImage `json:"images"`
}
type oaChoice struct {
	Delta        oaDelta `json:"delta"`
	FinishReason string  `json:"finish_reason"`
	Index        int     `json:"index"`
}
type oaStreamChunk struct {
	Choices []oaChoice `json:"choices"`
}

type oaMsgPart struct {
	Type     string      `json:"type"` // "text" | "image_url"
	Text     string      `json:"text,omitempty"`
	ImageURL *oaImageURL `json:"image_url,omitempty"`
}
type oaMessage struct {
	Role    string      `json:"role"` // "system" | "user"
	Content interface{} `json:"content"`
}

type oaCompletionChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}
type oaCompletionResponse struct {
	Choices []oaCompletionChoice `json:"choices"`
}

// 参考图 data:URL 也行，http(s) 也行
func makeUserMessage(prompt string, refs []string) oaMessage {
	parts := []oaMsgPart{{Type: "text", Text: prompt}}
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		parts = append(parts, oaMsgPart{
			Type:     "image_url",
			ImageURL: &oaImageURL{URL: r},
		})
	}
	return oaMessage{Role: "user", Content: parts}
}

// generateImageByOpenAIProtocol 通过 OpenAI 兼容的 chat/completions 流式接口生成单张图。
func generateImageByOpenAIProtocol(ctx context.Context, apiKey, baseURL, model, prompt string, refs []string) (imageDataURL string, assistantText string, err error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", "", errors.New("api key missing")
	}

	reqBody := map[string]any{
		"model":      model,
		"messages":   []oaMessage{makeUserMessage(prompt, refs)},
		"modalities": []string{"image", "text"},
		"stream":     true,
	}

	bs, _ := json.Marshal(reqBody)
	req, _ := http.NewRequestWithContext(ctx, "POST", baseURL, bytes.NewReader(bs))
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	httpCli := &http.Client{Timeout: 0} // SSE 不要超短超时
	resp, err := httpCli.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		buf := new(bytes.Buffer)
		buf.ReadFrom(resp.Body)
		logrus.WithFields(logrus.Fields{
			"baseURL": baseURL,
			"status":  resp.StatusCode,
			"body":    logSnippet(buf.String()),
		}).Error("gen_stream_request_failed")
		return "", "", fmt.Errorf("upstream http %d: %s", resp.StatusCode, buf.String())
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk oaStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			assistantText += delta.Content
		}
		if len(delta.Images) > 0 && delta.Images[0].ImageURL.URL != "" && imageDataURL == "" {
			// 只取第一张
			imageDataURL = delta.Images[0].ImageURL.URL
		}
	}
	if err := sc.Err(); err != nil {
		return "", "", err
	}
	if strings.TrimSpace(imageDataURL) == "" {
		return "", "", errors.New("no image in streamed response")
	}
	return imageDataURL, strings.TrimSpace(assistantText), nil
}

// completeByOpenAIProtocol 通过 OpenAI 兼容的 chat/completions 非流式接口获取文本回答。
// 验证协作方用它对生成内容打分。
func completeByOpenAIProtocol(ctx context.Context, client *http.Client, apiKey, baseURL, model string, messages []oaMessage) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", errors.New("api key missing")
	}
	if client == nil {
		client = http.DefaultClient
	}

	reqBody := map[string]any{
		"model":    model,
		"messages": messages,
	}

	bs, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL, bytes.NewReader(bs))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != 200 {
		logrus.WithFields(logrus.Fields{
			"baseURL": baseURL,
			"status":  resp.StatusCode,
			"body":    logSnippet(string(body)),
		}).Error("gen_completion_request_failed")
		return "", fmt.Errorf("upstream http %d: %s", resp.StatusCode, logSnippet(string(body)))
	}

	var parsed oaCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("completion response has no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
