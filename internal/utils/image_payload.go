package utils

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// DecodeMediaPayload decodes an inline base64 or data URL payload and returns
// the raw bytes together with a guessed file extension (image/video).
func DecodeMediaPayload(payload string) ([]byte, string, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return nil, "", fmt.Errorf("empty media payload")
	}

	mimeType, base64Payload := SplitDataURL(trimmed)
	base64Payload = strings.TrimSpace(base64Payload)
	if base64Payload == "" {
		return nil, "", fmt.Errorf("empty base64 payload")
	}

	data, err := base64.StdEncoding.DecodeString(base64Payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64: %w", err)
	}

	ext := ExtensionFromMime(mimeType)
	if ext == "" {
		ext = ExtensionFromMime(http.DetectContentType(data))
	}
	if ext == "" {
		ext = "bin"
	}

	return data, ext, nil
}

// ExtensionFromMime 把 MIME 类型映射为文件扩展名，未知类型返回空串。
func ExtensionFromMime(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}

	switch strings.ToLower(mimeType) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/bmp":
		return "bmp"
	case "image/svg+xml":
		return "svg"
	case "image/heic":
		return "heic"
	case "image/heif":
		return "heif"
	default:
		return ""
	}
}
