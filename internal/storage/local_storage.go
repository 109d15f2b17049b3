package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage 把产物内容写入本地文件系统。
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage 创建本地存储，目录不存在则创建。
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		baseDir = "datas/artifacts"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// LocalBaseDir 返回文件根目录，供 HTTP 静态服务使用。
func (s *LocalStorage) LocalBaseDir() string {
	return s.baseDir
}

// Save 把字节写入磁盘，返回可用于拼接公开 URL 的相对路径。
func (s *LocalStorage) Save(ctx context.Context, data []byte, opts SaveOptions) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty payload")
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	relativePath := buildObjectPath(opts.Category, opts.BaseName, opts.Extension)
	absPath := filepath.Join(s.baseDir, filepath.FromSlash(relativePath))

	if opts.SkipIfExists {
		if _, err := os.Stat(absPath); err == nil {
			return relativePath, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(absPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	return relativePath, nil
}

var _ Storage = (*LocalStorage)(nil)
var _ LocalBaseDirProvider = (*LocalStorage)(nil)
