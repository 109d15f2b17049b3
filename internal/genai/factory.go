package genai

import (
	"atelier/internal/config"
	"fmt"
	"strings"
)

// NewBackend instantiates a Backend implementation for a provider.
func NewBackend(providerID string, cfg config.Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(providerID)) {
	case ProviderOpenRouter:
		return NewOpenRouter(cfg)
	case ProviderGemini:
		return NewGemini(cfg)
	case ProviderVolcengine:
		return NewVolcengine(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}

// Registry 按配置可用的凭据装配全部后端。
type Registry struct {
	backends map[string]Backend
}

// NewRegistry 跳过未配置凭据的后端，至少要有一个可用。
func NewRegistry(cfg config.Config) (*Registry, error) {
	backends := make(map[string]Backend)
	for _, id := range []string{ProviderOpenRouter, ProviderGemini, ProviderVolcengine} {
		backend, err := NewBackend(id, cfg)
		if err != nil {
			continue
		}
		backends[id] = backend
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("no generation backend configured")
	}
	return &Registry{backends: backends}, nil
}

// NewStaticRegistry 直接用给定后端装配注册表，按 ProviderID 索引。
func NewStaticRegistry(backends ...Backend) *Registry {
	indexed := make(map[string]Backend, len(backends))
	for _, backend := range backends {
		if backend == nil {
			continue
		}
		indexed[strings.ToLower(backend.ProviderID())] = backend
	}
	return &Registry{backends: indexed}
}

// Get returns the backend for a provider ID.
func (r *Registry) Get(providerID string) (Backend, bool) {
	if r == nil {
		return nil, false
	}
	backend, ok := r.backends[strings.ToLower(strings.TrimSpace(providerID))]
	return backend, ok
}

// IDs 返回已装配的后端标识（无序）。
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	return ids
}
