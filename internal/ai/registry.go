package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/suPer8Hu/momento/internal/config"
)

type ProviderFactory func(ctx context.Context) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(ctx)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// RegistryFromConfig registers every provider the worker can be configured
// with.
func RegistryFromConfig(cfg config.Config) *Registry {
	r := NewRegistry()
	r.Register("ollama", func(context.Context) (Provider, error) {
		return NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	})
	r.Register("openrouter", func(context.Context) (Provider, error) {
		return NewOpenRouterProvider(OpenRouterConfig{
			BaseURL: cfg.OpenRouterBaseURL,
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.OpenRouterModel,
			SiteURL: cfg.OpenRouterSiteURL,
			AppName: cfg.OpenRouterAppName,
		})
	})
	r.Register("echo", func(context.Context) (Provider, error) {
		return EchoProvider{}, nil
	})
	return r
}

// EchoProvider answers with the last user message. Local development only.
type EchoProvider struct{}

func (EchoProvider) Chat(_ context.Context, messages []Message) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return "Echo: " + messages[i].Content, nil
		}
	}
	return "", fmt.Errorf("echo: no user message")
}
