package ratecontrol

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Config describes per-provider search rate limits in queries per minute.
// A limit of 0 means unlimited.
type Config struct {
	SearchLimits struct {
		DefaultQPM        int `yaml:"default_qpm"`
		ProviderOverrides map[string]struct {
			QPM int `yaml:"qpm"`
		} `yaml:"provider_overrides"`
	} `yaml:"search_limits"`
}

// LoadConfig reads a limits file. A missing file is not an error: search
// simply runs unlimited.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read rate limit config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal rate limit config: %w", err)
	}
	return cfg, nil
}

// Registry hands out one token-bucket limiter per search provider so that
// concurrent branch executions share a provider's budget.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// NewRegistry builds a registry from an already-loaded config.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
}

// QPMFor resolves the configured queries-per-minute for a provider.
func (r *Registry) QPMFor(provider string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.qpmLocked(strings.ToLower(strings.TrimSpace(provider)))
}

func (r *Registry) qpmLocked(key string) int {
	if override, ok := r.cfg.SearchLimits.ProviderOverrides[key]; ok {
		return override.QPM
	}
	return r.cfg.SearchLimits.DefaultQPM
}

// Wait blocks until the provider's limiter admits one query, or the context
// is cancelled. Providers without a configured limit pass straight through.
func (r *Registry) Wait(ctx context.Context, provider string) error {
	lim := r.limiterFor(provider)
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

func (r *Registry) limiterFor(provider string) *rate.Limiter {
	key := strings.ToLower(strings.TrimSpace(provider))
	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok := r.limiters[key]; ok {
		return lim
	}
	qpm := r.qpmLocked(key)
	if qpm <= 0 {
		r.limiters[key] = nil
		return nil
	}
	lim := rate.NewLimiter(rate.Limit(float64(qpm)/60.0), 1)
	r.limiters[key] = lim
	r.logger.Info("search rate limiter installed",
		zap.String("provider", key),
		zap.Int("qpm", qpm),
	)
	return lim
}

// Reload swaps in a new config and drops cached limiters so new limits take
// effect on the next Wait.
func (r *Registry) Reload(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.limiters = make(map[string]*rate.Limiter)
}
