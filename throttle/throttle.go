// Package throttle controls per-model and per-tenant claim rates so a
// single tenant or an expensive model type cannot monopolize the worker
// pool's GPU-backed capacity.
package throttle

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/ricmsdev/eventcad-sub001/job"
)

// Config defines per-model-type behaviour such as rate limiting and
// concurrency.
type Config struct {
	// Model is the model type this config applies to.
	Model job.ModelType

	// MaxConcurrency limits how many jobs of this model type may run
	// simultaneously across the local worker pool. Zero means no
	// model-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained claims per second for this
	// model type. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// modelState tracks runtime state for a single model type.
type modelState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-model and per-tenant rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	models  map[job.ModelType]*modelState
	tenants map[string]*tenantState
}

// NewManager creates a Manager with the given model configurations.
// Model types not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		models:  make(map[job.ModelType]*modelState, len(configs)),
		tenants: make(map[string]*tenantState),
	}
	for _, cfg := range configs {
		m.models[cfg.Model] = newModelState(cfg)
	}
	return m
}

func newModelState(cfg Config) *modelState {
	ms := &modelState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ms.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ms
}

// Acquire checks rate limits and concurrency for the given model type
// and tenant. If the claim is allowed to proceed it increments the
// active counters and returns true. The caller MUST call Release when
// the attempt finishes.
func (m *Manager) Acquire(model job.ModelType, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check model-level constraints.
	ms := m.models[model]
	if ms != nil {
		if ms.limiter != nil && !ms.limiter.Allow() {
			return false
		}
		if ms.config.MaxConcurrency > 0 && ms.active >= ms.config.MaxConcurrency {
			return false
		}
	}

	// Check tenant-level constraints.
	if tenantID != "" {
		ts := m.tenants[tenantID]
		if ts != nil {
			if ts.limiter != nil && !ts.limiter.Allow() {
				return false
			}
			if ts.maxConcurrency > 0 && ts.active >= ts.maxConcurrency {
				return false
			}
			ts.active++
		}
	}

	// Increment model active count.
	if ms != nil {
		ms.active++
	}

	return true
}

// Release decrements the active claim count for the model and tenant.
func (m *Manager) Release(model job.ModelType, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ms := m.models[model]; ms != nil && ms.active > 0 {
		ms.active--
	}

	if tenantID != "" {
		if ts := m.tenants[tenantID]; ts != nil && ts.active > 0 {
			ts.active--
		}
	}
}

// SetModelConfig dynamically updates (or creates) a model configuration.
func (m *Manager) SetModelConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.models[cfg.Model]
	ms := newModelState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ms.active = existing.active
	}
	m.models[cfg.Model] = ms
}

// ActiveCount returns the current number of active claims for a model type.
func (m *Manager) ActiveCount(model job.ModelType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms := m.models[model]; ms != nil {
		return ms.active
	}
	return 0
}
