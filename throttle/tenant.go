package throttle

import "golang.org/x/time/rate"

// TenantConfig defines rate limits and concurrency for a specific
// tenant, identified by the job's TenantID.
type TenantConfig struct {
	// TenantID is the tenant identifier.
	TenantID string

	// RateLimit is the sustained claims per second for this tenant.
	RateLimit float64

	// RateBurst is the burst size for the tenant's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this tenant. Zero
	// means no tenant-specific concurrency limit.
	MaxConcurrency int
}

// tenantState tracks runtime state for a single tenant.
type tenantState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// SetTenantConfig configures rate limits and concurrency for a specific
// tenant. Calling this multiple times for the same tenant replaces the
// previous configuration.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.tenants[cfg.TenantID]

	ts := &tenantState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	m.tenants[cfg.TenantID] = ts
}

// TenantActiveCount returns the current number of active jobs for a tenant.
func (m *Manager) TenantActiveCount(tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantID]; ts != nil {
		return ts.active
	}
	return 0
}
