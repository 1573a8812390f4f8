package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
)

const slowPingThreshold = 100 * time.Millisecond

// RedisHealthChecker checks the breaker-guarded Redis client used for
// memory snapshots and the search cache.
type RedisHealthChecker struct {
	wrapper  *circuitbreaker.RedisWrapper
	critical bool
	timeout  time.Duration
}

// NewRedisHealthChecker creates a Redis health checker. Redis only backs
// caches and snapshots, so it is non-critical unless critical is set.
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper, critical bool) *RedisHealthChecker {
	return &RedisHealthChecker{wrapper: wrapper, critical: critical, timeout: 5 * time.Second}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return r.critical }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	if r.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Redis circuit breaker is open",
		}
	}
	start := time.Now()
	err := r.wrapper.Ping(ctx).Err()
	return latencyResult("Redis", time.Since(start), err)
}

// Pinger is satisfied by the SQL report store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseHealthChecker checks report store connectivity.
type DatabaseHealthChecker struct {
	db      Pinger
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a database health checker
func NewDatabaseHealthChecker(db Pinger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{db: db, timeout: 5 * time.Second}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return true }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := d.db.Ping(ctx)
	return latencyResult("Database", time.Since(start), err)
}

func latencyResult(component string, latency time.Duration, err error) CheckResult {
	details := map[string]interface{}{"latency_ms": latency.Milliseconds()}
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: component + " ping failed",
			Details: details,
		}
	}
	if latency > slowPingThreshold {
		return CheckResult{
			Status:  StatusDegraded,
			Message: component + " responding but with high latency",
			Details: details,
		}
	}
	return CheckResult{Status: StatusHealthy, Message: component + " healthy", Details: details}
}

// BreakerHealthChecker reports degraded while any registered circuit breaker
// is open.
type BreakerHealthChecker struct {
	registry *circuitbreaker.Registry
}

// NewBreakerHealthChecker creates a checker over registry, defaulting to the
// process-wide registry.
func NewBreakerHealthChecker(registry *circuitbreaker.Registry) *BreakerHealthChecker {
	if registry == nil {
		registry = circuitbreaker.Default
	}
	return &BreakerHealthChecker{registry: registry}
}

func (b *BreakerHealthChecker) Name() string           { return "circuit_breakers" }
func (b *BreakerHealthChecker) IsCritical() bool       { return false }
func (b *BreakerHealthChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerHealthChecker) Check(context.Context) CheckResult {
	open := b.registry.Open()
	if len(open) == 0 {
		return CheckResult{Status: StatusHealthy, Message: "All circuit breakers closed"}
	}
	sort.Strings(open)
	return CheckResult{
		Status:  StatusDegraded,
		Message: fmt.Sprintf("%d circuit breaker(s) open: %s", len(open), strings.Join(open, ", ")),
		Details: map[string]interface{}{"open": open},
	}
}

// LLMServiceHealthChecker probes the completion service's /health endpoint.
type LLMServiceHealthChecker struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
	timeout  time.Duration
}

// NewLLMServiceHealthChecker creates an LLM service health checker for baseURL.
func NewLLMServiceHealthChecker(baseURL string, logger *zap.Logger) *LLMServiceHealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMServiceHealthChecker{
		endpoint: strings.TrimRight(baseURL, "/") + "/health",
		client:   &http.Client{},
		logger:   logger,
		timeout:  5 * time.Second,
	}
}

func (l *LLMServiceHealthChecker) Name() string           { return "llm_service" }
func (l *LLMServiceHealthChecker) IsCritical() bool       { return false }
func (l *LLMServiceHealthChecker) Timeout() time.Duration { return l.timeout }

func (l *LLMServiceHealthChecker) Check(ctx context.Context) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusUnknown, Error: err.Error(), Message: "invalid LLM service endpoint"}
	}
	start := time.Now()
	resp, err := l.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		l.logger.Debug("LLM service health probe failed", zap.Error(err))
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "LLM service unreachable"}
	}
	defer resp.Body.Close()

	details := map[string]interface{}{
		"status_code": resp.StatusCode,
		"latency_ms":  latency.Milliseconds(),
	}
	if resp.StatusCode >= 500 {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   resp.Status,
			Message: "LLM service returned an error",
			Details: details,
		}
	}
	if resp.StatusCode >= 400 {
		return CheckResult{Status: StatusDegraded, Message: "LLM service returned " + resp.Status, Details: details}
	}
	return CheckResult{Status: StatusHealthy, Message: "LLM service healthy", Details: details}
}

// CustomHealthChecker adapts a plain function into a Checker.
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	check    func(ctx context.Context) error
}

// NewCustomHealthChecker creates a checker that is healthy while check
// returns nil.
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, check func(ctx context.Context) error) *CustomHealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, check: check}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	if err := c.check(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.name + " check failed"}
	}
	return CheckResult{Status: StatusHealthy, Message: c.name + " healthy"}
}
