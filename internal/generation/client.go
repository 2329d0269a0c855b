// Package generation calls the external text-generation backends with a
// bounded timeout and one retry, and falls back to deterministic templated
// replies when no backend can answer.
package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"travel-assistant/internal/domain"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultRetryFactor  = 0.5
	defaultCheckTimeout = 2 * time.Second
)

// Backend is one text-generation service. Implementations must honour ctx.
type Backend interface {
	Name() string
	Available(ctx context.Context) bool
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

// Config tunes the client's time budget.
type Config struct {
	// Timeout bounds the first attempt when the request carries none.
	Timeout time.Duration
	// RetryFactor sizes the single retry as a fraction of Timeout and must
	// lie in (0, 1); anything else selects the default. A call never takes
	// longer than Timeout*(1+RetryFactor).
	RetryFactor float64
	// CheckTimeout bounds each backend availability check.
	CheckTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RetryFactor <= 0 || c.RetryFactor >= 1 {
		c.RetryFactor = defaultRetryFactor
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = defaultCheckTimeout
	}
	return c
}

// Client selects the first available backend lazily, caches it, and drops the
// cached choice after an observed failure so the next call checks again.
type Client struct {
	backends []Backend
	cfg      Config
	logger   *zap.Logger

	mu       sync.Mutex
	selected Backend
}

// New creates a Client over an ordered list of candidate backends. An empty
// list is valid: every call then falls back.
func New(backends []Backend, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	var bs []Backend
	for _, b := range backends {
		if b != nil {
			bs = append(bs, b)
		}
	}
	return &Client{
		backends: bs,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("generation"),
	}
}

// Budget returns the longest time Generate can block for the given first
// attempt timeout.
func (c *Client) Budget(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	return timeout + c.retryTimeout(timeout)
}

func (c *Client) retryTimeout(timeout time.Duration) time.Duration {
	return time.Duration(float64(timeout) * c.cfg.RetryFactor)
}

// Generate never fails: on any backend problem it returns fallback text with
// AIUsed=false and the error code set.
func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) domain.GenerationResult {
	start := time.Now()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	budgetCtx, cancel := context.WithTimeout(ctx, c.Budget(timeout))
	defer cancel()

	backend, ok := c.backend(budgetCtx)
	if !ok {
		return c.fallback(req, start, "", domain.GenErrUnavailable)
	}

	text, err := c.attempt(budgetCtx, backend, req, timeout)
	if err != nil && classify(err) == domain.GenErrTimeout && ctx.Err() == nil {
		retry := c.retryTimeout(timeout)
		c.logger.Warn("generation timed out, retrying",
			zap.String("backend", backend.Name()),
			zap.String("agent", req.AgentName),
			zap.Duration("retry_timeout", retry))
		text, err = c.attempt(budgetCtx, backend, req, retry)
	}
	if err != nil {
		c.invalidate(backend)
		code := classify(err)
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			code = domain.GenErrCanceled
		}
		c.logger.Warn("generation failed, using fallback",
			zap.String("backend", backend.Name()),
			zap.String("agent", req.AgentName),
			zap.String("reason", code),
			zap.Error(err))
		return c.fallback(req, start, backend.Name(), code)
	}

	return domain.GenerationResult{
		Text:    text,
		AIUsed:  true,
		Latency: time.Since(start),
		Backend: backend.Name(),
	}
}

func (c *Client) attempt(ctx context.Context, b Backend, req domain.GenerationRequest, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return "", ErrTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := b.Generate(attemptCtx, req)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrMalformed
	}
	return text, nil
}

// backend returns the cached backend or checks the candidates in order. The
// lock is never held while probing.
func (c *Client) backend(ctx context.Context) (Backend, bool) {
	c.mu.Lock()
	selected := c.selected
	c.mu.Unlock()
	if selected != nil {
		return selected, true
	}

	for _, b := range c.backends {
		checkCtx, cancel := context.WithTimeout(ctx, c.cfg.CheckTimeout)
		ok := b.Available(checkCtx)
		cancel()
		if !ok {
			c.logger.Debug("generation backend unavailable", zap.String("backend", b.Name()))
			continue
		}
		c.mu.Lock()
		if c.selected == nil {
			c.selected = b
			c.logger.Info("generation backend selected", zap.String("backend", b.Name()))
		}
		selected = c.selected
		c.mu.Unlock()
		return selected, true
	}
	return nil, false
}

// Status describes the generation backends for health endpoints.
type Status struct {
	Available bool     `json:"available"`
	Selected  string   `json:"selected,omitempty"`
	Backends  []string `json:"backends"`
}

// Status reports the backend Generate would use now, probing the candidates
// when none is cached.
func (c *Client) Status(ctx context.Context) Status {
	st := Status{Backends: make([]string, 0, len(c.backends))}
	for _, b := range c.backends {
		st.Backends = append(st.Backends, b.Name())
	}
	if b, ok := c.backend(ctx); ok {
		st.Available = true
		st.Selected = b.Name()
	}
	return st
}

func (c *Client) invalidate(b Backend) {
	c.mu.Lock()
	if c.selected == b {
		c.selected = nil
	}
	c.mu.Unlock()
}

func (c *Client) fallback(req domain.GenerationRequest, start time.Time, backend, code string) domain.GenerationResult {
	source := req.Query
	if strings.TrimSpace(source) == "" {
		source = req.Prompt
	}
	text := Fallback(req.AgentName, source)
	c.logger.Info("fallback reply generated",
		zap.String("agent", req.AgentName),
		zap.String("reason", code),
		zap.Int("chars", len(text)))
	return domain.GenerationResult{
		Text:    text,
		AIUsed:  false,
		Latency: time.Since(start),
		Backend: backend,
		Error:   code,
	}
}
