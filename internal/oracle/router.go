package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgallion1/booksage/internal/metrics"
)

// Route overrides provider order for one routing key.
type Route struct {
	ProviderPriority []string `yaml:"provider_priority" json:"provider_priority"`
}

// RouterConfig controls provider selection.
type RouterConfig struct {
	DefaultPriority []string         `yaml:"default_provider_priority" json:"default_provider_priority"`
	Routing         map[string]Route `yaml:"routing" json:"routing"`
}

// Binding pairs a provider with its configured models and sampling defaults.
type Binding struct {
	Provider Provider
	Config   ProviderConfig
}

// Router implements Oracle over a set of providers. For each task it walks
// the configured provider order, serving from cache when possible, retrying
// transient and malformed replies with backoff, and falling back to the next
// provider when one gives up.
type Router struct {
	bindings []Binding // declaration order
	byName   map[string]Binding
	cfg      RouterConfig
	cache    Cache
	stats    *Stats
	log      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithCache injects a response cache.
func WithCache(c Cache) RouterOption {
	return func(r *Router) { r.cache = c }
}

// WithStats records call latencies.
func WithStats(s *Stats) RouterOption {
	return func(r *Router) { r.stats = s }
}

// WithSleep replaces the backoff sleep; tests pass a no-op.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RouterOption {
	return func(r *Router) { r.sleep = fn }
}

func NewRouter(cfg RouterConfig, bindings []Binding, log *slog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		bindings: bindings,
		byName:   make(map[string]Binding, len(bindings)),
		cfg:      cfg,
		log:      log,
		sleep:    sleepCtx,
	}
	for _, b := range bindings {
		r.byName[b.Provider.Name()] = b
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns the latency tracker, or nil.
func (r *Router) Stats() *Stats { return r.stats }

// ProviderOrder returns the providers to try for a routing key: the route's
// priority list, else the default priority, else declaration order. Unknown
// and duplicate names are dropped.
func (r *Router) ProviderOrder(route string) []string {
	order := r.cfg.Routing[route].ProviderPriority
	if len(order) == 0 {
		order = r.cfg.DefaultPriority
	}
	if len(order) == 0 {
		for _, b := range r.bindings {
			order = append(order, b.Provider.Name())
		}
	}
	out := make([]string, 0, len(order))
	for _, name := range order {
		if _, ok := r.byName[name]; ok && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

func (r *Router) Invoke(ctx context.Context, task TaskKind, request any) (json.RawMessage, error) {
	msgs, err := BuildMessages(task, request)
	if err != nil {
		return nil, err
	}
	order := r.ProviderOrder(task.Route())
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: task %s has no configured provider", ErrNoProvider, task)
	}

	var lastErr error
	for _, name := range order {
		b := r.byName[name]
		model := b.Config.Model(task.Role())
		if model == "" {
			lastErr = fmt.Errorf("provider %s has no model for role %s", name, task.Role())
			continue
		}
		req := ChatRequest{
			Model:       model,
			Messages:    msgs,
			Temperature: b.Config.Temperature,
			MaxTokens:   b.Config.MaxTokens,
			JSON:        true,
		}
		raw, err := r.call(ctx, task, b.Provider, req)
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		r.log.Warn("provider failed, trying next", "task", task, "provider", name, "model", model, "error", err)
	}
	return nil, fmt.Errorf("%w: task %s: %v", ErrNoProvider, task, lastErr)
}

// call serves one request from a single provider, with cache and retries.
func (r *Router) call(ctx context.Context, task TaskKind, p Provider, req ChatRequest) (json.RawMessage, error) {
	key := CacheKey(p.Name(), req.Model, req.Temperature, req.MaxTokens, req.Messages)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok && json.Valid(v) {
			metrics.ObserveOracleCall(string(task), p.Name(), metrics.OutcomeCacheHit, 0)
			r.log.Debug("oracle cache hit", "task", task, "provider", p.Name())
			return json.RawMessage(v), nil
		}
	}

	var lastErr error
	for attempt := range MaxRetries {
		start := time.Now()
		text, err := p.Chat(ctx, req)
		elapsed := time.Since(start)
		if err == nil {
			raw, perr := ExtractJSON(text)
			if perr == nil {
				metrics.ObserveOracleCall(string(task), p.Name(), metrics.OutcomeOK, elapsed)
				if r.stats != nil {
					r.stats.Record(task, elapsed.Milliseconds())
				}
				if r.cache != nil {
					r.cache.Set(key, raw)
				}
				r.log.Info("oracle call",
					"task", task,
					"provider", p.Name(),
					"model", req.Model,
					"duration_ms", elapsed.Milliseconds(),
					"attempt", attempt,
				)
				return raw, nil
			}
			err = perr
		}

		outcome := metrics.OutcomeError
		if errors.Is(err, ErrMalformedResponse) {
			outcome = metrics.OutcomeMalformed
		}
		metrics.ObserveOracleCall(string(task), p.Name(), outcome, elapsed)
		lastErr = err
		if !IsRetryable(err) || attempt == MaxRetries-1 {
			break
		}
		r.log.Warn("retryable oracle error", "task", task, "provider", p.Name(), "attempt", attempt, "error", err)
		if err := r.sleep(ctx, Backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
