// Package generator runs the two-pass content generation for a city and
// records the outcome on the stored record.
//
// A run asks the generation capability for a core profile and for fresh
// news/events concurrently, replaces unusable output with a fallback, merges
// the two, validates the result and writes it in a single update. Failures
// of any step become status=error on the city; nothing is retried.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/cityscope/internal/content"
	"github.com/ajitpratap0/cityscope/internal/llm"
	"github.com/ajitpratap0/cityscope/internal/metrics"
	"github.com/ajitpratap0/cityscope/internal/models"
	"github.com/ajitpratap0/cityscope/internal/prompt"
	"github.com/ajitpratap0/cityscope/internal/store"
)

const (
	// DefaultTimeout bounds a whole run when Options.Timeout is zero.
	DefaultTimeout = 2 * time.Minute

	recordTimeout = 10 * time.Second
)

// ErrNotReady is returned by RefreshFresh for cities without ready content.
var ErrNotReady = errors.New("city has no ready content")

// Options configures a Generator.
type Options struct {
	// Timeout bounds one run, both passes included.
	Timeout time.Duration

	// AllowConcurrentRuns lets a trigger start a second run for a city whose
	// run is still in flight; the last run to finish wins.
	AllowConcurrentRuns bool
}

// Generator orchestrates generation runs.
type Generator struct {
	store           store.Store
	llm             llm.Generator
	logger          *slog.Logger
	timeout         time.Duration
	allowConcurrent bool
	now             func() time.Time

	mu       sync.Mutex
	inflight map[string]int
	wg       sync.WaitGroup
}

// New creates a Generator.
func New(st store.Store, gen llm.Generator, opts Options, logger *slog.Logger) *Generator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Generator{
		store:           st,
		llm:             gen,
		logger:          logger,
		timeout:         timeout,
		allowConcurrent: opts.AllowConcurrentRuns,
		now:             time.Now,
		inflight:        make(map[string]int),
	}
}

// Trigger marks the city pending and schedules a run in the background.
// It returns once the pending state is stored. started is false when a run
// for the same city is already in flight and concurrent runs are disabled;
// the city stays pending and the in-flight run completes it.
func (g *Generator) Trigger(ctx context.Context, id string) (bool, error) {
	if err := g.store.MarkPending(ctx, id); err != nil {
		return false, err
	}

	g.mu.Lock()
	if g.inflight[id] > 0 && !g.allowConcurrent {
		g.mu.Unlock()
		metrics.Inc(metrics.GenerationSkipped)
		g.logger.Info("generation already in flight, trigger ignored", "city_id", id)
		return false, nil
	}
	g.inflight[id]++
	g.wg.Add(1)
	g.mu.Unlock()

	// The run outlives the request that triggered it.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer g.wg.Done()
		defer g.release(id)
		if _, err := g.Run(runCtx, id); err != nil {
			g.logger.Error("generation failed", "city_id", id, "error", err)
		}
	}()
	return true, nil
}

// Wait blocks until every scheduled run has finished.
func (g *Generator) Wait() {
	g.wg.Wait()
}

func (g *Generator) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight[id]--
	if g.inflight[id] <= 0 {
		delete(g.inflight, id)
	}
}

func (g *Generator) running(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight[id] > 0
}

// Run performs one generation run synchronously and returns the stored
// content. On failure the city is left with status=error and the message.
func (g *Generator) Run(ctx context.Context, id string) (*models.CityContent, error) {
	if err := g.store.MarkPending(ctx, id); err != nil {
		return nil, err
	}

	start := g.now()
	g.logger.Info("generation started", "city_id", id)

	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.generate(runCtx, id)
	metrics.GenerationDuration.Observe(g.now().Sub(start).Seconds())
	if err != nil {
		outcome, msg := metrics.OutcomeError, err.Error()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			outcome, msg = metrics.OutcomeTimeout, fmt.Sprintf("generation timed out after %s", g.timeout)
		}
		metrics.GenerationRuns.WithLabelValues(outcome).Inc()
		g.recordError(ctx, id, msg)
		return nil, fmt.Errorf("generating %s: %w", id, err)
	}

	metrics.GenerationRuns.WithLabelValues(metrics.OutcomeReady).Inc()
	g.logger.Info("generation finished", "city_id", id, "sources", len(result.Sources),
		"duration", g.now().Sub(start).Round(time.Millisecond))
	return result, nil
}

// generate runs steps 2-6 of a run. Panics are returned as errors.
func (g *Generator) generate(ctx context.Context, id string) (result *models.CityContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generation panicked: %v", r)
		}
	}()

	city, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		core  *models.CityContent
		fresh *content.Fresh
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(recovered(func() error {
		var err error
		core, err = g.corePass(egCtx, *city)
		return err
	}))
	eg.Go(recovered(func() error {
		var err error
		fresh, err = g.freshPass(egCtx, id, city.Name)
		return err
	}))
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	merged := content.Merge(core, fresh)
	if err := content.Validate(merged); err != nil {
		return nil, err
	}
	if err := g.store.SetReady(ctx, id, *merged, g.now().UTC()); err != nil {
		return nil, fmt.Errorf("saving content: %w", err)
	}
	return merged, nil
}

func (g *Generator) corePass(ctx context.Context, city models.City) (*models.CityContent, error) {
	resp, err := g.llm.Generate(ctx, llm.Request{Prompt: prompt.Core(city.Name, city.Continent, city.Country)})
	if err != nil {
		return nil, fmt.Errorf("core pass: %w", err)
	}
	core, err := content.ParseCore(resp.Text)
	if err != nil {
		metrics.GenerationFallbacks.WithLabelValues(metrics.PassCore).Inc()
		g.logger.Warn("core output unusable, using fallback", "city_id", city.ID, "error", err)
		return content.Fallback(city, content.SalvageSources(resp.Metadata), g.now()), nil
	}
	core.GeneratedAt = g.now().UTC().Format(time.RFC3339)
	return core, nil
}

func (g *Generator) freshPass(ctx context.Context, id, name string) (*content.Fresh, error) {
	resp, err := g.llm.Generate(ctx, llm.Request{Prompt: prompt.Fresh(name), Recency: prompt.FreshRecency})
	if err != nil {
		return nil, fmt.Errorf("fresh pass: %w", err)
	}
	fresh, err := content.ParseFresh(resp.Text)
	if err != nil {
		metrics.GenerationFallbacks.WithLabelValues(metrics.PassFresh).Inc()
		g.logger.Warn("fresh output unusable, using empty news and events", "city_id", id, "error", err)
		return content.EmptyFresh(content.SalvageSources(resp.Metadata)), nil
	}
	return fresh, nil
}

// recordError stores the failure on a context that survives the run deadline.
func (g *Generator) recordError(ctx context.Context, id, msg string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := g.store.SetError(ctx, id, msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.logger.Debug("city removed during generation", "city_id", id)
			return
		}
		g.logger.Error("recording generation error", "city_id", id, "error", err)
	}
}

// RefreshFresh re-runs the fresh pass for a ready city and replaces its news
// and events without changing the status. Sources are appended. If the city
// is written while the pass runs, nothing is saved and store.ErrStale is
// returned.
func (g *Generator) RefreshFresh(ctx context.Context, id string) (*models.CityContent, error) {
	city, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if city.Status != models.StatusReady || city.Content == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, id, city.Status)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	fresh, err := g.freshPass(ctx, id, city.Name)
	if err != nil {
		metrics.FreshRefresh.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}

	now := g.now().UTC()
	merged := content.Merge(city.Content, fresh)
	merged.GeneratedAt = now.Format(time.RFC3339)
	if err := content.Validate(merged); err != nil {
		metrics.FreshRefresh.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	if err := g.store.UpdateContent(ctx, id, city.LastRefreshed, *merged, now); err != nil {
		if errors.Is(err, store.ErrStale) {
			metrics.FreshRefresh.WithLabelValues(metrics.OutcomeSkipped).Inc()
			g.logger.Info("city rewritten during refresh, dropping refreshed content", "city_id", id)
			return nil, err
		}
		metrics.FreshRefresh.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("saving refreshed content: %w", err)
	}
	metrics.FreshRefresh.WithLabelValues(metrics.OutcomeReady).Inc()
	g.logger.Info("fresh content refreshed", "city_id", id, "news", len(merged.LatestNews), "events", len(merged.UpcomingEvents))
	return merged, nil
}

func recovered(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("generation panicked: %v", r)
			}
		}()
		return fn()
	}
}
