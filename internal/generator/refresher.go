package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ajitpratap0/cityscope/internal/models"
	"github.com/ajitpratap0/cityscope/internal/store"
)

// Report summarizes one refresh sweep.
type Report struct {
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Refresher periodically refreshes news and events of ready cities.
type Refresher struct {
	store  store.Store
	gen    *Generator
	logger *slog.Logger
}

// NewRefresher creates a new refresher.
func NewRefresher(st store.Store, gen *Generator, logger *slog.Logger) *Refresher {
	return &Refresher{
		store:  st,
		gen:    gen,
		logger: logger,
	}
}

// Run refreshes every ready city once. Per-city failures are logged and
// counted; only a failure to list cities is returned.
func (r *Refresher) Run(ctx context.Context) (*Report, error) {
	cities, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cities: %w", err)
	}

	report := &Report{}
	for _, c := range cities {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if c.Status != models.StatusReady || c.Content == nil || r.gen.running(c.ID) {
			report.Skipped++
			continue
		}
		_, err := r.gen.RefreshFresh(ctx, c.ID)
		if errors.Is(err, store.ErrStale) || errors.Is(err, ErrNotReady) || errors.Is(err, store.ErrNotFound) {
			report.Skipped++
			continue
		}
		if err != nil {
			r.logger.Error("refreshing fresh content", "city_id", c.ID, "error", err)
			report.Failed++
			continue
		}
		report.Refreshed++
	}
	return report, nil
}

// Start runs a sweep every interval until ctx is done. A non-positive
// interval disables refreshing.
func (r *Refresher) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := r.Run(ctx)
			if err != nil {
				r.logger.Error("refresh sweep failed", "error", err)
				continue
			}
			r.logger.Info("refresh sweep complete", "refreshed", report.Refreshed, "failed", report.Failed, "skipped", report.Skipped)
		}
	}
}
