// Package citysync keeps a local, optimistically updated view of the city
// collection in sync with the API.
//
// Mutations are applied locally first and rolled back if the server rejects
// them. While any city is pending the controller polls the server at a fixed
// interval; the loop stops by itself after a refresh that shows no pending
// city, and at most one loop runs at a time.
package citysync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/cityscope/internal/client"
	"github.com/ajitpratap0/cityscope/internal/models"
)

// DefaultPollInterval is used when Options.PollInterval is zero.
const DefaultPollInterval = 5 * time.Second

// Messages surfaced when the server gives none.
const (
	msgLoadFailed       = "Failed to load cities."
	msgAddFailed        = "Failed to add city."
	msgDeleteFailed     = "Failed to delete city."
	msgRegenerateFailed = "Failed to regenerate city."
)

var (
	// ErrUnknownCity is returned for ids not in the local collection.
	ErrUnknownCity = errors.New("city is not in the collection")

	// ErrUnconfirmed is returned when acting on a city whose creation has
	// not been confirmed by the server yet.
	ErrUnconfirmed = errors.New("city has not been confirmed by the server yet")
)

// Backend is the remote side of the collection. *client.Client implements it.
type Backend interface {
	List(ctx context.Context) ([]models.City, error)
	Create(ctx context.Context, nc models.NewCity) (*models.City, error)
	Delete(ctx context.Context, id string) error
	Generate(ctx context.Context, id string) (bool, error)
}

// Entry is one city in the local collection.
type Entry struct {
	models.City
	// Unconfirmed is set on optimistic entries the server has not acknowledged.
	Unconfirmed bool `json:"unconfirmed,omitempty"`
}

// Options configures a Controller.
type Options struct {
	PollInterval time.Duration
	// OnChange is called with a snapshot after every local change.
	OnChange func([]Entry)
	Logger   *slog.Logger
}

// Controller owns the local collection.
type Controller struct {
	backend  Backend
	interval time.Duration
	onChange func([]Entry)
	logger   *slog.Logger
	tick     func(time.Duration) (<-chan time.Time, func())

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	entries  []Entry
	deleting map[string]bool
	err      error
	polling  bool
	kicks    uint64
	closed   bool
}

// New creates a controller. Call Close to stop polling.
func New(backend Backend, opts Options) *Controller {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend:  backend,
		interval: interval,
		onChange: opts.OnChange,
		logger:   logger,
		tick:     newTicker,
		ctx:      ctx,
		cancel:   cancel,
		deleting: make(map[string]bool),
	}
}

func newTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Snapshot returns a copy of the collection in display order.
func (c *Controller) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() []Entry {
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = Entry{City: e.City.Clone(), Unconfirmed: e.Unconfirmed}
	}
	return out
}

// Err returns the last error surfaced to the user, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pending reports how many entries are pending.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *Controller) pendingLocked() int {
	n := 0
	for _, e := range c.entries {
		if e.Status == models.StatusPending {
			n++
		}
	}
	return n
}

// Load replaces the collection with the server's list.
func (c *Controller) Load(ctx context.Context) error {
	cities, err := c.backend.List(ctx)
	if err != nil {
		c.fail(err, msgLoadFailed)
		return err
	}
	c.mu.Lock()
	c.err = nil
	c.applyLocked(cities)
	pending := c.pendingLocked()
	c.mu.Unlock()
	c.changed()

	if pending > 0 {
		c.startPolling()
	}
	return nil
}

// Create adds an optimistic pending entry, registers the city on the server,
// triggers generation and starts polling. On failure the optimistic entry is
// removed again.
func (c *Controller) Create(ctx context.Context, nc models.NewCity) (*models.City, error) {
	if err := nc.Validate(); err != nil {
		c.setErr(err)
		return nil, err
	}
	localID := nc.ID
	if localID == "" {
		localID = "tmp-" + uuid.NewString()
	}

	c.mu.Lock()
	c.err = nil
	c.entries = append(c.entries, Entry{
		City: models.City{
			ID:        localID,
			Name:      nc.Name,
			Continent: nc.Continent,
			Country:   nc.Country,
			Status:    models.StatusPending,
			CreatedAt: time.Now().UTC(),
		},
		Unconfirmed: true,
	})
	c.mu.Unlock()
	c.changed()

	created, err := c.backend.Create(ctx, nc)
	if err != nil {
		c.mu.Lock()
		if idx := c.optimisticIndexLocked(localID); idx >= 0 {
			c.entries = append(c.entries[:idx:idx], c.entries[idx+1:]...)
		}
		c.err = surface(err, msgAddFailed)
		c.mu.Unlock()
		c.changed()
		return nil, err
	}

	confirmed := created.Clone()
	confirmed.Status = models.StatusPending
	c.mu.Lock()
	// A refresh may already have listed the server record, or an older
	// local entry may carry the same id.
	next := c.entries[:0]
	placed := false
	opt := c.optimisticIndexLocked(localID)
	for i, e := range c.entries {
		switch {
		case i == opt:
			next = append(next, Entry{City: confirmed})
			placed = true
		case e.ID == confirmed.ID:
		default:
			next = append(next, e)
		}
	}
	if !placed {
		next = append(next, Entry{City: confirmed})
	}
	c.entries = next
	c.mu.Unlock()
	c.changed()

	if _, err := c.backend.Generate(ctx, created.ID); err != nil {
		c.mu.Lock()
		c.replaceLocked(created.ID, Entry{City: created.Clone()})
		c.err = surface(err, msgRegenerateFailed)
		c.mu.Unlock()
		c.changed()
		return created, err
	}
	c.startPolling()
	return &confirmed, nil
}

// Delete removes the city locally and on the server. If the server call
// fails the entry is put back where it was. A city the server no longer
// knows counts as deleted.
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return ErrUnknownCity
	}
	removed := c.entries[idx]
	if removed.Unconfirmed {
		c.mu.Unlock()
		return ErrUnconfirmed
	}
	c.err = nil
	c.entries = append(c.entries[:idx:idx], c.entries[idx+1:]...)
	c.deleting[id] = true
	c.mu.Unlock()
	c.changed()

	err := c.backend.Delete(ctx, id)
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		err = nil
	}

	c.mu.Lock()
	delete(c.deleting, id)
	if err != nil {
		if c.indexLocked(id) < 0 {
			at := min(idx, len(c.entries))
			c.entries = append(c.entries[:at:at], append([]Entry{removed}, c.entries[at:]...)...)
		}
		c.err = surface(err, msgDeleteFailed)
	}
	c.mu.Unlock()
	if err != nil {
		c.changed()
	}
	return err
}

// Regenerate marks the city pending locally, asks the server to regenerate
// it and starts polling. If the request fails the prior record is restored.
func (c *Controller) Regenerate(ctx context.Context, id string) error {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return ErrUnknownCity
	}
	if c.entries[idx].Unconfirmed {
		c.mu.Unlock()
		return ErrUnconfirmed
	}
	prior := Entry{City: c.entries[idx].City.Clone()}
	c.err = nil
	c.entries[idx].Status = models.StatusPending
	c.entries[idx].Error = ""
	c.mu.Unlock()
	c.changed()

	if _, err := c.backend.Generate(ctx, id); err != nil {
		c.mu.Lock()
		c.replaceLocked(id, prior)
		c.err = surface(err, msgRegenerateFailed)
		c.mu.Unlock()
		c.changed()
		return err
	}
	c.startPolling()
	return nil
}

// Close stops polling and waits for the loop to exit. Later mutations still
// work but no new loop is started.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// startPolling starts the refresh loop unless one is already running.
func (c *Controller) startPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kicks++
	if c.polling || c.closed {
		return
	}
	c.polling = true
	c.wg.Add(1)
	go c.poll()
}

func (c *Controller) isPolling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polling
}

func (c *Controller) poll() {
	defer c.wg.Done()
	ticks, stop := c.tick(c.interval)
	defer stop()

	for {
		select {
		case <-c.ctx.Done():
			c.mu.Lock()
			c.polling = false
			c.mu.Unlock()
			return
		case <-ticks:
		}

		c.mu.Lock()
		kicks := c.kicks
		c.mu.Unlock()

		cities, err := c.backend.List(c.ctx)
		if err != nil {
			c.logger.Warn("refreshing cities", "error", err)
			continue
		}

		c.mu.Lock()
		c.applyLocked(cities)
		done := c.pendingLocked() == 0 && c.kicks == kicks
		if done {
			c.polling = false
		}
		c.mu.Unlock()
		c.changed()

		if done {
			return
		}
	}
}

// applyLocked replaces confirmed entries with the server's list and keeps
// unconfirmed ones, plus skips cities whose deletion is in flight.
func (c *Controller) applyLocked(cities []models.City) {
	next := make([]Entry, 0, len(cities)+1)
	known := make(map[string]bool, len(cities))
	for _, city := range cities {
		known[city.ID] = true
		if c.deleting[city.ID] {
			continue
		}
		next = append(next, Entry{City: city.Clone()})
	}
	for _, e := range c.entries {
		if e.Unconfirmed && !known[e.ID] {
			next = append(next, e)
		}
	}
	c.entries = next
}

func (c *Controller) indexLocked(id string) int {
	for i := range c.entries {
		if c.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// optimisticIndexLocked finds the unconfirmed entry added for id, which is
// the last one carrying it.
func (c *Controller) optimisticIndexLocked(id string) int {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].ID == id && c.entries[i].Unconfirmed {
			return i
		}
	}
	return -1
}

// replaceLocked swaps the entry with the given id, or appends e if absent.
func (c *Controller) replaceLocked(id string, e Entry) {
	if idx := c.indexLocked(id); idx >= 0 {
		c.entries[idx] = e
		return
	}
	c.entries = append(c.entries, e)
}

func (c *Controller) fail(err error, fallback string) {
	c.setErr(surface(err, fallback))
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) changed() {
	if c.onChange == nil {
		return
	}
	c.onChange(c.Snapshot())
}

// surface turns a backend failure into the message shown to the user.
func surface(err error, fallback string) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return errors.New(apiErr.Message)
	}
	return errors.New(fallback)
}
