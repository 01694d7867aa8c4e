package store

import (
	"context"
	"errors"
	"time"

	"github.com/ajitpratap0/cityscope/internal/models"
)

const (
	connectTimeout = 10 * time.Second
	readTimeout    = 10 * time.Second
	writeTimeout   = 30 * time.Second
)

var (
	// ErrNotFound is returned when the requested city does not exist.
	ErrNotFound = errors.New("city not found")

	// ErrConflict is returned by Create when the id is already taken.
	ErrConflict = errors.New("city with the same id already exists")

	// ErrStale is returned by UpdateContent when the city was written since
	// the caller read it.
	ErrStale = errors.New("city changed since it was read")
)

// Store defines city persistence. Every mutation is a single-record update;
// there are no multi-record transactions.
type Store interface {
	// List returns all cities in creation order.
	List(ctx context.Context) ([]models.City, error)

	// Get retrieves a single city by ID.
	Get(ctx context.Context, id string) (*models.City, error)

	// Create inserts a new city. Returns ErrConflict if the id exists.
	Create(ctx context.Context, city models.City) error

	// Delete removes a city by ID. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// MarkPending sets status=pending and clears the error. Content is kept.
	MarkPending(ctx context.Context, id string) error

	// SetReady writes content, status=ready, lastRefreshed=at and clears the error.
	SetReady(ctx context.Context, id string, content models.CityContent, at time.Time) error

	// SetError sets status=error with the given message. Content is kept.
	SetError(ctx context.Context, id string, msg string) error

	// UpdateContent replaces content and lastRefreshed without touching status,
	// but only while lastRefreshed still equals prev. Returns ErrStale otherwise.
	UpdateContent(ctx context.Context, id string, prev *time.Time, content models.CityContent, at time.Time) error

	// Close releases the underlying connection, if any.
	Close() error
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}
