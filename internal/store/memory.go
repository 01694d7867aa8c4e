package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ajitpratap0/cityscope/internal/models"
)

// MemoryStore is an in-memory implementation of Store. It backs the
// "memory" store backend and the tests.
type MemoryStore struct {
	mu     sync.RWMutex
	cities map[string]*models.City
	order  []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cities: make(map[string]*models.City),
	}
}

// List returns deep copies of all cities in creation order.
func (m *MemoryStore) List(_ context.Context) ([]models.City, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.City, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.cities[id].Clone())
	}
	return out, nil
}

// Get retrieves a deep copy of a single city.
func (m *MemoryStore) Get(_ context.Context, id string) (*models.City, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := c.Clone()
	return &cp, nil
}

// Create inserts a city, rejecting duplicate ids.
func (m *MemoryStore) Create(_ context.Context, city models.City) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cities[city.ID]; ok {
		return fmt.Errorf("%w: %s", ErrConflict, city.ID)
	}
	cp := city.Clone()
	cp.Status = cp.Status.Normalize()
	m.cities[city.ID] = &cp
	m.order = append(m.order, city.ID)
	return nil
}

// Delete removes a city by ID.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cities[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.cities, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// MarkPending sets status=pending and clears the error.
func (m *MemoryStore) MarkPending(_ context.Context, id string) error {
	return m.update(id, func(c *models.City) {
		c.Status = models.StatusPending
		c.Error = ""
	})
}

// SetReady records a successful generation.
func (m *MemoryStore) SetReady(_ context.Context, id string, content models.CityContent, at time.Time) error {
	return m.update(id, func(c *models.City) {
		cc := content.Clone()
		t := at
		c.Status = models.StatusReady
		c.Content = &cc
		c.LastRefreshed = &t
		c.Error = ""
	})
}

// SetError records a failed generation.
func (m *MemoryStore) SetError(_ context.Context, id string, msg string) error {
	return m.update(id, func(c *models.City) {
		c.Status = models.StatusError
		c.Error = msg
	})
}

// UpdateContent replaces content without touching status.
func (m *MemoryStore) UpdateContent(_ context.Context, id string, prev *time.Time, content models.CityContent, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !sameTime(c.LastRefreshed, prev) {
		return fmt.Errorf("%w: %s", ErrStale, id)
	}
	cc := content.Clone()
	t := at
	c.Content = &cc
	c.LastRefreshed = &t
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) update(id string, fn func(c *models.City)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(c)
	return nil
}
