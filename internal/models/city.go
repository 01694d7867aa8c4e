package models

import (
	"strings"
	"time"
)

// Status is the generation state of a city record.
type Status string

const (
	StatusNone    Status = "none"
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// ValidStatuses is the set of all valid statuses.
var ValidStatuses = []Status{
	StatusNone,
	StatusPending,
	StatusReady,
	StatusError,
}

// IsValid returns true if the status is recognized.
func (s Status) IsValid() bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Normalize maps the empty status of legacy records to StatusNone.
func (s Status) Normalize() Status {
	if s == "" {
		return StatusNone
	}
	return s
}

// City is the persisted record for one registered city.
type City struct {
	ID            string       `json:"id" bson:"_id"`
	Name          string       `json:"name" bson:"name"`
	Continent     string       `json:"continent" bson:"continent"`
	Country       string       `json:"country,omitempty" bson:"country,omitempty"`
	Status        Status       `json:"status" bson:"status"`
	Content       *CityContent `json:"content,omitempty" bson:"content,omitempty"`
	Error         string       `json:"error,omitempty" bson:"error,omitempty"`
	LastRefreshed *time.Time   `json:"lastRefreshed,omitempty" bson:"lastRefreshed,omitempty"`
	CreatedAt     time.Time    `json:"createdAt" bson:"createdAt"`
}

// Clone returns a deep copy of the city so callers cannot mutate shared state.
func (c City) Clone() City {
	if c.Content != nil {
		cc := c.Content.Clone()
		c.Content = &cc
	}
	if c.LastRefreshed != nil {
		t := *c.LastRefreshed
		c.LastRefreshed = &t
	}
	return c
}

// NewCity is the body accepted when registering a city.
// ID is optional; callers that derive ids from a geocoded location pass it.
type NewCity struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Continent string `json:"continent"`
	Country   string `json:"country,omitempty"`
}

// ValidationError reports malformed client input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// Validate trims the fields and rejects blank names or continents.
func (n *NewCity) Validate() error {
	n.ID = strings.TrimSpace(n.ID)
	n.Name = strings.TrimSpace(n.Name)
	n.Continent = strings.TrimSpace(n.Continent)
	n.Country = strings.TrimSpace(n.Country)
	if n.Name == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if n.Continent == "" {
		return &ValidationError{Field: "continent", Reason: "is required"}
	}
	if strings.ContainsAny(n.ID, "/?#") {
		return &ValidationError{Field: "id", Reason: "must not contain '/', '?' or '#'"}
	}
	return nil
}
