// Package client is an HTTP client for the cityscope API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/cityscope/internal/models"
)

const httpTimeout = 10 * time.Second

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to one API server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. Trailing slashes on baseURL are ignored; an empty
// token sends no Authorization header.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: httpTimeout},
	}
}

// List returns every city.
func (c *Client) List(ctx context.Context) ([]models.City, error) {
	var cities []models.City
	if err := c.do(ctx, http.MethodGet, "/cities", nil, &cities); err != nil {
		return nil, err
	}
	if cities == nil {
		cities = []models.City{}
	}
	return cities, nil
}

// Get returns one city.
func (c *Client) Get(ctx context.Context, id string) (*models.City, error) {
	var city models.City
	if err := c.do(ctx, http.MethodGet, "/cities/"+url.PathEscape(id), nil, &city); err != nil {
		return nil, err
	}
	return &city, nil
}

// Create registers a city and returns the stored record.
func (c *Client) Create(ctx context.Context, nc models.NewCity) (*models.City, error) {
	var city models.City
	if err := c.do(ctx, http.MethodPost, "/cities", nc, &city); err != nil {
		return nil, err
	}
	return &city, nil
}

// Delete removes a city.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/cities/"+url.PathEscape(id), nil, nil)
}

// Generate asks the server to (re)generate content. started is false when a
// run for the city was already in flight.
func (c *Client) Generate(ctx context.Context, id string) (bool, error) {
	var resp struct {
		OK      bool `json:"ok"`
		Started bool `json:"started"`
	}
	if err := c.do(ctx, http.MethodPost, "/cities/"+url.PathEscape(id)+"/generate", nil, &resp); err != nil {
		return false, err
	}
	return resp.Started, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("client: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client: decoding response: %w", err)
	}
	return nil
}

// errorMessage extracts the server-supplied message from an error body.
func errorMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}
