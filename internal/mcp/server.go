// Package mcp implements the Model Context Protocol server for cityscope.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/cityscope/internal/models"
	"github.com/ajitpratap0/cityscope/internal/store"
)

// Trigger schedules a generation run for a city.
type Trigger interface {
	Trigger(ctx context.Context, id string) (bool, error)
}

// Server wraps an MCPServer with cityscope dependencies.
type Server struct {
	mcp    *mcpserver.MCPServer
	st     store.Store
	gen    Trigger
	logger *slog.Logger
}

// NewServer creates a new MCP server. If st or gen are nil,
// the corresponding tool calls will return an error response instead of panicking.
func NewServer(st store.Store, gen Trigger, logger *slog.Logger) *Server {
	s := &Server{
		st:     st,
		gen:    gen,
		logger: logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"cityscope",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildListCitiesTool(), s.handleListCities)
	mcpSrv.AddTool(buildGetCityTool(), s.handleGetCity)
	mcpSrv.AddTool(buildAddCityTool(), s.handleAddCity)
	mcpSrv.AddTool(buildDeleteCityTool(), s.handleDeleteCity)
	mcpSrv.AddTool(buildGenerateCityTool(), s.handleGenerateCity)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleListCities is the exported handler for the "list_cities" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleListCities(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleListCities(ctx, req)
}

// HandleGetCity is the exported handler for the "get_city" tool.
func (s *Server) HandleGetCity(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleGetCity(ctx, req)
}

// HandleAddCity is the exported handler for the "add_city" tool.
func (s *Server) HandleAddCity(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleAddCity(ctx, req)
}

// HandleDeleteCity is the exported handler for the "delete_city" tool.
func (s *Server) HandleDeleteCity(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleDeleteCity(ctx, req)
}

// HandleGenerateCity is the exported handler for the "generate_city" tool.
func (s *Server) HandleGenerateCity(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleGenerateCity(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// cityIDArg returns the trimmed "id" argument or a tool error result.
func cityIDArg(req mcpgo.CallToolRequest) (string, *mcpgo.CallToolResult) {
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return "", mcpgo.NewToolResultError("id is required and must not be empty")
	}
	return id, nil
}

// --- tool definitions ---

func buildListCitiesTool() mcpgo.Tool {
	return mcpgo.NewTool("list_cities",
		mcpgo.WithDescription("List registered cities with their generation status."),
		mcpgo.WithString("status",
			mcpgo.Description("Only return cities with this status: none, pending, ready, or error"),
		),
	)
}

func buildGetCityTool() mcpgo.Tool {
	return mcpgo.NewTool("get_city",
		mcpgo.WithDescription("Get one city including its generated content."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("The ID of the city"),
		),
	)
}

func buildAddCityTool() mcpgo.Tool {
	return mcpgo.NewTool("add_city",
		mcpgo.WithDescription("Register a city. Content generation starts immediately unless generate is false."),
		mcpgo.WithString("name",
			mcpgo.Required(),
			mcpgo.Description("City name"),
		),
		mcpgo.WithString("continent",
			mcpgo.Required(),
			mcpgo.Description("Continent the city is on"),
		),
		mcpgo.WithString("country",
			mcpgo.Description("Country of the city"),
		),
		mcpgo.WithString("id",
			mcpgo.Description("Stable ID for the city (default: generated)"),
		),
		mcpgo.WithBoolean("generate",
			mcpgo.Description("Start content generation after registering (default: true)"),
		),
	)
}

func buildDeleteCityTool() mcpgo.Tool {
	return mcpgo.NewTool("delete_city",
		mcpgo.WithDescription("Delete a city by ID."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("The ID of the city to delete"),
		),
	)
}

func buildGenerateCityTool() mcpgo.Tool {
	return mcpgo.NewTool("generate_city",
		mcpgo.WithDescription("Start (re)generating content for a city. Returns immediately; poll get_city for the result."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("The ID of the city"),
		),
	)
}

// --- tool handlers ---

// handleListCities lists cities, optionally filtered by status.
func (s *Server) handleListCities(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	var filter models.Status
	if st := req.GetString("status", ""); st != "" {
		filter = models.Status(st)
		if !filter.IsValid() {
			return mcpgo.NewToolResultErrorf("invalid status %q: must be one of none, pending, ready, error", st), nil
		}
	}

	cities, err := s.st.List(ctx)
	if err != nil {
		return mcpgo.NewToolResultErrorf("list failed: %s", err.Error()), nil
	}

	type summary struct {
		ID            string        `json:"id"`
		Name          string        `json:"name"`
		Continent     string        `json:"continent"`
		Country       string        `json:"country,omitempty"`
		Status        models.Status `json:"status"`
		Error         string        `json:"error,omitempty"`
		LastRefreshed *time.Time    `json:"lastRefreshed,omitempty"`
	}
	out := make([]summary, 0, len(cities))
	for i := range cities {
		c := &cities[i]
		if filter != "" && c.Status != filter {
			continue
		}
		out = append(out, summary{
			ID:            c.ID,
			Name:          c.Name,
			Continent:     c.Continent,
			Country:       c.Country,
			Status:        c.Status,
			Error:         c.Error,
			LastRefreshed: c.LastRefreshed,
		})
	}
	return toolResultJSON(map[string]any{"cities": out})
}

// handleGetCity returns the full city record.
func (s *Server) handleGetCity(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}
	id, errResult := cityIDArg(req)
	if errResult != nil {
		return errResult, nil
	}

	city, err := s.st.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcpgo.NewToolResultErrorf("city %q not found", id), nil
		}
		return mcpgo.NewToolResultErrorf("get failed: %s", err.Error()), nil
	}
	return toolResultJSON(city)
}

// handleAddCity registers a city and, by default, triggers generation.
func (s *Server) handleAddCity(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	nc := models.NewCity{
		ID:        req.GetString("id", ""),
		Name:      req.GetString("name", ""),
		Continent: req.GetString("continent", ""),
		Country:   req.GetString("country", ""),
	}
	if err := nc.Validate(); err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	if nc.ID == "" {
		nc.ID = uuid.New().String()
	}

	city := models.City{
		ID:        nc.ID,
		Name:      nc.Name,
		Continent: nc.Continent,
		Country:   nc.Country,
		Status:    models.StatusNone,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.st.Create(ctx, city); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return mcpgo.NewToolResultErrorf("city %q already exists", city.ID), nil
		}
		return mcpgo.NewToolResultErrorf("create failed: %s", err.Error()), nil
	}
	s.logger.Info("mcp: add_city registered city", "city_id", city.ID, "name", city.Name)

	started := false
	if req.GetBool("generate", true) && s.gen != nil {
		var err error
		if started, err = s.gen.Trigger(ctx, city.ID); err != nil {
			return mcpgo.NewToolResultErrorf("city created but generation failed to start: %s", err.Error()), nil
		}
	}

	return toolResultJSON(map[string]any{
		"id":         city.ID,
		"created":    true,
		"generating": started,
	})
}

// handleDeleteCity deletes a city by ID.
func (s *Server) handleDeleteCity(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}
	id, errResult := cityIDArg(req)
	if errResult != nil {
		return errResult, nil
	}

	if err := s.st.Delete(ctx, id); err != nil {
		return mcpgo.NewToolResultErrorf("delete failed: %s", err.Error()), nil
	}

	s.logger.Info("mcp: delete_city deleted city", "city_id", id)
	return toolResultJSON(map[string]any{"deleted": true})
}

// handleGenerateCity marks the city pending and schedules a run.
func (s *Server) handleGenerateCity(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.gen == nil {
		return mcpgo.NewToolResultError("generator is unavailable"), nil
	}
	id, errResult := cityIDArg(req)
	if errResult != nil {
		return errResult, nil
	}

	started, err := s.gen.Trigger(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcpgo.NewToolResultErrorf("city %q not found", id), nil
		}
		return mcpgo.NewToolResultErrorf("generate failed: %s", err.Error()), nil
	}
	return toolResultJSON(map[string]any{"ok": true, "started": started})
}
