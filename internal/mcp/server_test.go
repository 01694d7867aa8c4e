package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cityscope/internal/models"
	"github.com/ajitpratap0/cityscope/internal/store"
)

type markPending struct {
	st  store.Store
	ids []string
}

func (m *markPending) Trigger(ctx context.Context, id string) (bool, error) {
	if err := m.st.MarkPending(ctx, id); err != nil {
		return false, err
	}
	m.ids = append(m.ids, id)
	return true, nil
}

func newMCPServer(t *testing.T) (*Server, *store.MemoryStore, *markPending) {
	t.Helper()
	st := store.NewMemoryStore()
	trig := &markPending{st: st}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewServer(st, trig, logger), st, trig
}

// makeReq builds a CallToolRequest with the given arguments.
func makeReq(toolName string, args map[string]any) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	return req
}

// textContent extracts the first TextContent string from a CallToolResult.
func textContent(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content item")
	tc, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func TestMCP_AddCityTriggersGeneration(t *testing.T) {
	srv, st, trig := newMCPServer(t)
	ctx := context.Background()

	result, err := srv.HandleAddCity(ctx, makeReq("add_city", map[string]any{
		"id": "lyon", "name": "Lyon", "continent": "Europe", "country": "France",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, textContent(t, result))

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &body))
	assert.Equal(t, "lyon", body["id"])
	assert.Equal(t, true, body["generating"])
	assert.Equal(t, []string{"lyon"}, trig.ids)

	c, err := st.Get(ctx, "lyon")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, c.Status)
}

func TestMCP_AddCityWithoutGeneration(t *testing.T) {
	srv, st, trig := newMCPServer(t)
	ctx := context.Background()

	result, err := srv.HandleAddCity(ctx, makeReq("add_city", map[string]any{
		"name": "Porto", "continent": "Europe", "generate": false,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Empty(t, trig.ids)

	cities, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, cities, 1)
	assert.Equal(t, models.StatusNone, cities[0].Status)
	assert.NotEmpty(t, cities[0].ID)
}

func TestMCP_AddCityErrors(t *testing.T) {
	srv, st, _ := newMCPServer(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, models.City{ID: "lyon", Name: "Lyon", Continent: "Europe"}))

	result, err := srv.HandleAddCity(ctx, makeReq("add_city", map[string]any{"name": "Lyon"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "continent is required")

	result, err = srv.HandleAddCity(ctx, makeReq("add_city", map[string]any{"id": "lyon", "name": "Lyon", "continent": "Europe"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "already exists")
}

func TestMCP_ListCitiesFilter(t *testing.T) {
	srv, st, _ := newMCPServer(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, models.City{ID: "a", Name: "Lyon", Continent: "Europe", CreatedAt: time.Now()}))
	require.NoError(t, st.Create(ctx, models.City{ID: "b", Name: "Porto", Continent: "Europe", CreatedAt: time.Now()}))
	require.NoError(t, st.SetError(ctx, "b", "boom"))

	result, err := srv.HandleListCities(ctx, makeReq("list_cities", map[string]any{"status": "error"}))
	require.NoError(t, err)
	var body struct {
		Cities []map[string]any `json:"cities"`
	}
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &body))
	require.Len(t, body.Cities, 1)
	assert.Equal(t, "b", body.Cities[0]["id"])
	assert.Equal(t, "boom", body.Cities[0]["error"])

	result, err = srv.HandleListCities(ctx, makeReq("list_cities", map[string]any{"status": "bogus"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCP_GetAndDeleteCity(t *testing.T) {
	srv, st, _ := newMCPServer(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, models.City{ID: "lyon", Name: "Lyon", Continent: "Europe"}))

	result, err := srv.HandleGetCity(ctx, makeReq("get_city", map[string]any{"id": "lyon"}))
	require.NoError(t, err)
	var c models.City
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &c))
	assert.Equal(t, "Lyon", c.Name)

	result, err = srv.HandleDeleteCity(ctx, makeReq("delete_city", map[string]any{"id": "lyon"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = srv.HandleGetCity(ctx, makeReq("get_city", map[string]any{"id": "lyon"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "not found")

	result, err = srv.HandleGetCity(ctx, makeReq("get_city", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCP_GenerateCity(t *testing.T) {
	srv, st, trig := newMCPServer(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, models.City{ID: "lyon", Name: "Lyon", Continent: "Europe"}))

	result, err := srv.HandleGenerateCity(ctx, makeReq("generate_city", map[string]any{"id": "lyon"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"started":true}`, textContent(t, result))
	assert.Equal(t, []string{"lyon"}, trig.ids)

	result, err = srv.HandleGenerateCity(ctx, makeReq("generate_city", map[string]any{"id": "atlantis"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCP_NilDependencies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := NewServer(nil, nil, logger)
	ctx := context.Background()

	result, err := srv.HandleListCities(ctx, makeReq("list_cities", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.HandleGenerateCity(ctx, makeReq("generate_city", map[string]any{"id": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.NotNil(t, srv.MCPServer())
}
