package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ajitpratap0/cityscope/internal/models"
)

const neo4jConstraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// Neo4jStore implements Store with one (:City) node per city. Content is
// kept as a JSON string property; timestamps as epoch milliseconds.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger

	mu    sync.Mutex
	ready bool
}

// NewNeo4jStore creates the driver. No connection is opened until first use.
func NewNeo4jStore(uri, username, password, database string, logger *slog.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating Neo4j driver for %s: %w", uri, err)
	}
	return &Neo4jStore{driver: driver, database: database, logger: logger}, nil
}

// ensure verifies connectivity and the uniqueness constraint once.
func (s *Neo4jStore) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("verifying Neo4j connection: %w", err)
	}
	_, err := neo4j.ExecuteQuery(ctx, s.driver,
		"CREATE CONSTRAINT city_id IF NOT EXISTS FOR (c:City) REQUIRE c.id IS UNIQUE",
		nil, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return fmt.Errorf("creating city constraint: %w", err)
	}
	s.ready = true
	s.logger.Info("connected to Neo4j", "database", s.database)
	return nil
}

func (s *Neo4jStore) query(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	return neo4j.ExecuteQuery(ctx, s.driver, cypher, params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(s.database))
}

func (s *Neo4jStore) List(ctx context.Context) ([]models.City, error) {
	ctx, cancel := withTimeout(ctx, readTimeout)
	defer cancel()
	res, err := s.query(ctx, "MATCH (c:City) RETURN c ORDER BY c.createdAt", nil)
	if err != nil {
		return nil, fmt.Errorf("listing cities: %w", err)
	}
	cities := make([]models.City, 0, len(res.Records))
	for _, rec := range res.Records {
		node, _, err := neo4j.GetRecordValue[neo4j.Node](rec, "c")
		if err != nil {
			return nil, fmt.Errorf("reading city node: %w", err)
		}
		c, err := nodeToCity(node.Props)
		if err != nil {
			s.logger.Warn("skipping unreadable city node", "error", err)
			continue
		}
		cities = append(cities, *c)
	}
	return cities, nil
}

func (s *Neo4jStore) Get(ctx context.Context, id string) (*models.City, error) {
	ctx, cancel := withTimeout(ctx, readTimeout)
	defer cancel()
	res, err := s.query(ctx, "MATCH (c:City {id: $id}) RETURN c", map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("getting city %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	node, _, err := neo4j.GetRecordValue[neo4j.Node](res.Records[0], "c")
	if err != nil {
		return nil, fmt.Errorf("reading city node: %w", err)
	}
	return nodeToCity(node.Props)
}

func (s *Neo4jStore) Create(ctx context.Context, city models.City) error {
	ctx, cancel := withTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := s.query(ctx, `CREATE (c:City {id: $id, name: $name, continent: $continent, country: $country,
		status: $status, createdAt: $createdAt})`, map[string]any{
		"id":        city.ID,
		"name":      city.Name,
		"continent": city.Continent,
		"country":   city.Country,
		"status":    string(city.Status.Normalize()),
		"createdAt": city.CreatedAt.UnixMilli(),
	})
	if err != nil {
		var nerr *neo4j.Neo4jError
		if errors.As(err, &nerr) && nerr.Code == neo4jConstraintViolation {
			return fmt.Errorf("%w: %s", ErrConflict, city.ID)
		}
		return fmt.Errorf("creating city %s: %w", city.ID, err)
	}
	return nil
}

func (s *Neo4jStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx, writeTimeout)
	defer cancel()
	res, err := s.query(ctx, "MATCH (c:City {id: $id}) DELETE c", map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("deleting city %s: %w", id, err)
	}
	if res.Summary.Counters().NodesDeleted() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Neo4jStore) MarkPending(ctx context.Context, id string) error {
	return s.set(ctx, id, "c.status = $status, c.error = null", map[string]any{
		"status": string(models.StatusPending),
	})
}

func (s *Neo4jStore) SetReady(ctx context.Context, id string, content models.CityContent, at time.Time) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encoding content for %s: %w", id, err)
	}
	return s.set(ctx, id, "c.status = $status, c.content = $content, c.lastRefreshed = $at, c.error = null", map[string]any{
		"status":  string(models.StatusReady),
		"content": string(raw),
		"at":      at.UnixMilli(),
	})
}

func (s *Neo4jStore) SetError(ctx context.Context, id string, msg string) error {
	return s.set(ctx, id, "c.status = $status, c.error = $error", map[string]any{
		"status": string(models.StatusError),
		"error":  msg,
	})
}

func (s *Neo4jStore) UpdateContent(ctx context.Context, id string, prev *time.Time, content models.CityContent, at time.Time) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encoding content for %s: %w", id, err)
	}
	var prevMs any
	if prev != nil {
		prevMs = prev.UnixMilli()
	}
	err = s.setWhere(ctx, id,
		"($prev IS NULL AND c.lastRefreshed IS NULL) OR c.lastRefreshed = $prev",
		"c.content = $content, c.lastRefreshed = $at", map[string]any{
			"prev":    prevMs,
			"content": string(raw),
			"at":      at.UnixMilli(),
		})
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, getErr := s.Get(ctx, id); getErr != nil {
		return getErr
	}
	return fmt.Errorf("%w: %s", ErrStale, id)
}

// set applies a SET clause to one city and reports ErrNotFound if no node matched.
func (s *Neo4jStore) set(ctx context.Context, id, clause string, params map[string]any) error {
	return s.setWhere(ctx, id, "", clause, params)
}

func (s *Neo4jStore) setWhere(ctx context.Context, id, where, clause string, params map[string]any) error {
	ctx, cancel := withTimeout(ctx, writeTimeout)
	defer cancel()
	params["id"] = id
	cypher := "MATCH (c:City {id: $id}) "
	if where != "" {
		cypher += "WHERE " + where + " "
	}
	res, err := s.query(ctx, cypher+"SET "+clause+" RETURN count(c) AS n", params)
	if err != nil {
		return fmt.Errorf("updating city %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n, _, err := neo4j.GetRecordValue[int64](res.Records[0], "n")
	if err != nil || n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the driver.
func (s *Neo4jStore) Close() error {
	ctx, cancel := withTimeout(context.Background(), connectTimeout)
	defer cancel()
	return s.driver.Close(ctx)
}

// nodeToCity converts node properties back into a City.
func nodeToCity(props map[string]any) (*models.City, error) {
	c := &models.City{}
	c.ID, _ = props["id"].(string)
	if c.ID == "" {
		return nil, errors.New("city node without id")
	}
	c.Name, _ = props["name"].(string)
	c.Continent, _ = props["continent"].(string)
	c.Country, _ = props["country"].(string)
	c.Error, _ = props["error"].(string)
	status, _ := props["status"].(string)
	c.Status = models.Status(status).Normalize()
	if ms, ok := props["createdAt"].(int64); ok {
		c.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, ok := props["lastRefreshed"].(int64); ok {
		t := time.UnixMilli(ms).UTC()
		c.LastRefreshed = &t
	}
	if raw, ok := props["content"].(string); ok && raw != "" {
		var content models.CityContent
		if err := json.Unmarshal([]byte(raw), &content); err != nil {
			return nil, fmt.Errorf("decoding content of %s: %w", c.ID, err)
		}
		c.Content = &content
	}
	return c, nil
}
