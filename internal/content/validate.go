package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/cityscope/internal/models"
)

// MaxSources caps the merged source list.
const MaxSources = 50

// requiredScalars are the string fields every core payload must carry.
var requiredScalars = []string{"city", "continent", "history", "geography", "demographics", "economy", "generatedAt"}

// Fresh is the time-sensitive payload of the second generation pass.
type Fresh struct {
	LatestNews     []models.NewsItem  `json:"latestNews"`
	UpcomingEvents []models.EventItem `json:"upcomingEvents"`
	Sources        []models.NewsItem  `json:"sources"`
}

// ParseCore parses a core-profile response into normalized content.
// List fields default to empty and optional scalars to absent.
func ParseCore(text string) (*models.CityContent, error) {
	obj, err := decodeObject(text)
	if err != nil {
		return nil, err
	}

	out := &models.CityContent{}
	scalars := map[string]*string{
		"city":         &out.City,
		"continent":    &out.Continent,
		"history":      &out.History,
		"geography":    &out.Geography,
		"demographics": &out.Demographics,
		"economy":      &out.Economy,
		"generatedAt":  &out.GeneratedAt,
	}
	for _, field := range requiredScalars {
		v, ok := obj[field]
		if !ok || v == nil {
			return nil, &SchemaError{Field: field, Reason: "is required"}
		}
		s, ok := v.(string)
		if !ok {
			return nil, &SchemaError{Field: field, Reason: "must be a string"}
		}
		*scalars[field] = s
	}

	if out.Country, err = optionalString(obj, "country"); err != nil {
		return nil, err
	}
	if out.Landmarks, err = stringList(obj, "landmarks"); err != nil {
		return nil, err
	}
	if out.Myths, err = stringList(obj, "myths"); err != nil {
		return nil, err
	}
	if out.LatestNews, err = newsList(obj, "latestNews"); err != nil {
		return nil, err
	}
	if out.UpcomingEvents, err = eventList(obj, "upcomingEvents"); err != nil {
		return nil, err
	}
	if out.Sources, err = newsList(obj, "sources"); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseFresh parses a fresh-pass response. All lists are optional.
func ParseFresh(text string) (*Fresh, error) {
	obj, err := decodeObject(text)
	if err != nil {
		return nil, err
	}
	out := &Fresh{}
	if out.LatestNews, err = newsList(obj, "latestNews"); err != nil {
		return nil, err
	}
	if out.UpcomingEvents, err = eventList(obj, "upcomingEvents"); err != nil {
		return nil, err
	}
	if out.Sources, err = newsList(obj, "sources"); err != nil {
		return nil, err
	}
	return out, nil
}

// EmptyFresh returns a fresh payload with no news or events.
func EmptyFresh(sources []models.NewsItem) *Fresh {
	if sources == nil {
		sources = []models.NewsItem{}
	}
	return &Fresh{
		LatestNews:     []models.NewsItem{},
		UpcomingEvents: []models.EventItem{},
		Sources:        sources,
	}
}

// Validate checks an assembled content object against the full schema.
func Validate(c *models.CityContent) error {
	if c == nil {
		return &SchemaError{Reason: "content is missing"}
	}
	if strings.TrimSpace(c.City) == "" {
		return &SchemaError{Field: "city", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.Continent) == "" {
		return &SchemaError{Field: "continent", Reason: "must not be empty"}
	}
	if _, err := parseTimestamp(c.GeneratedAt); err != nil {
		return &SchemaError{Field: "generatedAt", Reason: "must be an ISO timestamp"}
	}
	if c.Landmarks == nil || c.Myths == nil || c.LatestNews == nil || c.UpcomingEvents == nil || c.Sources == nil {
		return &SchemaError{Reason: "list fields must be present"}
	}
	if len(c.Sources) > MaxSources {
		return &SchemaError{Field: "sources", Reason: fmt.Sprintf("must not exceed %d entries", MaxSources)}
	}
	for i, n := range c.LatestNews {
		if err := checkNews(fmt.Sprintf("latestNews[%d]", i), n); err != nil {
			return err
		}
	}
	for i, n := range c.Sources {
		if err := checkNews(fmt.Sprintf("sources[%d]", i), n); err != nil {
			return err
		}
	}
	for i, ev := range c.UpcomingEvents {
		field := fmt.Sprintf("upcomingEvents[%d]", i)
		if strings.TrimSpace(ev.Name) == "" {
			return &SchemaError{Field: field + ".name", Reason: "must not be empty"}
		}
		if ev.URL != nil && !isURL(*ev.URL) {
			return &SchemaError{Field: field + ".url", Reason: "must be a valid URL"}
		}
	}
	return nil
}

func checkNews(field string, n models.NewsItem) error {
	if strings.TrimSpace(n.Title) == "" {
		return &SchemaError{Field: field + ".title", Reason: "must not be empty"}
	}
	if !isURL(n.URL) {
		return &SchemaError{Field: field + ".url", Reason: "must be a valid URL"}
	}
	return nil
}

// decodeObject strips optional markdown fences and decodes a JSON object.
func decodeObject(text string) (map[string]any, error) {
	body := stripFences(text)
	if body == "" {
		return nil, &ParseError{Err: errors.New("empty response")}
	}
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, &ParseError{Err: err}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &SchemaError{Reason: "top level must be a JSON object"}
	}
	return obj, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop the language hint
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func optionalString(obj map[string]any, field string) (*string, error) {
	v, ok := obj[field]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, &SchemaError{Field: field, Reason: "must be a string or null"}
	}
	return &s, nil
}

func list(obj map[string]any, field string) ([]any, error) {
	v, ok := obj[field]
	if !ok || v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, &SchemaError{Field: field, Reason: "must be an array"}
	}
	return arr, nil
}

func stringList(obj map[string]any, field string) ([]string, error) {
	arr, err := list(obj, field)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(arr))
	for i, el := range arr {
		s, ok := el.(string)
		if !ok {
			return nil, &SchemaError{Field: fmt.Sprintf("%s[%d]", field, i), Reason: "must be a string"}
		}
		out = append(out, s)
	}
	return out, nil
}

func newsList(obj map[string]any, field string) ([]models.NewsItem, error) {
	arr, err := list(obj, field)
	if err != nil {
		return nil, err
	}
	out := make([]models.NewsItem, 0, len(arr))
	for i, el := range arr {
		path := fmt.Sprintf("%s[%d]", field, i)
		item, ok := el.(map[string]any)
		if !ok {
			return nil, &SchemaError{Field: path, Reason: "must be an object"}
		}
		title, ok := item["title"].(string)
		if !ok || strings.TrimSpace(title) == "" {
			return nil, &SchemaError{Field: path + ".title", Reason: "must be a non-empty string"}
		}
		link, ok := item["url"].(string)
		if !ok || !isURL(link) {
			return nil, &SchemaError{Field: path + ".url", Reason: "must be a valid URL"}
		}
		date, err := optionalString(item, "date")
		if err != nil {
			return nil, &SchemaError{Field: path + ".date", Reason: "must be a string or null"}
		}
		out = append(out, models.NewsItem{Title: title, URL: link, Date: date})
	}
	return out, nil
}

func eventList(obj map[string]any, field string) ([]models.EventItem, error) {
	arr, err := list(obj, field)
	if err != nil {
		return nil, err
	}
	out := make([]models.EventItem, 0, len(arr))
	for i, el := range arr {
		path := fmt.Sprintf("%s[%d]", field, i)
		item, ok := el.(map[string]any)
		if !ok {
			return nil, &SchemaError{Field: path, Reason: "must be an object"}
		}
		name, ok := item["name"].(string)
		if !ok || strings.TrimSpace(name) == "" {
			return nil, &SchemaError{Field: path + ".name", Reason: "must be a non-empty string"}
		}
		date, err := optionalString(item, "date")
		if err != nil {
			return nil, &SchemaError{Field: path + ".date", Reason: "must be a string or null"}
		}
		link, err := optionalString(item, "url")
		if link != nil && *link == "" {
			link = nil
		}
		if err != nil || (link != nil && !isURL(*link)) {
			return nil, &SchemaError{Field: path + ".url", Reason: "must be a valid URL or null"}
		}
		out = append(out, models.EventItem{Name: name, Date: date, URL: link})
	}
	return out, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
