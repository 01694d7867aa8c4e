package content

import (
	"time"

	"github.com/ajitpratap0/cityscope/internal/models"
)

// Merge combines the core and fresh payloads into the final content.
// Fresh news and events win when non-empty; sources are core's followed by
// fresh's, truncated to MaxSources. Every other field comes from core.
// Neither input is modified.
func Merge(core *models.CityContent, fresh *Fresh) *models.CityContent {
	merged := core.Clone()
	if fresh == nil {
		fresh = EmptyFresh(nil)
	}

	if len(fresh.LatestNews) > 0 {
		merged.LatestNews = models.CloneNews(fresh.LatestNews)
	}
	if len(fresh.UpcomingEvents) > 0 {
		merged.UpcomingEvents = models.CloneEvents(fresh.UpcomingEvents)
	}

	sources := make([]models.NewsItem, 0, min(MaxSources, len(core.Sources)+len(fresh.Sources)))
	sources = append(sources, merged.Sources...)
	sources = append(sources, models.CloneNews(fresh.Sources)...)
	if len(sources) > MaxSources {
		sources = sources[:MaxSources]
	}
	merged.Sources = sources
	return &merged
}

// Fallback builds a core payload from the known city fields when the core
// pass returned unusable output. Narrative fields are left empty.
func Fallback(city models.City, sources []models.NewsItem, now time.Time) *models.CityContent {
	if sources == nil {
		sources = []models.NewsItem{}
	}
	country := city.Country
	return &models.CityContent{
		City:           city.Name,
		Country:        &country,
		Continent:      city.Continent,
		Landmarks:      []string{},
		Myths:          []string{},
		LatestNews:     []models.NewsItem{},
		UpcomingEvents: []models.EventItem{},
		Sources:        sources,
		GeneratedAt:    now.UTC().Format(time.RFC3339),
	}
}
