package content

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cityscope/internal/models"
)

const validCore = `{
  "city": "Lyon",
  "country": "France",
  "continent": "Europe",
  "history": "Founded as Lugdunum in 43 BC.",
  "geography": "At the confluence of the Rhône and Saône.",
  "demographics": "About 520,000 residents.",
  "economy": "Banking, pharma and gastronomy.",
  "landmarks": ["Fourvière", "Vieux Lyon", "Parc de la Tête d'Or"],
  "myths": ["The Lyon silk ghosts"],
  "latestNews": [],
  "upcomingEvents": [],
  "sources": [{"title": "Lyon - Wikipedia", "url": "https://en.wikipedia.org/wiki/Lyon", "date": null}],
  "generatedAt": "2026-10-01T10:00:00Z"
}`

func TestParseCore_Valid(t *testing.T) {
	c, err := ParseCore(validCore)
	require.NoError(t, err)

	assert.Equal(t, "Lyon", c.City)
	require.NotNil(t, c.Country)
	assert.Equal(t, "France", *c.Country)
	assert.Len(t, c.Landmarks, 3)
	assert.Empty(t, c.LatestNews)
	assert.NotNil(t, c.LatestNews)
	require.Len(t, c.Sources, 1)
	assert.Nil(t, c.Sources[0].Date)
	require.NoError(t, Validate(c))
}

func TestParseCore_CodeFence(t *testing.T) {
	c, err := ParseCore("```json\n" + validCore + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "Lyon", c.City)
}

func TestParseCore_DefaultsMissingLists(t *testing.T) {
	c, err := ParseCore(`{"city":"Lyon","continent":"Europe","history":"h","geography":"g","demographics":"d","economy":"e","generatedAt":"2026-10-01"}`)
	require.NoError(t, err)

	assert.Nil(t, c.Country)
	assert.Equal(t, []string{}, c.Landmarks)
	assert.Equal(t, []string{}, c.Myths)
	assert.Equal(t, []models.NewsItem{}, c.LatestNews)
	assert.Equal(t, []models.EventItem{}, c.UpcomingEvents)
	assert.Equal(t, []models.NewsItem{}, c.Sources)
}

func TestParseCore_ParseError(t *testing.T) {
	for _, text := range []string{"", "Here is the profile you asked for:", `{"city": "Lyon",}`, "{"} {
		_, err := ParseCore(text)
		var pe *ParseError
		assert.True(t, errors.As(err, &pe), "input %q: expected ParseError, got %v", text, err)
	}
}

func TestParseCore_SchemaError(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		field string
	}{
		{"array", `[1,2]`, ""},
		{"missing history", `{"city":"Lyon","continent":"Europe","geography":"g","demographics":"d","economy":"e","generatedAt":"x"}`, "history"},
		{"numeric economy", `{"city":"Lyon","continent":"Europe","history":"h","geography":"g","demographics":"d","economy":42,"generatedAt":"x"}`, "economy"},
		{"landmarks not array", `{"city":"Lyon","continent":"Europe","history":"h","geography":"g","demographics":"d","economy":"e","generatedAt":"x","landmarks":"Fourvière"}`, "landmarks"},
		{"source without url", `{"city":"Lyon","continent":"Europe","history":"h","geography":"g","demographics":"d","economy":"e","generatedAt":"x","sources":[{"title":"t"}]}`, "sources[0].url"},
		{"event bad url", `{"city":"Lyon","continent":"Europe","history":"h","geography":"g","demographics":"d","economy":"e","generatedAt":"x","upcomingEvents":[{"name":"Fête","url":"not a url"}]}`, "upcomingEvents[0].url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCore(tt.text)
			var se *SchemaError
			require.True(t, errors.As(err, &se), "expected SchemaError, got %v", err)
			assert.Equal(t, tt.field, se.Field)
		})
	}
}

func TestParseFresh(t *testing.T) {
	f, err := ParseFresh(`{
	  "latestNews": [{"title": "Metro line D extended", "url": "https://example.com/d", "date": "2026-10-15"}],
	  "upcomingEvents": [{"name": "Fête des Lumières", "date": "", "url": ""}]
	}`)
	require.NoError(t, err)

	require.Len(t, f.LatestNews, 1)
	require.Len(t, f.UpcomingEvents, 1)
	assert.Nil(t, f.UpcomingEvents[0].URL, "empty url is treated as absent")
	assert.Equal(t, []models.NewsItem{}, f.Sources)

	_, err = ParseFresh("no news today")
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestValidate(t *testing.T) {
	good := Fallback(models.City{Name: "Lyon", Continent: "Europe"}, nil, time.Now())
	require.NoError(t, Validate(good))

	bad := good.Clone()
	bad.GeneratedAt = "yesterday"
	assert.Error(t, Validate(&bad))

	bad = good.Clone()
	bad.Sources = make([]models.NewsItem, MaxSources+1)
	for i := range bad.Sources {
		bad.Sources[i] = models.NewsItem{Title: "t", URL: "https://example.com"}
	}
	var se *SchemaError
	require.ErrorAs(t, Validate(&bad), &se)
	assert.Equal(t, "sources", se.Field)

	bad = good.Clone()
	bad.Continent = " "
	assert.Error(t, Validate(&bad))

	assert.Error(t, Validate(nil))
}

func TestFallback_UsesKnownFields(t *testing.T) {
	city := models.City{ID: "x1", Name: "Lyon", Continent: "Europe", Country: "France"}
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	c := Fallback(city, nil, now)

	assert.Equal(t, "Lyon", c.City)
	require.NotNil(t, c.Country)
	assert.Equal(t, "France", *c.Country)
	assert.Equal(t, "Europe", c.Continent)
	assert.Equal(t, "", c.History+c.Geography+c.Demographics+c.Economy)
	assert.Equal(t, []string{}, c.Landmarks)
	assert.Equal(t, []string{}, c.Myths)
	assert.Equal(t, []models.NewsItem{}, c.Sources)
	assert.Equal(t, "2026-10-19T08:00:00Z", c.GeneratedAt)
}

func news(prefix string, n int) []models.NewsItem {
	out := make([]models.NewsItem, n)
	for i := range out {
		out[i] = models.NewsItem{Title: fmt.Sprintf("%s-%d", prefix, i), URL: fmt.Sprintf("https://example.com/%s/%d", prefix, i)}
	}
	return out
}

func TestMerge_FreshListsWinWhenNonEmpty(t *testing.T) {
	core, err := ParseCore(validCore)
	require.NoError(t, err)
	core.LatestNews = news("core", 1)

	fresh := &Fresh{
		LatestNews:     news("fresh", 2),
		UpcomingEvents: []models.EventItem{{Name: "Biennale"}},
		Sources:        news("fs", 1),
	}
	merged := Merge(core, fresh)

	if diff := cmp.Diff(fresh.LatestNews, merged.LatestNews); diff != "" {
		t.Fatalf("latestNews mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(fresh.UpcomingEvents, merged.UpcomingEvents); diff != "" {
		t.Fatalf("upcomingEvents mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, core.History, merged.History)
	assert.Equal(t, core.Landmarks, merged.Landmarks)
}

func TestMerge_EmptyFreshKeepsCoreLists(t *testing.T) {
	core, err := ParseCore(validCore)
	require.NoError(t, err)
	core.LatestNews = news("core", 2)
	core.UpcomingEvents = []models.EventItem{{Name: "Nuits de Fourvière"}}

	merged := Merge(core, EmptyFresh(nil))

	if diff := cmp.Diff(core.LatestNews, merged.LatestNews); diff != "" {
		t.Fatalf("latestNews mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(core.UpcomingEvents, merged.UpcomingEvents); diff != "" {
		t.Fatalf("upcomingEvents mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_SourcesCap(t *testing.T) {
	cases := []struct{ core, fresh int }{
		{0, 0}, {3, 4}, {30, 30}, {50, 5}, {60, 10}, {0, 70},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("core=%d fresh=%d", tc.core, tc.fresh), func(t *testing.T) {
			core := Fallback(models.City{Name: "Lyon", Continent: "Europe"}, news("c", tc.core), time.Now())
			fresh := EmptyFresh(news("f", tc.fresh))

			merged := Merge(core, fresh)

			require.LessOrEqual(t, len(merged.Sources), MaxSources)
			fromCore := min(MaxSources, tc.core)
			assert.Equal(t, core.Sources[:fromCore], merged.Sources[:fromCore])
			fromFresh := min(MaxSources-fromCore, tc.fresh)
			assert.Equal(t, fresh.Sources[:fromFresh], merged.Sources[fromCore:])
		})
	}
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	core := Fallback(models.City{Name: "Lyon", Continent: "Europe"}, news("c", 1), time.Now())
	fresh := EmptyFresh(news("f", 1))

	merged := Merge(core, fresh)
	merged.Sources[0].Title = "changed"

	assert.Equal(t, "c-0", core.Sources[0].Title)
}

func TestSalvageSources(t *testing.T) {
	date := "2026-10-10"
	meta := map[string]any{
		"raw": map[string]any{"id": "gen-1"},
		"providerResponse": map[string]any{
			"search_results": []any{
				map[string]any{"title": "Lyon news", "url": "https://example.com/a", "date": date},
				map[string]any{"title": "Lyon guide", "url": "https://example.com/b"},
			},
		},
		"additional_kwargs": map[string]any{
			"search_results": []any{map[string]any{"title": "ignored", "url": "https://example.com/c"}},
		},
	}

	got := SalvageSources(meta)

	want := []models.NewsItem{
		{Title: "Lyon news", URL: "https://example.com/a", Date: &date},
		{Title: "Lyon guide", URL: "https://example.com/b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("salvaged sources mismatch (-want +got):\n%s", diff)
	}
}

func TestSalvageSources_MalformedListSkipped(t *testing.T) {
	meta := map[string]any{
		"raw": map[string]any{
			"search_results": []any{map[string]any{"title": 1, "url": "https://example.com/a"}},
		},
		"additional_kwargs": map[string]any{
			"search_results": []any{
				map[string]any{"title": "ok", "url": "https://example.com/ok"},
				map[string]any{"title": "relative", "url": "/relative"},
			},
		},
	}

	got := SalvageSources(meta)

	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Title)
	assert.Equal(t, []models.NewsItem{}, SalvageSources(nil))
}
