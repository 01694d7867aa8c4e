package generator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ajitpratap0/cityscope/internal/llm"
	"github.com/ajitpratap0/cityscope/internal/models"
	"github.com/ajitpratap0/cityscope/internal/prompt"
	"github.com/ajitpratap0/cityscope/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// started by go.opencensus.io's init, reached through the genai client.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

const lyonCore = `{
  "city": "Lyon",
  "country": "France",
  "continent": "Europe",
  "history": "Founded as Lugdunum in 43 BC.",
  "geography": "At the confluence of the Rhône and Saône.",
  "demographics": "About 520,000 residents.",
  "economy": "Banking, pharma and gastronomy.",
  "landmarks": ["Fourvière", "Vieux Lyon", "Parc de la Tête d'Or"],
  "myths": ["The silk weavers' ghosts", "The Fourvière tunnels", "The Saône dragon"],
  "latestNews": [],
  "upcomingEvents": [],
  "sources": [{"title": "Lyon - Wikipedia", "url": "https://en.wikipedia.org/wiki/Lyon", "date": null}],
  "generatedAt": "2019-01-01T00:00:00Z"
}`

const lyonFresh = `{
  "latestNews": [
    {"title": "Fête des Lumières programme announced", "url": "https://example.com/news/1", "date": "2026-10-15"},
    {"title": "Tram T10 opens", "url": "https://example.com/news/2", "date": null}
  ],
  "upcomingEvents": [
    {"name": "Fête des Lumières", "date": "2026-12-08", "url": "https://example.com/events/1"}
  ],
  "sources": [{"title": "Lyon news", "url": "https://example.com/news", "date": null}]
}`

var fixedNow = time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)

type passFunc func(ctx context.Context) (*llm.Response, error)

func reply(text string) passFunc {
	return func(context.Context) (*llm.Response, error) {
		return &llm.Response{Text: text}, nil
	}
}

// fakeLLM answers core and fresh requests with separate functions.
type fakeLLM struct {
	core  passFunc
	fresh passFunc

	mu       sync.Mutex
	requests []llm.Request
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if req.Recency == prompt.FreshRecency {
		return f.fresh(ctx)
	}
	return f.core(ctx)
}

func (f *fakeLLM) coreCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Recency == "" {
			n++
		}
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setup(t *testing.T, fake *fakeLLM, opts Options) (*Generator, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.Create(context.Background(), models.City{
		ID: "lyon", Name: "Lyon", Continent: "Europe", Country: "France", CreatedAt: fixedNow,
	}))
	g := New(st, fake, opts, testLogger())
	g.now = func() time.Time { return fixedNow }
	return g, st
}

func getCity(t *testing.T, st store.Store, id string) *models.City {
	t.Helper()
	c, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestRun_MergesBothPasses(t *testing.T) {
	fake := &fakeLLM{core: reply(lyonCore), fresh: reply(lyonFresh)}
	g, st := setup(t, fake, Options{})

	out, err := g.Run(context.Background(), "lyon")
	require.NoError(t, err)

	c := getCity(t, st, "lyon")
	assert.Equal(t, models.StatusReady, c.Status)
	assert.Empty(t, c.Error)
	require.NotNil(t, c.LastRefreshed)
	assert.Equal(t, fixedNow, *c.LastRefreshed)
	require.NotNil(t, c.Content)
	assert.Equal(t, out, c.Content)

	assert.Equal(t, "Founded as Lugdunum in 43 BC.", c.Content.History)
	require.Len(t, c.Content.LatestNews, 2)
	assert.Equal(t, "Tram T10 opens", c.Content.LatestNews[1].Title)
	require.Len(t, c.Content.UpcomingEvents, 1)
	assert.Equal(t, "Fête des Lumières", c.Content.UpcomingEvents[0].Name)
	require.Len(t, c.Content.Sources, 2)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Lyon", c.Content.Sources[0].URL)
	assert.Equal(t, "https://example.com/news", c.Content.Sources[1].URL)
	assert.Equal(t, "2026-10-19T08:30:00Z", c.Content.GeneratedAt, "generatedAt is stamped by the run")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.requests, 2)
	for _, r := range fake.requests {
		assert.Contains(t, r.Prompt, "Lyon")
	}
}

func TestRun_CoreFallback(t *testing.T) {
	fake := &fakeLLM{
		core: func(context.Context) (*llm.Response, error) {
			return &llm.Response{
				Text: "Sorry, I cannot produce JSON today.",
				Metadata: map[string]any{"raw": map[string]any{"search_results": []any{
					map[string]any{"title": "Visit Lyon", "url": "https://example.com/visit"},
					map[string]any{"title": "ftp only", "url": "ftp://example.com/x"},
				}}},
			}, nil
		},
		fresh: reply(lyonFresh),
	}
	g, st := setup(t, fake, Options{})

	_, err := g.Run(context.Background(), "lyon")
	require.NoError(t, err)

	c := getCity(t, st, "lyon")
	assert.Equal(t, models.StatusReady, c.Status)
	assert.Equal(t, "Lyon", c.Content.City)
	require.NotNil(t, c.Content.Country)
	assert.Equal(t, "France", *c.Content.Country)
	assert.Empty(t, c.Content.History)
	assert.Empty(t, c.Content.Landmarks)
	assert.Len(t, c.Content.LatestNews, 2)
	require.Len(t, c.Content.Sources, 2)
	assert.Equal(t, "https://example.com/visit", c.Content.Sources[0].URL)
}

func TestRun_FreshFallbackKeepsCoreLists(t *testing.T) {
	core := strings.Replace(lyonCore, `"latestNews": []`,
		`"latestNews": [{"title": "Core news", "url": "https://example.com/core", "date": null}]`, 1)
	fake := &fakeLLM{core: reply(core), fresh: reply("```json\n[1, 2, 3]\n```")}
	g, st := setup(t, fake, Options{})

	_, err := g.Run(context.Background(), "lyon")
	require.NoError(t, err)

	c := getCity(t, st, "lyon")
	assert.Equal(t, models.StatusReady, c.Status)
	require.Len(t, c.Content.LatestNews, 1)
	assert.Equal(t, "Core news", c.Content.LatestNews[0].Title)
	assert.Empty(t, c.Content.UpcomingEvents)
	assert.Len(t, c.Content.Sources, 1)
}

func TestRun_ProviderErrorRecordsStatus(t *testing.T) {
	fake := &fakeLLM{
		core:  func(context.Context) (*llm.Response, error) { return nil, errors.New("quota exhausted") },
		fresh: reply(lyonFresh),
	}
	g, st := setup(t, fake, Options{})

	_, err := g.Run(context.Background(), "lyon")
	require.Error(t, err)

	c := getCity(t, st, "lyon")
	assert.Equal(t, models.StatusError, c.Status)
	assert.Contains(t, c.Error, "quota exhausted")
	assert.Nil(t, c.Content, "no partial content is written")
}

func TestRun_ValidationFailureRecordsStatus(t *testing.T) {
	core := strings.Replace(lyonCore, `"city": "Lyon"`, `"city": "  "`, 1)
	fake := &fakeLLM{core: reply(core), fresh: reply(lyonFresh)}
	g, st := setup(t, fake, Options{})

	_, err := g.Run(context.Background(), "lyon")
	require.Error(t, err)

	c := getCity(t, st, "lyon")
	assert.Equal(t, models.StatusError, c.Status)
	assert.Contains(t, c.Error, "city")
	assert.Nil(t, c.Content)
}

func TestRun_Timeout(t *testing.T) {
	block := func(ctx context.Context) (*llm.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	fake := &fakeLLM{core: block, fresh: block}
	g, st := setup(t, fake, Options{Timeout: 20 * time.Millisecond})

	_, err := g.Run(context.Background(), "lyon")
	require.Error(t, err)

	c := getCity(t, st, "lyon")
	assert.Equal(t, models.StatusError, c.Status)
	assert.Equal(t, "generation timed out after 20ms", c.Error)
}

func TestRun_PanicRecordsStatus(t *testing.T) {
	fake := &fakeLLM{
		core:  func(context.Context) (*llm.Response, error) { panic("nil map") },
		fresh: reply(lyonFresh),
	}
	g, st := setup(t, fake, Options{})

	_, err := g.Run(context.Background(), "lyon")
	require.Error(t, err)

	c := getCity(t, st, "lyon")
	assert.Equal(t, models.StatusError, c.Status)
	assert.Contains(t, c.Error, "panicked")
}

func TestRun_RegenerationReplacesError(t *testing.T) {
	fake := &fakeLLM{core: reply(lyonCore), fresh: reply(lyonFresh)}
	g, st := setup(t, fake, Options{})
	require.NoError(t, st.SetError(context.Background(), "lyon", "previous failure"))

	_, err := g.Run(context.Background(), "lyon")
	require.NoError(t, err)

	c := getCity(t, st, "lyon")
	assert.Equal(t, models.StatusReady, c.Status)
	assert.Empty(t, c.Error)
}

func TestRun_UnknownCity(t *testing.T) {
	g, _ := setup(t, &fakeLLM{core: reply(lyonCore), fresh: reply(lyonFresh)}, Options{})

	_, err := g.Run(context.Background(), "atlantis")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTrigger_UnknownCity(t *testing.T) {
	g, _ := setup(t, &fakeLLM{core: reply(lyonCore), fresh: reply(lyonFresh)}, Options{})

	started, err := g.Trigger(context.Background(), "atlantis")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, started)
	g.Wait()
}

// gated returns a pass that blocks until release is closed.
func gated(release <-chan struct{}, text string) passFunc {
	return func(ctx context.Context) (*llm.Response, error) {
		select {
		case <-release:
			return &llm.Response{Text: text}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestTrigger_MarksPendingAndReturns(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeLLM{core: gated(release, lyonCore), fresh: reply(lyonFresh)}
	g, st := setup(t, fake, Options{})
	require.NoError(t, st.SetError(context.Background(), "lyon", "old"))

	started, err := g.Trigger(context.Background(), "lyon")
	require.NoError(t, err)
	assert.True(t, started)

	c := getCity(t, st, "lyon")
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Empty(t, c.Error)

	close(release)
	g.Wait()
	assert.Equal(t, models.StatusReady, getCity(t, st, "lyon").Status)
}

func TestTrigger_SurvivesRequestCancellation(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeLLM{core: gated(release, lyonCore), fresh: reply(lyonFresh)}
	g, st := setup(t, fake, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := g.Trigger(ctx, "lyon")
	require.NoError(t, err)
	cancel()

	close(release)
	g.Wait()
	assert.Equal(t, models.StatusReady, getCity(t, st, "lyon").Status)
}

func TestTrigger_SecondTriggerIgnoredWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeLLM{core: gated(release, lyonCore), fresh: reply(lyonFresh)}
	g, st := setup(t, fake, Options{})

	first, err := g.Trigger(context.Background(), "lyon")
	require.NoError(t, err)
	second, err := g.Trigger(context.Background(), "lyon")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, models.StatusPending, getCity(t, st, "lyon").Status)

	close(release)
	g.Wait()
	assert.Equal(t, 1, fake.coreCalls())
	assert.Equal(t, models.StatusReady, getCity(t, st, "lyon").Status)

	// Once the run has finished a new trigger starts again.
	again, err := g.Trigger(context.Background(), "lyon")
	require.NoError(t, err)
	assert.True(t, again)
	g.Wait()
}

func TestTrigger_ConcurrentRunsAllowed(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeLLM{core: gated(release, lyonCore), fresh: reply(lyonFresh)}
	g, st := setup(t, fake, Options{AllowConcurrentRuns: true})

	first, err := g.Trigger(context.Background(), "lyon")
	require.NoError(t, err)
	second, err := g.Trigger(context.Background(), "lyon")
	require.NoError(t, err)
	assert.True(t, first)
	assert.True(t, second)

	close(release)
	g.Wait()
	assert.Equal(t, 2, fake.coreCalls())
	assert.Equal(t, models.StatusReady, getCity(t, st, "lyon").Status)
}

func seedReady(t *testing.T, g *Generator) {
	t.Helper()
	_, err := g.Run(context.Background(), "lyon")
	require.NoError(t, err)
}

func TestRefreshFresh(t *testing.T) {
	fake := &fakeLLM{core: reply(lyonCore), fresh: reply(lyonFresh)}
	g, st := setup(t, fake, Options{})
	seedReady(t, g)

	later := fixedNow.Add(24 * time.Hour)
	g.now = func() time.Time { return later }
	fake.fresh = reply(`{"latestNews": [{"title": "Only one", "url": "https://example.com/n", "date": null}],
		"sources": [{"title": "Extra", "url": "https://example.com/extra", "date": null}]}`)

	out, err := g.RefreshFresh(context.Background(), "lyon")
	require.NoError(t, err)

	c := getCity(t, st, "lyon")
	assert.Equal(t, models.StatusReady, c.Status)
	assert.Equal(t, out, c.Content)
	require.Len(t, c.Content.LatestNews, 1)
	assert.Equal(t, "Only one", c.Content.LatestNews[0].Title)
	assert.Len(t, c.Content.UpcomingEvents, 1, "events kept when the refresh returned none")
	assert.Len(t, c.Content.Sources, 3)
	assert.Equal(t, "Founded as Lugdunum in 43 BC.", c.Content.History)
	assert.Equal(t, later.Format(time.RFC3339), c.Content.GeneratedAt)
	assert.Equal(t, later, *c.LastRefreshed)
}

func TestRefreshFresh_DoesNotOverwriteRegeneration(t *testing.T) {
	fake := &fakeLLM{core: reply(lyonCore), fresh: reply(lyonFresh)}
	g, st := setup(t, fake, Options{})
	seedReady(t, g)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	fake.core = reply(strings.Replace(lyonCore, "Founded as Lugdunum in 43 BC.", "Regenerated history.", 1))
	fake.fresh = func(context.Context) (*llm.Response, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return &llm.Response{Text: lyonFresh}, nil
	}
	later := fixedNow.Add(time.Hour)
	g.now = func() time.Time { return later }

	errCh := make(chan error, 1)
	go func() {
		_, err := g.RefreshFresh(context.Background(), "lyon")
		errCh <- err
	}()
	<-entered

	_, err := g.Run(context.Background(), "lyon")
	require.NoError(t, err)
	require.Equal(t, "Regenerated history.", getCity(t, st, "lyon").Content.History)

	close(release)
	assert.ErrorIs(t, <-errCh, store.ErrStale)

	c := getCity(t, st, "lyon")
	assert.Equal(t, models.StatusReady, c.Status)
	assert.Equal(t, "Regenerated history.", c.Content.History)
	assert.Equal(t, later, *c.LastRefreshed)
}

func TestRefreshFresh_NotReady(t *testing.T) {
	g, _ := setup(t, &fakeLLM{core: reply(lyonCore), fresh: reply(lyonFresh)}, Options{})

	_, err := g.RefreshFresh(context.Background(), "lyon")
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = g.RefreshFresh(context.Background(), "atlantis")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefresher_Run(t *testing.T) {
	fake := &fakeLLM{core: reply(lyonCore), fresh: reply(lyonFresh)}
	g, st := setup(t, fake, Options{})
	seedReady(t, g)
	require.NoError(t, st.Create(context.Background(), models.City{ID: "porto", Name: "Porto", Continent: "Europe"}))

	r := NewRefresher(st, g, testLogger())
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Report{Refreshed: 1, Skipped: 1}, report)

	fake.fresh = func(context.Context) (*llm.Response, error) { return nil, errors.New("upstream down") }
	report, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Report{Failed: 1, Skipped: 1}, report)
	assert.Equal(t, models.StatusReady, getCity(t, st, "lyon").Status, "a failed refresh keeps the city ready")
}

func TestRefresher_StartStops(t *testing.T) {
	g, st := setup(t, &fakeLLM{core: reply(lyonCore), fresh: reply(lyonFresh)}, Options{})
	r := NewRefresher(st, g, testLogger())

	r.Start(context.Background(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}
