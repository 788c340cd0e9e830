package ingest_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/spf13/afero"

	"assignbot/internal/apperr"
	"assignbot/internal/feedcache"
	"assignbot/internal/ingest"
	"assignbot/internal/model"
	"assignbot/internal/window"
)

// mockSource counts fetches and returns a canned body.
type mockSource struct {
	fetchFunc func(ctx context.Context) ([]byte, error)
	calls     int
}

func (m *mockSource) Fetch(ctx context.Context) ([]byte, error) {
	m.calls++
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx)
	}
	return nil, errors.New("mock not configured")
}

// countingCache wraps a real cache and counts saves.
type countingCache struct {
	feedcache.Cache
	saves    int
	saveFunc func(ctx context.Context, snap *model.FeedSnapshot) error
}

func (c *countingCache) Save(ctx context.Context, snap *model.FeedSnapshot) error {
	c.saves++
	if c.saveFunc != nil {
		return c.saveFunc(ctx, snap)
	}
	return c.Cache.Save(ctx, snap)
}

func feedBody(events ...string) []byte {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}
	lines = append(lines, events...)
	lines = append(lines, "END:VCALENDAR")
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func vevent(uid, location string, start time.Time) string {
	return strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTAMP:20251001T000000Z",
		"DTSTART:" + start.UTC().Format("20060102T150405Z"),
		"SUMMARY:" + uid,
		"LOCATION:" + location,
		"END:VEVENT",
	}, "\r\n")
}

var courses = []ingest.Course{
	{Key: "prog", LocationMatch: "PROG-1001"},
	{Key: "netw", LocationMatch: "NETW-2001", ForumTag: "1432035950397096087"},
	{Key: "dbas", LocationMatch: "DBAS-3001"},
}

func TestIngest_CacheMissFetchesOnceThenUsesCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 14, 12, 0, 0, 0, time.UTC)

	src := &mockSource{
		fetchFunc: func(ctx context.Context) ([]byte, error) {
			return feedBody(vevent("lab-1", "NETW-2001", now.AddDate(0, 0, 5))), nil
		},
	}
	cache := &countingCache{Cache: feedcache.New("/cache/feed.json", feedcache.WithFs(afero.NewMemMapFs()))}
	ing := ingest.New(courses, src, cache, ingest.WithClock(func() time.Time { return now }))

	feeds, err := ing.Ingest(ctx)
	gt.NoError(t, err)
	gt.Equal(t, src.calls, 1)
	gt.Equal(t, cache.saves, 1)
	gt.Equal(t, len(feeds["netw"].Events), 1)
	gt.Equal(t, feeds["netw"].Events[0].UID, "lab-1")
	gt.Equal(t, feeds["netw"].ForumTag, "1432035950397096087")

	snap, err := cache.Load(ctx)
	gt.NoError(t, err)
	gt.True(t, snap.FetchedAt.Equal(now))

	// Second cycle: zero remote fetches, zero saves.
	feeds, err = ing.Ingest(ctx)
	gt.NoError(t, err)
	gt.Equal(t, src.calls, 1)
	gt.Equal(t, cache.saves, 1)
	gt.Equal(t, len(feeds["netw"].Events), 1)
}

func TestIngest_FetchErrorPropagates(t *testing.T) {
	src := &mockSource{
		fetchFunc: func(ctx context.Context) ([]byte, error) {
			return nil, goerr.New("unreachable", goerr.T(apperr.TagFetch))
		},
	}
	cache := &countingCache{Cache: feedcache.New("/cache/feed.json", feedcache.WithFs(afero.NewMemMapFs()))}
	ing := ingest.New(courses, src, cache)

	_, err := ing.Ingest(context.Background())
	gt.Error(t, err)
	gt.True(t, apperr.IsFetch(err))
	gt.Equal(t, cache.saves, 0)
}

func TestIngest_SaveErrorAbortsAsStorage(t *testing.T) {
	src := &mockSource{
		fetchFunc: func(ctx context.Context) ([]byte, error) {
			return feedBody(vevent("lab-1", "NETW-2001", time.Now())), nil
		},
	}
	cache := &countingCache{
		Cache: feedcache.New("/cache/feed.json", feedcache.WithFs(afero.NewMemMapFs())),
		saveFunc: func(ctx context.Context, snap *model.FeedSnapshot) error {
			return goerr.New("disk full", goerr.T(apperr.TagStorage))
		},
	}
	ing := ingest.New(courses, src, cache)

	_, err := ing.Ingest(context.Background())
	gt.True(t, apperr.IsStorage(err))
}

func TestIngest_CorruptCacheIsStorageError(t *testing.T) {
	fsys := afero.NewMemMapFs()
	gt.NoError(t, afero.WriteFile(fsys, "/cache/feed.json", []byte("garbage"), 0o600))

	src := &mockSource{}
	ing := ingest.New(courses, src, feedcache.New("/cache/feed.json", feedcache.WithFs(fsys)))

	_, err := ing.Ingest(context.Background())
	gt.True(t, apperr.IsStorage(err))
	gt.Equal(t, src.calls, 0)
}

func TestIngestOrdered(t *testing.T) {
	src := &mockSource{
		fetchFunc: func(ctx context.Context) ([]byte, error) {
			return feedBody(vevent("a", "DBAS-3001", time.Now())), nil
		},
	}
	ing := ingest.New(courses, src, feedcache.New("/cache/feed.json", feedcache.WithFs(afero.NewMemMapFs())))

	feeds, err := ing.IngestOrdered(context.Background())
	gt.NoError(t, err)
	gt.Equal(t, len(feeds), 3)
	gt.Equal(t, feeds[0].Key, "prog")
	gt.Equal(t, feeds[1].Key, "netw")
	gt.Equal(t, feeds[2].Key, "dbas")
	gt.Equal(t, len(feeds[2].Events), 1)
}

func ptr(t time.Time) *time.Time { return &t }

func TestClassify(t *testing.T) {
	start := time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC)
	snap := &model.FeedSnapshot{
		Events: map[string]model.RawEvent{
			"netw-1": {Type: model.ComponentEvent, UID: "netw-1", Location: "NETW-2001", Start: ptr(start)},
			"prog-1": {Type: model.ComponentEvent, UID: "prog-1", Location: "PROG-1001", Start: ptr(start)},
			"orphan": {Type: model.ComponentEvent, UID: "orphan", Location: "HIST-1000", Start: ptr(start)},
			"noloc":  {Type: model.ComponentEvent, UID: "noloc", Start: ptr(start)},
		},
	}

	t.Run("matching and unmatched events", func(t *testing.T) {
		feeds := ingest.Classify(courses, snap)
		gt.Equal(t, len(feeds), 3)
		gt.Equal(t, len(feeds["netw"].Events), 1)
		gt.Equal(t, feeds["netw"].Events[0].UID, "netw-1")
		gt.Equal(t, len(feeds["prog"].Events), 1)
		gt.Equal(t, feeds["prog"].Events[0].UID, "prog-1")
		gt.Equal(t, len(feeds["dbas"].Events), 0)

		for _, f := range feeds {
			for _, ev := range f.Events {
				gt.False(t, ev.UID == "orphan" || ev.UID == "noloc")
			}
		}
	})

	t.Run("empty location never matches an empty course location", func(t *testing.T) {
		feeds := ingest.Classify([]ingest.Course{{Key: "webd"}}, snap)
		gt.Equal(t, len(feeds["webd"].Events), 0)
	})

	t.Run("shared location fans out", func(t *testing.T) {
		shared := []ingest.Course{
			{Key: "netw", LocationMatch: "NETW-2001"},
			{Key: "osys", LocationMatch: "NETW-2001"},
		}
		feeds := ingest.Classify(shared, snap)
		gt.Equal(t, len(feeds["netw"].Events), 1)
		gt.Equal(t, len(feeds["osys"].Events), 1)
	})

	t.Run("override instance excluded from base rule", func(t *testing.T) {
		rid := start.AddDate(0, 0, 7)
		moved := rid.Add(24 * time.Hour)
		recurring := &model.FeedSnapshot{
			Events: map[string]model.RawEvent{
				"quiz": {
					Type: model.ComponentEvent, UID: "quiz", Location: "PROG-1001",
					Start: ptr(start), RRule: "FREQ=WEEKLY;COUNT=3",
				},
				"quiz#" + rid.Format(time.RFC3339): {
					Type: model.ComponentEvent, UID: "quiz", Location: "PROG-1001",
					Start: ptr(moved), RecurrenceID: ptr(rid),
				},
			},
		}
		feeds := ingest.Classify(courses, recurring)
		events := feeds["prog"].Events
		gt.Equal(t, len(events), 2)
		gt.Equal(t, events[0].UID, "quiz")
		gt.Equal(t, len(events[0].ExDates), 1)
		gt.True(t, events[0].ExDates[0].Equal(rid))
		gt.Equal(t, events[1].UID, model.OccurrenceUID("quiz", rid))
		gt.False(t, events[1].IsRecurring())
	})
}

func TestRecurringEventInLocalZoneAcrossDST(t *testing.T) {
	toronto, err := time.LoadLocation("America/Toronto")
	gt.NoError(t, err)
	now := time.Date(2025, 10, 14, 12, 0, 0, 0, time.UTC)

	body := feedBody(
		strings.Join([]string{
			"BEGIN:VEVENT",
			"UID:wk",
			"DTSTAMP:20251001T000000Z",
			"DTSTART;TZID=America/Toronto:20251020T235900",
			"RRULE:FREQ=WEEKLY;COUNT=4",
			"SUMMARY:Quiz",
			"LOCATION:PROG-1001",
			"END:VEVENT",
		}, "\r\n"),
		strings.Join([]string{
			"BEGIN:VEVENT",
			"UID:wk",
			"DTSTAMP:20251001T000000Z",
			"RECURRENCE-ID;TZID=America/Toronto:20251103T235900",
			"DTSTART;TZID=America/Toronto:20251104T235900",
			"SUMMARY:Quiz moved",
			"LOCATION:PROG-1001",
			"END:VEVENT",
		}, "\r\n"),
	)

	src := &mockSource{fetchFunc: func(context.Context) ([]byte, error) { return body, nil }}
	cache := feedcache.New("/cache/feed.json", feedcache.WithFs(afero.NewMemMapFs()))
	ing := ingest.New(courses, src, cache, ingest.WithClock(func() time.Time { return now }))

	feeds, err := ing.IngestOrdered(context.Background())
	gt.NoError(t, err)

	got := window.SelectUpcoming(feeds, now, 30)
	uids := make([]string, 0, len(got))
	for _, a := range got {
		uids = append(uids, a.UID)
	}
	gt.Equal(t, uids, []string{
		"wk/2025-10-21T03:59:00Z",
		"wk/2025-10-28T03:59:00Z",
		"wk/2025-11-04T04:59:00Z",
		"wk/2025-11-11T04:59:00Z",
	})

	gt.Equal(t, got[2].Summary, "Quiz moved")
	for _, i := range []int{0, 1, 3} {
		local := got[i].Start.In(toronto)
		gt.Equal(t, local.Hour(), 23)
		gt.Equal(t, local.Minute(), 59)
		gt.Equal(t, got[i].Summary, "Quiz")
	}
}
