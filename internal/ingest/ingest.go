// Package ingest turns the calendar feed into per-course event lists.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"assignbot/internal/feedcache"
	"assignbot/internal/ics"
	appLog "assignbot/internal/log"
	"assignbot/internal/model"
)

// Course is the immutable definition of one course as handed to the
// ingestor at construction.
type Course struct {
	Key           string
	LocationMatch string
	ForumTag      string
}

// Source fetches the raw ICS payload from the remote calendar.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Ingestor loads the feed (cache first), classifies events by course and
// returns one CourseFeed per configured course.
type Ingestor struct {
	courses []Course
	source  Source
	cache   feedcache.Cache
	now     func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithClock overrides the clock used to stamp new snapshots.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) {
		i.now = now
	}
}

// New creates an Ingestor. The courses slice is copied.
func New(courses []Course, source Source, cache feedcache.Cache, opts ...Option) *Ingestor {
	i := &Ingestor{
		courses: append([]Course(nil), courses...),
		source:  source,
		cache:   cache,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Courses returns a copy of the configured course definitions, in order.
func (i *Ingestor) Courses() []Course {
	return append([]Course(nil), i.courses...)
}

// Ingest returns the per-course feeds keyed by course key.
func (i *Ingestor) Ingest(ctx context.Context) (map[string]*model.CourseFeed, error) {
	snap, err := i.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return Classify(i.courses, snap), nil
}

// IngestOrdered is Ingest with the feeds returned in course order.
func (i *Ingestor) IngestOrdered(ctx context.Context) ([]*model.CourseFeed, error) {
	feeds, err := i.Ingest(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.CourseFeed, 0, len(i.courses))
	for _, c := range i.courses {
		if f, ok := feeds[c.Key]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// snapshot returns the cached snapshot, or fetches and persists a new one
// when the cache has none.
func (i *Ingestor) snapshot(ctx context.Context) (*model.FeedSnapshot, error) {
	snap, err := i.cache.Load(ctx)
	if err == nil {
		appLog.Debug("using cached feed snapshot", "fetched_at", snap.FetchedAt, "event_count", len(snap.Events))
		return snap, nil
	}
	if !errors.Is(err, feedcache.ErrNotFound) {
		return nil, err
	}

	appLog.Info("no feed snapshot; fetching remote calendar")
	body, err := i.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	events, err := ics.ParseFeed(body)
	if err != nil {
		return nil, err
	}

	snap = &model.FeedSnapshot{
		FetchedAt: i.now().UTC(),
		Events:    events,
	}
	if err := i.cache.Save(ctx, snap); err != nil {
		return nil, goerr.Wrap(err, "failed to persist fetched feed")
	}
	return snap, nil
}

// Classify assigns every snapshot event to each course whose LocationMatch
// equals the event location exactly. Events without a location, or with a
// location no course claims, are dropped. Two courses with the same
// location both receive the event.
//
// Events are visited in sorted key order so the result is deterministic.
// Overridden instances of recurring events are excluded from the base
// rule's expansion through its EXDATE list.
func Classify(courses []Course, snap *model.FeedSnapshot) map[string]*model.CourseFeed {
	feeds := make(map[string]*model.CourseFeed, len(courses))
	for _, c := range courses {
		feeds[c.Key] = &model.CourseFeed{
			Key:           c.Key,
			LocationMatch: c.LocationMatch,
			ForumTag:      c.ForumTag,
		}
	}
	if snap == nil {
		return feeds
	}

	overrides := make(map[string][]time.Time)
	for _, raw := range snap.Events {
		if raw.RecurrenceID != nil {
			overrides[raw.UID] = append(overrides[raw.UID], *raw.RecurrenceID)
		}
	}

	for _, key := range snap.Keys() {
		raw := snap.Events[key]
		if raw.Location == "" {
			continue
		}
		ev := raw.ToEvent()
		if ev.IsRecurring() {
			if rids := overrides[raw.UID]; len(rids) > 0 {
				ev.ExDates = append(append([]time.Time(nil), ev.ExDates...), rids...)
			}
		}
		for _, c := range courses {
			if raw.Location == c.LocationMatch {
				feeds[c.Key].Events = append(feeds[c.Key].Events, ev)
			}
		}
	}
	return feeds
}
