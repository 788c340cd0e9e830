package model

import (
	"sort"
	"time"
)

// Component type names as they appear in the ICS payload.
const (
	ComponentEvent   = "VEVENT"
	ComponentTodo    = "VTODO"
	ComponentJournal = "VJOURNAL"
)

// FeedSnapshot is the cached copy of the last remote fetch. Events is keyed
// by the source identifier of each component.
type FeedSnapshot struct {
	FetchedAt time.Time           `json:"fetched_at"`
	Events    map[string]RawEvent `json:"events"`
}

// RawEvent is the serialisable form of one feed component. Times are
// stored in UTC; TZID keeps the zone of DTSTART so recurrence rules repeat
// in local wall-clock time.
type RawEvent struct {
	Type        string      `json:"type"`
	UID         string      `json:"uid"`
	Location    string      `json:"location,omitempty"`
	Summary     string      `json:"summary,omitempty"`
	Description string      `json:"description,omitempty"`
	URL         string      `json:"url,omitempty"`
	Start       *time.Time  `json:"start,omitempty"`
	TZID        string      `json:"tzid,omitempty"`
	End         *time.Time  `json:"end,omitempty"`
	RRule       string      `json:"rrule,omitempty"`
	ExDates     []time.Time `json:"exdates,omitempty"`

	// RecurrenceID is set on components that override one instance of a
	// recurring event.
	RecurrenceID *time.Time `json:"recurrence_id,omitempty"`
}

// Keys returns the snapshot keys in sorted order.
func (s *FeedSnapshot) Keys() []string {
	keys := make([]string, 0, len(s.Events))
	for k := range s.Events {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OccurrenceUID is the identity of one instance of a recurring event.
func OccurrenceUID(uid string, start time.Time) string {
	return uid + "/" + start.UTC().Format(time.RFC3339)
}

// ToEvent converts the raw payload into a CalendarEvent. An override
// component becomes a standalone event carrying the occurrence identity.
func (r RawEvent) ToEvent() CalendarEvent {
	ev := CalendarEvent{
		UID:         r.UID,
		Kind:        KindOther,
		Location:    r.Location,
		Summary:     r.Summary,
		Description: r.Description,
		URL:         r.URL,
		End:         r.End,
		RRule:       r.RRule,
		ExDates:     r.ExDates,
	}
	if r.Type == ComponentEvent {
		ev.Kind = KindInstance
	}
	if r.Start != nil {
		ev.Start = r.Start.In(r.location())
	}
	if r.RecurrenceID != nil {
		ev.UID = OccurrenceUID(r.UID, *r.RecurrenceID)
		ev.RRule = ""
		ev.ExDates = nil
	}
	return ev
}

// location resolves TZID, falling back to UTC.
func (r RawEvent) location() *time.Location {
	if r.TZID == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.TZID)
	if err != nil {
		return time.UTC
	}
	return loc
}
