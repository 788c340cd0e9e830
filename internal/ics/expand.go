package ics

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/teambition/rrule-go"

	appLog "assignbot/internal/log"
	"assignbot/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap against unbounded rules. If
	// zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Expand returns the concrete instances of ev that start inside
// [RangeStart, RangeEnd]. A non-recurring event yields itself when its start
// is inside the window. Each instance of a recurring event carries
// model.OccurrenceUID as its UID and no RRULE.
//
// The second return value reports whether the cap truncated the result.
func Expand(ev model.CalendarEvent, cfg ExpandConfig) ([]model.CalendarEvent, bool, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, false, goerr.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	if !ev.HasStart() {
		return nil, false, nil
	}

	if !ev.IsRecurring() {
		if inWindow(ev.Start, cfg.RangeStart, cfg.RangeEnd) {
			return []model.CalendarEvent{ev}, false, nil
		}
		return nil, false, nil
	}

	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		return nil, false, goerr.Wrap(err, "expand: failed to parse RRULE",
			goerr.V("uid", ev.UID), goerr.V("rrule", ev.RRule))
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	starts := set.Between(cfg.RangeStart.In(ev.Start.Location()), cfg.RangeEnd.In(ev.Start.Location()), true)

	truncated := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		truncated = true
		appLog.Warn("expand: truncated occurrences due to cap",
			"uid", ev.UID,
			"cap", cfg.MaxOccurrencesPerEvent,
		)
	}

	var duration time.Duration
	if ev.End != nil {
		duration = ev.End.Sub(ev.Start)
	}

	out := make([]model.CalendarEvent, 0, len(starts))
	for _, s := range starts {
		occ := ev
		occ.UID = model.OccurrenceUID(ev.UID, s)
		occ.Start = s.UTC()
		occ.RRule = ""
		occ.ExDates = nil
		if ev.End != nil {
			end := occ.Start.Add(duration)
			occ.End = &end
		}
		out = append(out, occ)
	}
	return out, truncated, nil
}

// inWindow is the closed-interval check start <= t <= end.
func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
