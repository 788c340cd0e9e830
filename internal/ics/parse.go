package ics

import (
	"bytes"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/m-mizutani/goerr/v2"

	"assignbot/internal/apperr"
	appLog "assignbot/internal/log"
	"assignbot/internal/model"
)

// propertyRecurrenceID is not exported as a constant by golang-ical.
const propertyRecurrenceID = "RECURRENCE-ID"

// component is the subset of golang-ical's ComponentBase used here.
type component interface {
	GetProperty(ical.ComponentProperty) *ical.IANAProperty
	GetProperties(ical.ComponentProperty) []*ical.IANAProperty
	GetStartAt() (time.Time, error)
}

// ParseFeed parses an ICS payload into raw events keyed by source
// identifier: the UID, or UID + "#" + RECURRENCE-ID for overridden
// instances of a recurring event.
//
// VEVENT, VTODO and VJOURNAL components are kept; everything else
// (VTIMEZONE, VALARM, ...) is ignored. Components without a UID are logged
// and skipped. Times are normalized to UTC; the DTSTART zone is kept in
// RawEvent.TZID.
func ParseFeed(body []byte) (map[string]model.RawEvent, error) {
	if len(body) == 0 {
		return nil, goerr.New("empty ICS body", goerr.T(apperr.TagFetch))
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse ICS payload", goerr.T(apperr.TagFetch))
	}

	out := make(map[string]model.RawEvent)
	for _, comp := range cal.Components {
		var (
			raw model.RawEvent
			ok  bool
		)
		switch c := comp.(type) {
		case *ical.VEvent:
			raw, ok = parseComponent(model.ComponentEvent, c)
			if ok {
				if end, err := c.GetEndAt(); err == nil && !end.IsZero() {
					end = end.UTC()
					raw.End = &end
				}
			}
		case *ical.VTodo:
			raw, ok = parseComponent(model.ComponentTodo, c)
		case *ical.VJournal:
			raw, ok = parseComponent(model.ComponentJournal, c)
		default:
			continue
		}
		if !ok {
			continue
		}

		key := raw.UID
		if raw.RecurrenceID != nil {
			key = raw.UID + "#" + raw.RecurrenceID.Format(time.RFC3339)
		}
		if _, dup := out[key]; dup {
			appLog.Warn("ics duplicate component; keeping first", "key", key)
			continue
		}
		out[key] = raw
	}

	appLog.Info("ics parse completed", "event_count", len(out))
	return out, nil
}

func parseComponent(typ string, c component) (model.RawEvent, bool) {
	raw := model.RawEvent{Type: typ}

	uidProp := c.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		appLog.Warn("ics component without UID skipped", "type", typ)
		return raw, false
	}
	raw.UID = uidProp.Value

	if p := c.GetProperty(ical.ComponentPropertySummary); p != nil {
		raw.Summary = p.Value
	}
	if p := c.GetProperty(ical.ComponentPropertyDescription); p != nil {
		raw.Description = p.Value
	}
	if p := c.GetProperty(ical.ComponentPropertyLocation); p != nil {
		raw.Location = p.Value
	}
	if p := c.GetProperty(ical.ComponentPropertyUrl); p != nil {
		raw.URL = p.Value
	}

	if p := c.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		start, err := c.GetStartAt()
		if err != nil {
			appLog.Warn("ics DTSTART unparsable; treating as missing", "uid", raw.UID, "err", err)
		} else if !start.IsZero() {
			start = start.UTC()
			raw.Start = &start
			if tzid := tzidOf(p); tzid != "" {
				if _, err := time.LoadLocation(tzid); err == nil {
					raw.TZID = tzid
				}
			}
		}
	}

	if p := c.GetProperty(ical.ComponentPropertyRrule); p != nil {
		raw.RRule = p.Value
	}

	for _, p := range c.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, tzidOf(p)); err == nil {
				raw.ExDates = append(raw.ExDates, t.UTC())
			}
		}
	}

	if p := c.GetProperty(propertyRecurrenceID); p != nil {
		if t, err := parseICSTime(p.Value, tzidOf(p)); err == nil {
			t = t.UTC()
			raw.RecurrenceID = &t
		}
	}

	return raw, true
}

func tzidOf(p *ical.IANAProperty) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}

// parseICSTime parses a basic ICS date/date-time string. tzid, when it
// names a known zone, is used for local (non-Z) forms.
func parseICSTime(v, tzid string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, goerr.New("empty time value")
	}

	loc := time.Local
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, loc)
}
