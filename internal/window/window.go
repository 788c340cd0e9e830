// Package window selects the assignments that are due within the publishing
// horizon.
package window

import (
	"sort"
	"time"

	"assignbot/internal/ics"
	appLog "assignbot/internal/log"
	"assignbot/internal/model"
)

// SelectUpcoming returns the Instance events of feeds whose start lies in
// the closed interval [now, now+horizonDays], sorted by start. Ties keep
// their encounter order: feeds in slice order, events in feed order.
//
// Recurring events contribute each occurrence inside the window. Events
// without a start are skipped. The function reads no clock; the caller
// supplies now.
func SelectUpcoming(feeds []*model.CourseFeed, now time.Time, horizonDays int) []model.Assignment {
	if horizonDays < 0 {
		horizonDays = 0
	}
	end := now.AddDate(0, 0, horizonDays)
	cfg := ics.ExpandConfig{RangeStart: now, RangeEnd: end}

	out := make([]model.Assignment, 0)
	for _, feed := range feeds {
		if feed == nil {
			continue
		}
		for _, ev := range feed.Events {
			if ev.Kind != model.KindInstance || !ev.HasStart() {
				continue
			}

			occurrences, _, err := ics.Expand(ev, cfg)
			if err != nil {
				appLog.Warn("skipping event with unusable recurrence", "uid", ev.UID, "course", feed.Key, "err", err)
				continue
			}
			for _, occ := range occurrences {
				out = append(out, model.Assignment{
					CalendarEvent: occ,
					CourseKey:     feed.Key,
					ForumTag:      feed.ForumTag,
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}
