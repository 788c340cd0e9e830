package model

import "time"

// EventKind classifies a calendar component. Only KindInstance events are
// assignment candidates.
type EventKind string

const (
	KindInstance EventKind = "instance"
	KindOther    EventKind = "other"
)

// CalendarEvent is one event parsed from the feed. It is immutable once
// built; UID is the join key to the publication ledger.
type CalendarEvent struct {
	UID  string
	Kind EventKind

	Location    string
	Summary     string
	Description string
	URL         string

	// Start is the zero time when the source has no DTSTART.
	Start time.Time
	End   *time.Time

	// RRule and ExDates are only set for recurring events; expansion
	// happens in the window filter.
	RRule   string
	ExDates []time.Time
}

// HasStart reports whether the event carries a start timestamp.
func (e CalendarEvent) HasStart() bool {
	return !e.Start.IsZero()
}

// IsRecurring reports whether the event has an RRULE.
func (e CalendarEvent) IsRecurring() bool {
	return e.RRule != ""
}

// CourseFeed groups the events that belong to one configured course.
type CourseFeed struct {
	Key           string
	LocationMatch string
	ForumTag      string
	Events        []CalendarEvent
}

// Assignment is a course event that fell inside the publishing window.
type Assignment struct {
	CalendarEvent
	CourseKey string
	ForumTag  string
}

// PublicationRecord is the ledger row written once a thread exists for an
// assignment. There is at most one record per UID.
type PublicationRecord struct {
	UID       string    `gorm:"primaryKey;column:uid" json:"uid"`
	CourseKey string    `gorm:"not null;column:course_key" json:"course_key"`
	Title     string    `gorm:"not null;column:title" json:"title"`
	DueDate   time.Time `gorm:"not null;column:due_date" json:"due_date"`
	ThreadID  string    `gorm:"not null;column:thread_id" json:"thread_id"`
	PostedAt  time.Time `gorm:"not null;column:posted_at" json:"posted_at"`
}

// TableName pins the sqlite table name.
func (PublicationRecord) TableName() string {
	return "publication_records"
}
