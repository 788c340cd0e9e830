// Package publish turns an assignment into a forum thread and records it in
// the ledger.
package publish

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"assignbot/internal/ledger"
	appLog "assignbot/internal/log"
	"assignbot/internal/messaging"
	"assignbot/internal/model"
)

// DefaultTitle is used when an assignment has no summary.
const DefaultTitle = "New Assignment"

// dueDateLayout renders e.g. "Monday, October 20, 2025 at 11:59 PM".
const dueDateLayout = "Monday, January 2, 2006 at 03:04 PM"

// Ledger is the part of the publication ledger the publisher needs.
type Ledger interface {
	Exists(ctx context.Context, uid string) (bool, error)
	Record(ctx context.Context, rec *model.PublicationRecord) error
}

// Publisher posts assignments to one forum channel.
type Publisher struct {
	ledger    Ledger
	channelID string
	loc       *time.Location
	now       func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLocation sets the zone due dates are rendered in. The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(p *Publisher) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithClock overrides the clock used for PostedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// New creates a Publisher for the forum channelID.
func New(l Ledger, channelID string, opts ...Option) *Publisher {
	p := &Publisher{
		ledger:    l,
		channelID: channelID,
		loc:       time.UTC,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish creates a thread for a and records it. It returns nil and no
// error when the assignment is already in the ledger, including the case
// where another writer recorded it between the check and the insert; that
// case may leave a duplicate thread on the platform.
//
// When the channel lookup, thread creation or record insert fails the error
// is returned and no record is written.
func (p *Publisher) Publish(ctx context.Context, client messaging.Client, a model.Assignment) (*model.PublicationRecord, error) {
	exists, err := p.ledger.Exists(ctx, a.UID)
	if err != nil {
		return nil, err
	}
	if exists {
		appLog.Debug("assignment already posted", "uid", a.UID, "course", a.CourseKey)
		return nil, nil
	}

	forum, err := client.ResolveForum(ctx, p.channelID)
	if err != nil {
		return nil, err
	}

	post := messaging.ThreadPost{
		Title: Title(a),
		Body:  FormatBody(a, p.loc),
	}
	if a.ForumTag != "" {
		post.Tags = []string{a.ForumTag}
	}

	threadID, err := client.CreateThread(ctx, forum, post)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create assignment thread", goerr.V("uid", a.UID))
	}

	rec := &model.PublicationRecord{
		UID:       a.UID,
		CourseKey: a.CourseKey,
		Title:     a.Summary,
		DueDate:   a.Start.UTC(),
		ThreadID:  threadID,
		PostedAt:  p.now().UTC(),
	}
	if err := p.ledger.Record(ctx, rec); err != nil {
		if errors.Is(err, ledger.ErrAlreadyExists) {
			appLog.Warn("assignment recorded concurrently; thread may be duplicated",
				"uid", a.UID, "course", a.CourseKey, "thread_id", threadID)
			return nil, nil
		}
		return nil, err
	}

	appLog.Info("posted assignment", "uid", a.UID, "course", a.CourseKey, "title", post.Title, "thread_id", threadID)
	return rec, nil
}

// Title returns the thread title for a.
func Title(a model.Assignment) string {
	if a.Summary == "" {
		return DefaultTitle
	}
	return a.Summary
}

// FormatBody renders the first message of the thread. Absent description
// and URL lines are omitted.
func FormatBody(a model.Assignment, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	lines := []string{
		"**Due Date:** " + a.Start.In(loc).Format(dueDateLayout),
		"**Course:** " + strings.ToUpper(a.CourseKey),
	}
	if a.Description != "" {
		lines = append(lines, "\n**Description:**\n"+a.Description)
	}
	if a.URL != "" {
		lines = append(lines, "\n**Link:** "+a.URL)
	}
	return strings.Join(lines, "\n")
}
