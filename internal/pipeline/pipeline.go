// Package pipeline runs one sync cycle: ingest the feed, select the
// upcoming assignments and publish each one.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"assignbot/internal/apperr"
	appLog "assignbot/internal/log"
	"assignbot/internal/messaging"
	"assignbot/internal/model"
	"assignbot/internal/window"
)

// Ingestor produces the course feeds in configuration order.
type Ingestor interface {
	IngestOrdered(ctx context.Context) ([]*model.CourseFeed, error)
}

// Publisher publishes a single assignment.
type Publisher interface {
	Publish(ctx context.Context, client messaging.Client, a model.Assignment) (*model.PublicationRecord, error)
}

// Report summarises one cycle.
type Report struct {
	CycleID    string                    `json:"cycle_id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Selected   int                       `json:"selected"`
	Posted     []model.PublicationRecord `json:"posted"`
	Skipped    int                       `json:"skipped"`
	Failed     int                       `json:"failed"`
	Error      string                    `json:"error,omitempty"`
}

// Pipeline wires the cycle stages together.
type Pipeline struct {
	ingestor    Ingestor
	publisher   Publisher
	client      messaging.Client
	horizonDays int
	now         func() time.Time

	mu   sync.RWMutex
	last *Report
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHorizonDays sets how many days ahead assignments are published.
func WithHorizonDays(days int) Option {
	return func(p *Pipeline) {
		p.horizonDays = days
	}
}

// WithClock overrides the clock that defines "now" for each cycle.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline. The default horizon is 30 days.
func New(ingestor Ingestor, publisher Publisher, client messaging.Client, opts ...Option) *Pipeline {
	p := &Pipeline{
		ingestor:    ingestor,
		publisher:   publisher,
		client:      client,
		horizonDays: 30,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunCycle executes one cycle. Fetch and storage errors abort the cycle and
// are returned; any other per-assignment failure is logged and the cycle
// moves on to the next assignment. The report is kept for LastReport
// either way.
func (p *Pipeline) RunCycle(ctx context.Context) (*Report, error) {
	report := &Report{
		CycleID:   uuid.NewString(),
		StartedAt: p.now().UTC(),
		Posted:    []model.PublicationRecord{},
	}
	defer p.store(report)

	cycleLog := []any{"cycle_id", report.CycleID}
	appLog.Info("checking for new assignments", cycleLog...)

	feeds, err := p.ingestor.IngestOrdered(ctx)
	if err != nil {
		return p.abort(report, goerr.Wrap(err, "failed to ingest calendar feed", goerr.V("cycle_id", report.CycleID)))
	}

	upcoming := window.SelectUpcoming(feeds, report.StartedAt, p.horizonDays)
	report.Selected = len(upcoming)
	appLog.Info("found upcoming assignments", append(cycleLog, "count", len(upcoming), "horizon_days", p.horizonDays)...)

	for _, a := range upcoming {
		if err := ctx.Err(); err != nil {
			return p.abort(report, goerr.Wrap(err, "cycle cancelled", goerr.V("cycle_id", report.CycleID)))
		}

		rec, err := p.publisher.Publish(ctx, p.client, a)
		switch {
		case err == nil && rec == nil:
			report.Skipped++
		case err == nil:
			report.Posted = append(report.Posted, *rec)
		case apperr.IsCycleFatal(err):
			report.Failed++
			return p.abort(report, goerr.Wrap(err, "storage failure while publishing",
				goerr.V("cycle_id", report.CycleID), goerr.V("uid", a.UID)))
		case errors.Is(err, messaging.ErrChannelNotFound):
			report.Failed++
			appLog.Error("forum channel not found or invalid", err, append(cycleLog, "uid", a.UID)...)
		default:
			report.Failed++
			appLog.Error("failed to post assignment", err, append(cycleLog, "uid", a.UID, "course", a.CourseKey)...)
		}
	}

	report.FinishedAt = p.now().UTC()
	appLog.Info("assignment check complete", append(cycleLog,
		"posted", len(report.Posted),
		"skipped", report.Skipped,
		"failed", report.Failed,
	)...)
	return report, nil
}

// Run is RunCycle without the report, for use as a scheduler job.
func (p *Pipeline) Run(ctx context.Context) error {
	_, err := p.RunCycle(ctx)
	return err
}

// LastReport returns a copy of the most recent cycle report, or nil before
// the first cycle.
func (p *Pipeline) LastReport() *Report {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return nil
	}
	cp := *p.last
	cp.Posted = append([]model.PublicationRecord(nil), p.last.Posted...)
	return &cp
}

func (p *Pipeline) abort(report *Report, err error) (*Report, error) {
	report.FinishedAt = p.now().UTC()
	report.Error = err.Error()
	return report, err
}

func (p *Pipeline) store(report *Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = report
}
