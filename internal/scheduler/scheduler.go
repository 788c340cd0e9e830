// Package scheduler runs the sync job on a cron schedule, one run at a time.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/robfig/cron/v3"

	appLog "assignbot/internal/log"
)

// DefaultSpec runs at minute 0 of every sixth hour.
const DefaultSpec = "0 */6 * * *"

// Job is one sync cycle.
type Job func(ctx context.Context) error

// Scheduler triggers Job immediately on Start and then on every tick of the
// cron spec. A trigger that arrives while a run is in progress is skipped.
type Scheduler struct {
	spec string
	job  Job
	cron *cron.Cron

	running atomic.Bool
	wg      sync.WaitGroup

	mu  sync.Mutex
	ctx context.Context
}

// New parses spec (standard five-field cron or descriptors such as
// "@every 6h") and returns a stopped scheduler.
func New(spec string, job Job) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if job == nil {
		return nil, goerr.New("scheduler job is nil")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, goerr.Wrap(err, "invalid refresh schedule", goerr.V("spec", spec))
	}

	s := &Scheduler{
		spec: spec,
		job:  job,
		ctx:  context.Background(),
	}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger{})),
		cron.WithLogger(cronLogger{}),
	)
	if _, err := s.cron.AddFunc(spec, func() { s.Trigger(s.baseContext()) }); err != nil {
		return nil, goerr.Wrap(err, "failed to register refresh job", goerr.V("spec", spec))
	}
	return s, nil
}

// Spec returns the schedule expression.
func (s *Scheduler) Spec() string {
	return s.spec
}

// Start runs the job once in the background and starts the cron loop.
// Scheduled runs use ctx; cancelling it makes in-flight runs stop early but
// does not stop the schedule.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	appLog.Info("scheduler starting", "spec", s.spec)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Trigger(ctx)
	}()
	s.cron.Start()
}

// Stop halts the cron loop and waits until no run is in progress or ctx
// is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		appLog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "scheduler stop timed out")
	}
}

// Trigger runs the job synchronously unless a run is already in progress.
// It reports whether the job ran. Job errors are logged.
func (s *Scheduler) Trigger(ctx context.Context) (ran bool) {
	if !s.running.CompareAndSwap(false, true) {
		appLog.Warn("sync cycle still running; skipping trigger", "spec", s.spec)
		return false
	}
	ran = true
	defer s.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("sync cycle panicked", goerr.New("panic in sync cycle", goerr.V("recovered", r)))
		}
	}()

	start := time.Now()
	if err := s.job(ctx); err != nil {
		appLog.Error("sync cycle failed", err, "duration", time.Since(start))
		return true
	}
	appLog.Debug("sync cycle finished", "duration", time.Since(start))
	return true
}

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// cronLogger adapts the package logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
