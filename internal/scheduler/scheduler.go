// Package scheduler runs one-shot jobs at wall-clock instants.
//
// Jobs live in memory only. Each fired job runs in its own goroutine, so a
// slow or hung job never delays the others, and a panic or error in one job
// is logged without affecting the rest.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tg-postplanner/internal/crash"
	"tg-postplanner/internal/logger"
	"tg-postplanner/internal/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// ErrScheduling is returned for registrations in the past or after shutdown.
var ErrScheduling = errors.New("scheduling error")

// DefaultPastTolerance absorbs the delay between computing an instant and
// registering it.
const DefaultPastTolerance = time.Second

// JobFunc is the unit of work. The context is cancelled on Shutdown.
type JobFunc func(ctx context.Context) error

// JobInfo describes a pending job.
type JobInfo struct {
	ID    string
	Name  string
	RunAt time.Time
}

type entry struct {
	info  JobInfo
	fn    JobFunc
	timer clock.Timer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPastTolerance overrides DefaultPastTolerance.
func WithPastTolerance(d time.Duration) Option {
	return func(s *Scheduler) { s.pastTolerance = d }
}

// Scheduler is an in-memory one-shot job scheduler.
type Scheduler struct {
	clock         clock.WithDelayedExecution
	pastTolerance time.Duration

	mu     sync.Mutex
	jobs   map[string]*entry
	closed bool

	running sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler driven by clk.
func New(clk clock.WithDelayedExecution, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		clock:         clk,
		pastTolerance: DefaultPastTolerance,
		jobs:          make(map[string]*entry),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule registers fn to run at runAt and returns its handle.
func (s *Scheduler) Schedule(runAt time.Time, name string, fn JobFunc) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("%w: nil job %q", ErrScheduling, name)
	}

	now := s.clock.Now()
	if runAt.Before(now.Add(-s.pastTolerance)) {
		return "", fmt.Errorf("%w: %s at %s is in the past (now %s)", ErrScheduling, name,
			runAt.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	delay := runAt.Sub(now)
	if delay < 0 {
		delay = 0
	}

	e := &entry{
		info: JobInfo{ID: uuid.NewString(), Name: name, RunAt: runAt},
		fn:   fn,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: scheduler is shut down", ErrScheduling)
	}
	s.jobs[e.info.ID] = e
	s.mu.Unlock()

	// AfterFunc is called without s.mu: fake clocks run callbacks synchronously.
	t := s.clock.AfterFunc(delay, func() { s.fire(e.info.ID) })

	s.mu.Lock()
	e.timer = t
	s.mu.Unlock()

	metrics.JobsScheduled.WithLabelValues(name).Inc()
	logger.WithFields(logrus.Fields{"job": name, "id": e.info.ID}).
		Debugf("Job registered for %s", runAt.UTC().Format(time.RFC3339))
	return e.info.ID, nil
}

// Cancel removes a pending job. It reports true only when the job was still
// pending, in which case it is guaranteed never to start.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	e, ok := s.jobs[id]
	var t clock.Timer
	if ok {
		delete(s.jobs, id)
		t = e.timer
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	// a timer not yet attached fires into an empty slot and does nothing
	if t != nil {
		t.Stop()
	}
	metrics.JobsCancelled.Inc()
	logger.Debugf("Job %s (%s) cancelled", id, e.info.Name)
	return true
}

// Lookup returns a pending job.
func (s *Scheduler) Lookup(id string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return e.info, true
}

// Pending lists pending jobs ordered by RunAt.
func (s *Scheduler) Pending() []JobInfo {
	s.mu.Lock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.info)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, id)
	s.running.Add(1)
	s.mu.Unlock()

	go s.run(e)
}

func (s *Scheduler) run(e *entry) {
	defer s.running.Done()

	log := logger.WithFields(logrus.Fields{"job": e.info.Name, "id": e.info.ID})
	defer func() {
		if r := recover(); r != nil {
			metrics.JobRuns.WithLabelValues(e.info.Name, "panic").Inc()
			crash.ReportPanic("scheduler job "+e.info.Name, r)
		}
	}()

	err := e.fn(s.ctx)
	metrics.JobRuns.WithLabelValues(e.info.Name, metrics.Result(err)).Inc()
	if err != nil {
		log.Errorf("Job failed: %v", err)
		return
	}
	log.Debug("Job finished")
}

// Wait blocks until every job that has already fired has returned.
func (s *Scheduler) Wait() {
	s.running.Wait()
}

// Shutdown drops all pending jobs, cancels the context passed to running
// jobs and waits for them until ctx is done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timers := make([]clock.Timer, 0, len(s.jobs))
	for _, e := range s.jobs {
		if e.timer != nil {
			timers = append(timers, e.timer)
		}
	}
	dropped := len(s.jobs)
	s.jobs = make(map[string]*entry)
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	if dropped > 0 {
		logger.Infof("Scheduler shutting down, dropped %d pending jobs", dropped)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}
