package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"lpwatch/internal/logger"
)

var log = logger.Named("scheduler")

var ErrNoJobs = errors.New("scheduler: no jobs")

// Job is one recurring task. Run receives the handle's context, cancelled on Stop.
type Job struct {
	Name    string
	Cadence Cadence
	Run     func(ctx context.Context) error
}

// Lease gates runs across processes; a run only proceeds while Hold reports true.
type Lease interface {
	Hold(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Scheduler keeps at most one active Handle; Start always supersedes the previous one.
type Scheduler struct {
	clock Clock
	lease Lease

	mu     sync.Mutex
	active *Handle
}

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLease(l Lease) Option {
	return func(s *Scheduler) { s.lease = l }
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{clock: RealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start stops the currently active handle (if any) and arms jobs. Jobs whose
// cadence has RunImmediately fire once right away, then on cadence. Invalid
// jobs are rejected before the active handle is touched.
func (s *Scheduler) Start(ctx context.Context, jobs ...Job) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ValidateJobs(jobs...); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		log.Infof("superseding active handle jobs=%d", len(s.active.jobs))
		s.active.Stop()
		s.active = nil
	}
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		clock:   s.clock,
		lease:   s.lease,
		ctx:     runCtx,
		cancel:  cancel,
		jobs:    append([]Job(nil), jobs...),
		timers:  make(map[string]Timer, len(jobs)),
		running: make(map[string]bool, len(jobs)),
		done:    make(chan struct{}),
	}
	now := s.clock.Now().UTC()
	for _, j := range h.jobs {
		next := j.Cadence.Next(now)
		log.Infof("job[%s]: armed cadence=%s run_immediately=%v next=%s (in %s)",
			j.Name, j.Cadence, j.Cadence.RunImmediately, next.Format(time.RFC3339), next.Sub(now).Truncate(time.Second))
		if j.Cadence.RunImmediately {
			h.arm(j, 0)
		} else {
			h.arm(j, next.Sub(now))
		}
	}
	s.active = h
	return h, nil
}

// ValidateJobs checks names, runners and cadences. An empty list is valid.
func ValidateJobs(jobs ...Job) error {
	seen := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if j.Name == "" {
			return fmt.Errorf("scheduler: job name 不能为空")
		}
		if _, dup := seen[j.Name]; dup {
			return fmt.Errorf("scheduler: duplicate job %q", j.Name)
		}
		seen[j.Name] = struct{}{}
		if j.Run == nil {
			return fmt.Errorf("scheduler: job %q has no Run", j.Name)
		}
		if err := j.Cadence.Validate(); err != nil {
			return fmt.Errorf("scheduler: job %q: %w", j.Name, err)
		}
	}
	return nil
}

// Active returns the current handle or nil.
func (s *Scheduler) Active() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Shutdown stops the active handle, waits for in-flight runs and releases the lease.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	h := s.active
	s.active = nil
	s.mu.Unlock()
	if h != nil {
		h.Stop()
		if err := h.Wait(ctx); err != nil {
			return err
		}
	}
	if s.lease != nil {
		return s.lease.Release(ctx)
	}
	return nil
}

// Handle owns the timers of one Start call.
type Handle struct {
	clock  Clock
	lease  Lease
	ctx    context.Context
	cancel context.CancelFunc
	jobs   []Job

	mu      sync.Mutex
	timers  map[string]Timer
	running map[string]bool
	stopped bool
	runs    map[string]int
	wg      sync.WaitGroup

	done     chan struct{}
	stopOnce sync.Once
}

// Stop cancels every armed timer and the run context. Safe to call repeatedly.
// In-flight runs observe the cancelled context; use Wait to block on them.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		for name, t := range h.timers {
			t.Stop()
			delete(h.timers, name)
		}
		h.mu.Unlock()
		h.cancel()
		close(h.done)
		log.Infof("handle stopped jobs=%d", len(h.jobs))
	})
}

// Done is closed once Stop has been called.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until in-flight runs finish or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stopped reports whether Stop has been called.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Jobs returns the job names armed by this handle.
func (h *Handle) Jobs() []string {
	out := make([]string, 0, len(h.jobs))
	for _, j := range h.jobs {
		out = append(out, j.Name)
	}
	return out
}

// Runs reports how many times the named job actually executed.
func (h *Handle) Runs(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs[name]
}

func (h *Handle) arm(j Job, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.timers[j.Name] = h.clock.AfterFunc(d, func() { h.fire(j) })
}

func (h *Handle) fire(j Job) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	overlap := h.running[j.Name]
	if !overlap {
		h.running[j.Name] = true
		h.wg.Add(1)
	}
	h.mu.Unlock()

	// 先重新挂定时器，节奏不受本次执行耗时影响
	now := h.clock.Now().UTC()
	h.arm(j, j.Cadence.Next(now).Sub(now))

	if overlap {
		log.Warnf("job[%s]: previous run still in progress, skip", j.Name)
		return
	}
	defer func() {
		h.mu.Lock()
		h.running[j.Name] = false
		h.mu.Unlock()
		h.wg.Done()
	}()
	h.execute(j)
}

func (h *Handle) execute(j Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("job[%s]: panic: %v\n%s", j.Name, r, debug.Stack())
		}
	}()
	if h.lease != nil {
		held, err := h.lease.Hold(h.ctx)
		if err != nil {
			log.Warnf("job[%s]: lease check failed, skip: %v", j.Name, err)
			return
		}
		if !held {
			log.Debugf("job[%s]: standby (lease held elsewhere)", j.Name)
			return
		}
	}
	h.mu.Lock()
	if h.runs == nil {
		h.runs = make(map[string]int)
	}
	h.runs[j.Name]++
	h.mu.Unlock()

	start := h.clock.Now()
	if err := j.Run(h.ctx); err != nil {
		log.Warnf("job[%s]: failed after %s: %v", j.Name, h.clock.Now().Sub(start).Truncate(time.Millisecond), err)
		return
	}
	log.Debugf("job[%s]: done in %s", j.Name, h.clock.Now().Sub(start).Truncate(time.Millisecond))
}
