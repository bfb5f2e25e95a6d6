package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("scheduler closed")
	// ErrUnknownQueue is returned when no handler is registered for a queue.
	ErrUnknownQueue = errors.New("unknown queue")
)

// Scheduler owns the job table. Every queue pulls its oldest waiting job only while the
// number of jobs in flight across all queues is below the ceiling.
type Scheduler struct {
	maxConcurrent int
	logger        *zap.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	order    []string
	jobs     map[string]*Job
	waiting  map[string][]string
	inFlight int
	closed   bool
	changed  chan struct{}

	running sync.WaitGroup
	ctx     context.Context
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for job failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithContext sets the context handed to handlers.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) { s.ctx = ctx }
}

// NewScheduler returns a scheduler running at most maxConcurrent jobs at once.
func NewScheduler(maxConcurrent int, opts ...Option) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	s := &Scheduler{
		maxConcurrent: maxConcurrent,
		logger:        zap.NewNop(),
		handlers:      make(map[string]Handler),
		jobs:          make(map[string]*Job),
		waiting:       make(map[string][]string),
		changed:       make(chan struct{}),
		ctx:           context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register installs the handler for a queue, replacing any previous one.
func (s *Scheduler) Register(queue string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[queue]; !ok {
		s.order = append(s.order, queue)
	}
	s.handlers[queue] = h
}

// Enqueue records a waiting job and schedules a tick for its queue. It never runs the
// handler on the caller's goroutine; processing errors are only visible in the job table.
func (s *Scheduler) Enqueue(queue, jobType string, payload interface{}) (string, error) {
	s.mu.Lock()
	id, err := s.enqueueLocked(queue, jobType, payload)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	go s.tick(queue)
	return id, nil
}

func (s *Scheduler) enqueueLocked(queue, jobType string, payload interface{}) (string, error) {
	if s.closed {
		return "", ErrClosed
	}
	if _, ok := s.handlers[queue]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	job := &Job{
		ID:        uuid.NewString(),
		Queue:     queue,
		Type:      jobType,
		Payload:   payload,
		Status:    JobWaiting,
		CreatedAt: time.Now().UTC(),
	}
	s.jobs[job.ID] = job
	s.waiting[queue] = append(s.waiting[queue], job.ID)
	s.notifyLocked()
	return job.ID, nil
}

// tick starts waiting jobs of queue while slots are free.
func (s *Scheduler) tick(queue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.closed && s.inFlight < s.maxConcurrent && len(s.waiting[queue]) > 0 {
		id := s.waiting[queue][0]
		s.waiting[queue] = s.waiting[queue][1:]
		job, ok := s.jobs[id]
		if !ok {
			continue
		}
		job.Status = JobProcessing
		job.StartedAt = time.Now().UTC()
		s.inFlight++
		s.running.Add(1)
		snapshot := *job
		go s.run(s.handlers[queue], &snapshot)
	}
}

// run executes one job and records its outcome.
func (s *Scheduler) run(h Handler, job *Job) {
	defer s.running.Done()
	followups, err := s.call(h, job)

	s.mu.Lock()
	s.inFlight--
	stored := s.jobs[job.ID]
	if err != nil {
		stored.Status = JobFailed
		stored.Error = err.Error()
		stored.FinishedAt = time.Now().UTC()
		s.logger.Error("job failed",
			zap.String("job_id", job.ID),
			zap.String("queue", job.Queue),
			zap.String("type", job.Type),
			zap.Error(err))
	} else {
		delete(s.jobs, job.ID)
		for _, f := range followups {
			if _, ferr := s.enqueueLocked(f.Queue, f.Type, f.Payload); ferr != nil {
				s.logger.Error("follow-up job dropped",
					zap.String("job_id", job.ID),
					zap.String("queue", f.Queue),
					zap.String("type", f.Type),
					zap.Error(ferr))
			}
		}
	}
	s.notifyLocked()
	queues := append([]string(nil), s.order...)
	s.mu.Unlock()

	// The finished job's queue goes first; the others follow so a freed slot is not stranded.
	s.tick(job.Queue)
	for _, q := range queues {
		if q != job.Queue {
			s.tick(q)
		}
	}
}

func (s *Scheduler) call(h Handler, job *Job) (followups []Followup, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked",
				zap.String("job_id", job.ID),
				zap.String("queue", job.Queue),
				zap.ByteString("stack", debug.Stack()))
			followups = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(s.ctx, job)
}

func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Scheduler) idleLocked() bool {
	if s.inFlight > 0 {
		return false
	}
	for _, ids := range s.waiting {
		if len(ids) > 0 {
			return false
		}
	}
	return true
}

// Wait blocks until no job is waiting or processing, or ctx is done.
// After Close, waiting jobs never start, so Wait only drains in-flight jobs.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		done := s.idleLocked() || (s.closed && s.inFlight == 0)
		ch := s.changed
		s.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Job returns a copy of a job still in the table (waiting, processing or failed).
func (s *Scheduler) Job(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Stats returns job counts overall and per queue.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{MaxConcurrent: s.maxConcurrent, PerQueue: make(map[string]QueueStats, len(s.order))}
	for _, q := range s.order {
		st.PerQueue[q] = QueueStats{}
	}
	for _, job := range s.jobs {
		qs := st.PerQueue[job.Queue]
		switch job.Status {
		case JobWaiting:
			qs.Waiting++
			st.Waiting++
		case JobProcessing:
			qs.Processing++
			st.Processing++
		case JobFailed:
			qs.Failed++
			st.Failed++
		}
		st.PerQueue[job.Queue] = qs
	}
	st.Total = len(s.jobs)
	return st
}

// FailedJobs returns the retained failed jobs, oldest first.
func (s *Scheduler) FailedJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed := make([]Job, 0)
	for _, job := range s.jobs {
		if job.Status == JobFailed {
			failed = append(failed, *job)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].CreatedAt.Before(failed[j].CreatedAt) })
	return failed
}

// InFlight returns the number of jobs currently running.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Close stops accepting and starting jobs and waits for running handlers to return.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.notifyLocked()
	s.mu.Unlock()
	s.running.Wait()
	return nil
}
