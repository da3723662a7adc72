package deferred

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/entcache"
)

type job struct {
	ctx context.Context
	run func(context.Context)
}

// RequestScheduler collects units during a request; Run executes them once
// the response is done.
type RequestScheduler struct {
	mu   sync.Mutex
	jobs []job
}

var _ Scheduler = (*RequestScheduler)(nil)

func NewRequestScheduler() *RequestScheduler { return &RequestScheduler{} }

func (s *RequestScheduler) Submit(ctx context.Context, run func(context.Context)) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job{ctx: ctx, run: run})
	s.mu.Unlock()
}

// Run executes collected units in submission order, including units they
// submit, and returns how many ran. It stops early when ctx is done.
func (s *RequestScheduler) Run(ctx context.Context) int {
	n := 0
	for {
		if ctx.Err() != nil {
			return n
		}
		s.mu.Lock()
		if len(s.jobs) == 0 {
			s.mu.Unlock()
			return n
		}
		j := s.jobs[0]
		s.jobs = s.jobs[1:]
		s.mu.Unlock()

		j.run(j.ctx)
		n++
	}
}

func (s *RequestScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// WorkerScheduler runs units on a fixed pool of goroutines. When the queue is
// full, or after Close, Submit runs the unit on the caller's goroutine.
type WorkerScheduler struct {
	log entcache.Logger

	mu     sync.RWMutex
	closed bool
	q      chan job
	wg     sync.WaitGroup
	once   sync.Once
}

var _ Scheduler = (*WorkerScheduler)(nil)

func NewWorkerScheduler(workers, qlen int, log entcache.Logger) *WorkerScheduler {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}
	if log == nil {
		log = entcache.NopLogger{}
	}

	s := &WorkerScheduler{log: log, q: make(chan job, qlen)}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer s.wg.Done()
			for j := range s.q {
				j.run(j.ctx)
			}
		}()
	}
	return s
}

func (s *WorkerScheduler) Submit(ctx context.Context, run func(context.Context)) {
	s.mu.RLock()
	if !s.closed {
		select {
		case s.q <- job{ctx: ctx, run: run}:
			s.mu.RUnlock()
			return
		default:
		}
	}
	s.mu.RUnlock()
	s.log.Debug("deferred scheduler saturated or closed; running inline", nil)
	run(ctx)
}

// Close drains queued units and stops the workers.
func (s *WorkerScheduler) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.q)
		s.mu.Unlock()
		s.wg.Wait()
	})
}
