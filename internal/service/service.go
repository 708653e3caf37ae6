package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avolkov/market-linkgen/internal/breaker"
	"github.com/avolkov/market-linkgen/internal/linkerr"
	"github.com/avolkov/market-linkgen/internal/linkgen"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// JobOptions are caller-supplied knobs for a single job.
type JobOptions struct {
	// SessionRef names a previously saved browser session to reuse.
	SessionRef string `json:"reuse_session_ref,omitempty"`
	// Timeout overrides the service-wide job deadline when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Debug toggles debug artifacts on failure. Nil means enabled.
	Debug *bool `json:"debug,omitempty"`
}

func (o JobOptions) debugEnabled() bool {
	return o.Debug == nil || *o.Debug
}

// Job is one queued link-generation request.
type Job struct {
	ID        string
	URL       string
	Options   JobOptions
	CreatedAt time.Time
}

// JobResult is the caller-visible state of a job. Results live in
// memory and are reaped after the configured TTL.
type JobResult struct {
	JobID       string     `json:"job_id"`
	URL         string     `json:"url"`
	Status      Status     `json:"status"`
	ShortLink   string     `json:"short_link,omitempty"`
	Source      string     `json:"source,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Error       string     `json:"error,omitempty"`
	DebugPath   string     `json:"debug_path,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Generator produces short links; satisfied by *linkgen.Engine.
type Generator interface {
	Generate(ctx context.Context, req linkgen.Request) (*linkgen.Result, error)
}

type Options struct {
	Workers       int
	JobTimeout    time.Duration
	GracePeriod   time.Duration
	ResultTTL     time.Duration
	CleanupPeriod time.Duration
	// QueueCapacity bounds the backlog; zero means unbounded.
	QueueCapacity int
}

func DefaultOptions() Options {
	return Options{
		Workers:       2,
		JobTimeout:    180 * time.Second,
		GracePeriod:   10 * time.Second,
		ResultTTL:     time.Hour,
		CleanupPeriod: time.Hour,
	}
}

// Service owns the job queue, the fixed worker pool and the result map.
// Submit never blocks on link generation.
type Service struct {
	gen    Generator
	brk    *breaker.Breaker
	queue  *jobQueue
	opts   Options
	logger *slog.Logger

	// OnSuccess is invoked after every successful generation, outside
	// any lock. Panics and slow callbacks never affect the job result.
	OnSuccess func(url, shortLink string)

	mu      sync.RWMutex
	results map[string]*JobResult
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

func New(gen Generator, brk *breaker.Breaker, opts Options, logger *slog.Logger) *Service {
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		gen:     gen,
		brk:     brk,
		queue:   newJobQueue(),
		opts:    opts,
		logger:  logger.With("component", "link_service"),
		results: make(map[string]*JobResult),
		cancel:  cancel,
		now:     time.Now,
	}

	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(1)
	go s.reaper(ctx)

	s.logger.Info("service started", "workers", opts.Workers)
	return s
}

// Submit validates the URL, enqueues a job and returns its id without
// waiting for generation.
func (s *Service) Submit(rawURL string, opts JobOptions) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", linkerr.New(linkerr.KindConfiguration, "url must be absolute http(s)")
	}

	if s.opts.QueueCapacity > 0 && s.queue.Size() >= s.opts.QueueCapacity {
		return "", ErrQueueFull
	}

	job := &Job{
		ID:        uuid.New().String(),
		URL:       rawURL,
		Options:   opts,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrQueueClosed
	}
	s.results[job.ID] = &JobResult{
		JobID:     job.ID,
		URL:       rawURL,
		Status:    StatusPending,
		CreatedAt: job.CreatedAt,
	}
	s.mu.Unlock()

	if err := s.queue.Push(job); err != nil {
		s.mu.Lock()
		delete(s.results, job.ID)
		s.mu.Unlock()
		return "", err
	}

	s.logger.Info("job queued", "job_id", job.ID, "url", rawURL)
	return job.ID, nil
}

// Result returns a copy of the job's current state.
func (s *Service) Result(jobID string) (*JobResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[jobID]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

func (s *Service) BreakerStatus() breaker.Status {
	return s.brk.Status()
}

func (s *Service) QueueSize() int {
	return s.queue.Size()
}

func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	log := s.logger.With("worker", id)
	log.Debug("worker started")

	for {
		job, err := s.queue.Pop(ctx)
		if err != nil {
			log.Debug("worker stopping", "reason", err)
			return
		}
		s.runJob(ctx, job, log)
	}
}

func (s *Service) runJob(ctx context.Context, job *Job, log *slog.Logger) {
	started := s.now()
	s.update(job.ID, func(r *JobResult) {
		r.Status = StatusRunning
		r.StartedAt = &started
	})

	if err := s.brk.Allow(); err != nil {
		log.Warn("job rejected by circuit breaker", "job_id", job.ID)
		s.finishError(job, err)
		return
	}

	timeout := s.opts.JobTimeout
	if job.Options.Timeout > 0 {
		timeout = job.Options.Timeout
	}

	jctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *linkgen.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.generate(jctx, job)
		done <- outcome{res, err}
	}()

	// The grace period lets the engine unwind after its context fires
	// before the worker abandons the job.
	var out outcome
	select {
	case out = <-done:
	case <-time.After(timeout + s.opts.GracePeriod):
		out = outcome{err: linkerr.New(linkerr.KindTimeout,
			fmt.Sprintf("job did not finish within %s", timeout+s.opts.GracePeriod))}
	}

	if out.err != nil {
		kind := linkerr.Classify(out.err)
		s.brk.OnFailure(kind)
		s.finishError(job, out.err)
		log.Error("job failed", "job_id", job.ID, "kind", string(kind), "error", out.err)
		return
	}

	s.brk.OnSuccess()
	completed := s.now()
	s.update(job.ID, func(r *JobResult) {
		r.Status = StatusDone
		r.ShortLink = out.res.ShortLink
		r.Source = string(out.res.Source)
		r.CompletedAt = &completed
	})
	log.Info("job done", "job_id", job.ID, "short_link", out.res.ShortLink, "source", string(out.res.Source))

	s.notifySuccess(job.URL, out.res.ShortLink, log)
}

// generate shields the worker from engine panics.
func (s *Service) generate(ctx context.Context, job *Job) (res *linkgen.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = linkerr.New(linkerr.KindConfiguration, fmt.Sprintf("generation panicked: %v", rec))
		}
	}()
	return s.gen.Generate(ctx, linkgen.Request{
		JobID:      job.ID,
		URL:        job.URL,
		SessionRef: job.Options.SessionRef,
		Debug:      job.Options.debugEnabled(),
	})
}

func (s *Service) notifySuccess(url, shortLink string, log *slog.Logger) {
	hook := s.OnSuccess
	if hook == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("success hook panicked", "panic", rec)
		}
	}()
	hook(url, shortLink)
}

func (s *Service) finishError(job *Job, err error) {
	completed := s.now()
	var le *linkerr.Error
	kind := linkerr.Classify(err)

	s.update(job.ID, func(r *JobResult) {
		r.Status = StatusError
		r.ErrorKind = string(kind)
		r.Error = err.Error()
		r.CompletedAt = &completed
		if errors.As(err, &le) && le.DebugPath != "" {
			r.DebugPath = le.DebugPath
		}
	})
}

func (s *Service) update(jobID string, fn func(*JobResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[jobID]; ok {
		fn(r)
	}
}

// reaper drops finished results older than the TTL.
func (s *Service) reaper(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapOnce()
		}
	}
}

func (s *Service) reapOnce() {
	cutoff := s.now().Add(-s.opts.ResultTTL)

	s.mu.Lock()
	removed := 0
	for id, r := range s.results {
		// Results age from completion, or from creation for jobs that
		// never finished, so a stuck job cannot be retained forever.
		ref := r.CreatedAt
		if r.CompletedAt != nil {
			ref = *r.CompletedAt
		}
		if ref.Before(cutoff) {
			delete(s.results, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("reaped expired results", "count", removed)
	}
}

// Close stops accepting jobs, cancels workers and waits for them.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.queue.Close()
	s.cancel()
	s.wg.Wait()
	s.logger.Info("service stopped")
}
