// Package extraction runs covenant extraction in the background and tracks
// each run as a pollable job. Jobs live in memory only.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/internal/metrics"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Done reports whether the job reached a terminal state.
func (s Status) Done() bool { return s == StatusCompleted || s == StatusFailed }

var (
	ErrNotFound  = errors.New("extraction: job not found")
	ErrEmptyText = errors.New("extraction: contract text is empty")
	ErrClosed    = errors.New("extraction: tracker is closed")
)

// Job is a snapshot of one extraction run.
type Job struct {
	ID         string                           `json:"id"`
	ContractID string                           `json:"contract_id"`
	Status     Status                           `json:"status"`
	Result     *models.CovenantExtractionResult `json:"result,omitempty"`
	Dropped    int                              `json:"dropped,omitempty"`
	Error      string                           `json:"error,omitempty"`
	CreatedAt  time.Time                        `json:"created_at"`
	UpdatedAt  time.Time                        `json:"updated_at"`
}

// Extractor produces covenants from contract text. *assessment.Assessor
// satisfies it.
type Extractor interface {
	ExtractCovenants(ctx context.Context, contractID, text string) (models.CovenantExtractionResult, error)
}

// Sink receives the validated result of a completed job, e.g. to persist the
// covenants. A sink error fails the job.
type Sink func(ctx context.Context, contractID string, res models.CovenantExtractionResult) error

// Tracker owns the job map and the worker goroutines.
type Tracker struct {
	ext     Extractor
	sink    Sink
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	jobs   map[string]*Job
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSink sets the completion sink.
func WithSink(s Sink) Option {
	return func(t *Tracker) { t.sink = s }
}

// WithTimeout bounds a single extraction run.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// NewTracker creates a tracker that runs ext for each submitted document.
func NewTracker(ext Extractor, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		ext:     ext,
		timeout: 2 * time.Minute,
		log:     zap.NewNop(),
		now:     time.Now,
		jobs:    make(map[string]*Job),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.Named("extraction")
	return t
}

// Submit registers a pending job and starts it in its own goroutine. The job
// outlives the caller's request; only Close stops it.
func (t *Tracker) Submit(contractID, text string) (Job, error) {
	if strings.TrimSpace(text) == "" {
		return Job{}, ErrEmptyText
	}
	if strings.TrimSpace(contractID) == "" {
		return Job{}, fmt.Errorf("extraction: contract id is required")
	}

	now := t.now()
	job := &Job{
		ID:         uuid.New().String(),
		ContractID: contractID,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Job{}, ErrClosed
	}
	t.jobs[job.ID] = job
	snapshot := *job
	t.wg.Add(1)
	t.mu.Unlock()

	go t.run(job.ID, contractID, text)

	t.log.Info("extraction submitted", zap.String("job", job.ID), zap.String("contract", contractID), zap.Int("chars", len(text)))
	return snapshot, nil
}

func (t *Tracker) run(id, contractID, text string) {
	defer t.wg.Done()
	t.update(id, func(j *Job) { j.Status = StatusProcessing })

	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()

	res, err := t.ext.ExtractCovenants(ctx, contractID, text)
	if err != nil {
		t.fail(id, err)
		return
	}

	valid, dropped := validate(res, contractID)
	if dropped > 0 {
		t.log.Warn("dropped invalid covenants", zap.String("job", id), zap.Int("dropped", dropped))
	}
	if t.sink != nil {
		if err := t.sink(ctx, contractID, valid); err != nil {
			t.fail(id, fmt.Errorf("store covenants: %w", err))
			return
		}
	}

	t.update(id, func(j *Job) {
		j.Status = StatusCompleted
		j.Result = &valid
		j.Dropped = dropped
	})
	metrics.ExtractionJobs.WithLabelValues(string(StatusCompleted)).Inc()
	t.log.Info("extraction completed",
		zap.String("job", id),
		zap.Int("covenants", len(valid.Covenants)),
		zap.String("source", valid.Source),
	)
}

func (t *Tracker) fail(id string, err error) {
	t.update(id, func(j *Job) {
		j.Status = StatusFailed
		j.Error = err.Error()
	})
	metrics.ExtractionJobs.WithLabelValues(string(StatusFailed)).Inc()
	t.log.Warn("extraction failed", zap.String("job", id), zap.Error(err))
}

func (t *Tracker) update(id string, fn func(*Job)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[id]; ok {
		fn(j)
		j.UpdatedAt = t.now()
	}
}

// validate keeps covenants that pass struct validation, forcing the contract
// id onto each.
func validate(res models.CovenantExtractionResult, contractID string) (models.CovenantExtractionResult, int) {
	out := res
	out.Covenants = make([]models.CovenantCreateInput, 0, len(res.Covenants))
	for _, c := range res.Covenants {
		c.ContractID = contractID
		if err := models.Validate(c); err != nil {
			continue
		}
		out.Covenants = append(out.Covenants, c)
	}
	return out, len(res.Covenants) - len(out.Covenants)
}

// Get returns a snapshot of the job.
func (t *Tracker) Get(id string) (Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

// List returns every job, newest first.
func (t *Tracker) List() []Job {
	t.mu.RLock()
	out := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, *j)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

// Prune forgets finished jobs last updated before cutoff.
func (t *Tracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, j := range t.jobs {
		if j.Status.Done() && j.UpdatedAt.Before(cutoff) {
			delete(t.jobs, id)
			n++
		}
	}
	return n
}

// Wait blocks until every running job has finished.
func (t *Tracker) Wait() { t.wg.Wait() }

// Close cancels running jobs and waits for them to exit.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
}

// DefaultPollInterval is how often clients poll a job.
const DefaultPollInterval = 3 * time.Second

// PollErrorLimit is how many failed polls in a row Poll tolerates.
const PollErrorLimit = 5

// Poll calls get every interval until the job is done or ctx ends. A failed
// poll is retried on the next tick; ErrNotFound, ErrClosed or PollErrorLimit
// consecutive failures end polling.
func Poll(ctx context.Context, interval time.Duration, get func(ctx context.Context) (Job, error)) (Job, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	failures := 0
	for {
		job, err := get(ctx)
		switch {
		case err == nil:
			failures = 0
			if job.Status.Done() {
				return job, nil
			}
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrClosed), ctx.Err() != nil:
			return job, err
		default:
			failures++
			if failures >= PollErrorLimit {
				return job, fmt.Errorf("extraction: %d polls failed: %w", failures, err)
			}
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
