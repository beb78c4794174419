package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"webpconv/internal/convert"
	"webpconv/internal/domain"
)

// ErrUnknownJob is returned when an operation references a missing job id.
var ErrUnknownJob = errors.New("unknown job")

// defaultConcurrency bounds simultaneous encodes when settings leave the
// ceiling unset.
const defaultConcurrency = 2

// Converter isolates the conversion engine behind an interface.
type Converter interface {
	Run(ctx context.Context, req convert.Request) (convert.Result, error)
}

// Scheduler owns the job collection and is the only writer of job status and
// progress. A fixed-size worker pool pulls admitted jobs from a channel in
// ascending sequence order; everything outside receives copies and events.
type Scheduler struct {
	engine     Converter
	bus        *EventBus
	settingsFn func() domain.Settings
	notify     func(Event)

	mu      sync.Mutex
	jobs    map[string]*domain.Job
	cancels map[string]context.CancelFunc
	nextSeq int
	active  bool
}

// NewScheduler creates an idle scheduler. settingsFn supplies the current
// batch settings; each job snapshots them at dispatch time. notify, when
// non-nil, receives every published event for UI push delivery.
func NewScheduler(engine Converter, bus *EventBus, settingsFn func() domain.Settings, notify func(Event)) *Scheduler {
	return &Scheduler{
		engine:     engine,
		bus:        bus,
		settingsFn: settingsFn,
		notify:     notify,
		jobs:       make(map[string]*domain.Job),
		cancels:    make(map[string]context.CancelFunc),
		nextSeq:    1,
	}
}

// Enqueue adds one queued job per source path and returns their snapshots.
// Sequence numbers are monotonic and fix both dispatch order and the
// {counter} template token.
func (s *Scheduler) Enqueue(paths []string, opts domain.JobOptions) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0, len(paths))
	for _, path := range paths {
		job := &domain.Job{
			ID:         uuid.NewString(),
			SourcePath: path,
			Name:       filepath.Base(path),
			Sequence:   s.nextSeq,
			Status:     domain.JobStatusQueued,
			Options:    opts,
		}
		s.nextSeq++
		s.jobs[job.ID] = job
		out = append(out, *job)
	}
	return out
}

// StartAll admits every queued job plus failed jobs (an explicit retry that
// resets progress and failure detail), then runs min(ceiling, admitted)
// workers until the batch drains. Re-invocation while a batch is active is a
// no-op; jobs enqueued mid-run wait for the next StartAll.
func (s *Scheduler) StartAll() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}

	// Admission is fixed here for the whole run: a freed worker slot goes to
	// the next already-admitted job, never to one enqueued after this point.
	admitted := make([]*domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		switch job.Status {
		case domain.JobStatusQueued:
			admitted = append(admitted, job)
		case domain.JobStatusFailed:
			job.Status = domain.JobStatusQueued
			job.Progress = 0
			job.Failure = nil
			job.OutputPath = ""
			admitted = append(admitted, job)
		}
	}
	if len(admitted) == 0 {
		s.mu.Unlock()
		return
	}
	sort.Slice(admitted, func(i, j int) bool { return admitted[i].Sequence < admitted[j].Sequence })

	queue := make(chan string, len(admitted))
	for _, job := range admitted {
		queue <- job.ID
	}
	close(queue)

	workers := s.ceiling()
	if workers > len(admitted) {
		workers = len(admitted)
	}

	s.active = true
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go s.worker(queue, &wg)
	}
	go func() {
		wg.Wait()
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()
	s.mu.Unlock()
}

// Remove cancels a running job or deletes a non-running one. A cancelled job
// settles as failed with a cancellation reason and frees its worker slot.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownJob
	}

	if job.Status == domain.JobStatusRunning {
		cancel := s.cancels[id]
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

// ClearCompleted drops all succeeded jobs from the collection. Failed jobs
// stay visible so their diagnostics and retry remain reachable.
func (s *Scheduler) ClearCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.jobs {
		if job.Status == domain.JobStatusSucceeded {
			delete(s.jobs, id)
		}
	}
}

// Snapshot returns copies of all jobs in ascending sequence order.
func (s *Scheduler) Snapshot() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		if job.Failure != nil {
			failure := *job.Failure
			copied.Failure = &failure
		}
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Active reports whether a batch run is in flight.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// worker drains the admitted queue, driving one engine run at a time.
func (s *Scheduler) worker(queue <-chan string, wg *sync.WaitGroup) {
	defer wg.Done()
	for id := range queue {
		s.runJob(id)
	}
}

// runJob dispatches a single job: snapshots settings, transitions it to
// running, and maps the engine outcome to a terminal state plus events.
func (s *Scheduler) runJob(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusQueued {
		// Removed (or already retried) after admission.
		s.mu.Unlock()
		return
	}

	snapshot := s.settingsFn()
	dispatch := domain.DispatchContext{Settings: snapshot, At: time.Now()}

	ctx := context.Background()
	var cancel context.CancelFunc
	if snapshot.JobTimeoutSec > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(snapshot.JobTimeoutSec)*time.Second)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	s.cancels[id] = cancel

	job.Status = domain.JobStatusRunning
	job.Progress = 0
	job.Failure = nil
	job.OutputPath = ""

	req := convert.Request{
		SourcePath: job.SourcePath,
		Sequence:   job.Sequence,
		Options:    job.Options,
		Dispatch:   dispatch,
		OnProgress: func(percent float64) { s.reportProgress(id, percent) },
	}
	s.mu.Unlock()

	s.publish(Event{
		JobID:   id,
		Type:    EventTypeStatus,
		Status:  domain.JobStatusRunning,
		Message: "Conversion started",
	})

	result, err := s.engine.Run(ctx, req)

	s.mu.Lock()
	delete(s.cancels, id)
	cancel()

	job, ok = s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	if err != nil {
		failure := &domain.FailureDetail{Message: err.Error()}
		var engErr *convert.EngineError
		if errors.As(err, &engErr) {
			failure.Message = engErr.Message
			failure.LogPath = engErr.LogPath
			failure.Cancelled = engErr.Cancelled
		}
		job.Status = domain.JobStatusFailed
		job.Failure = failure
		s.mu.Unlock()

		s.publish(Event{
			JobID:     id,
			Type:      EventTypeError,
			Status:    domain.JobStatusFailed,
			Message:   failure.Message,
			LogPath:   failure.LogPath,
			Cancelled: failure.Cancelled,
		})
		return
	}

	job.Status = domain.JobStatusSucceeded
	job.Progress = 100
	job.OutputPath = result.OutputPath
	s.mu.Unlock()

	s.publish(Event{
		JobID:      id,
		Type:       EventTypeResult,
		Status:     domain.JobStatusSucceeded,
		Progress:   100,
		Message:    "Conversion finished",
		OutputPath: result.OutputPath,
	})
}

// reportProgress records and forwards a progress value for one running job.
// Values never move backwards within a job.
func (s *Scheduler) reportProgress(id string, percent float64) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusRunning || percent <= job.Progress {
		s.mu.Unlock()
		return
	}
	job.Progress = percent
	s.mu.Unlock()

	s.publish(Event{
		JobID:    id,
		Type:     EventTypeProgress,
		Status:   domain.JobStatusRunning,
		Progress: percent,
	})
}

// ceiling resolves the concurrency bound from current settings.
func (s *Scheduler) ceiling() int {
	c := s.settingsFn().Concurrency
	if c <= 0 {
		return defaultConcurrency
	}
	return c
}

// Events returns published events with sequence greater than sinceSeq.
func (s *Scheduler) Events(sinceSeq int64) []Event {
	return s.bus.Since(sinceSeq)
}

// publish stores the event and forwards it to the push sink.
func (s *Scheduler) publish(event Event) {
	published := s.bus.Publish(event)
	if s.notify != nil {
		s.notify(published)
	}
}
