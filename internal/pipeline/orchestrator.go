// Package pipeline drives ingestion jobs from intake through conversion and
// enrichment to a terminal state. The ledger is the source of truth: every
// transition is persisted before any waiter observes it, and jobs found
// non-terminal at startup are re-driven from their persisted state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookforge/internal/book"
	"bookforge/internal/cache"
	"bookforge/internal/convert"
	"bookforge/internal/enrich"
	"bookforge/internal/fingerprint"
	"bookforge/internal/ledger"
)

// Errors surfaced to the request layer.
var (
	ErrNotReady       = errors.New("job result not ready")
	ErrNotCancellable = errors.New("job is not cancellable in its current state")
	ErrNotRetryable   = errors.New("only failed jobs can be retried")
)

// errShutdown marks task abandonment during process shutdown. Jobs cut off
// this way stay non-terminal in the ledger and resume on the next start.
var errShutdown = errors.New("orchestrator shutting down")

// errCancelled marks an operator cancel request.
var errCancelled = errors.New("job cancelled")

// Orchestrator manages the ingestion pipeline.
type Orchestrator struct {
	store      *ledger.Store
	cache      *cache.Cache
	pool       *enrich.Pool
	gen        enrich.Generator
	log        *slog.Logger
	jobTimeout time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator. Call Start before submitting jobs.
func New(store *ledger.Store, artifacts *cache.Cache, pool *enrich.Pool, gen enrich.Generator, log *slog.Logger, jobTimeout time.Duration) *Orchestrator {
	if jobTimeout <= 0 {
		jobTimeout = time.Hour
	}
	return &Orchestrator{
		store:      store,
		cache:      artifacts,
		pool:       pool,
		gen:        gen,
		log:        log,
		jobTimeout: jobTimeout,
		running:    make(map[string]context.CancelCauseFunc),
	}
}

// Start begins accepting work and resumes jobs the ledger reports as
// non-terminal from a previous run.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.baseCtx, o.cancel = context.WithCancel(ctx)

	jobs, err := o.store.ResumableJobs(ctx)
	if err != nil {
		return fmt.Errorf("load resumable jobs: %w", err)
	}
	for _, job := range jobs {
		o.log.Info("resuming job", "job_id", job.ID, "state", job.State)
		o.launch(job)
	}
	return nil
}

// Stop abandons in-flight tasks and waits for them to unwind. Abandoned jobs
// keep their persisted non-terminal state and resume on the next Start.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	for _, cancel := range o.running {
		cancel(errShutdown)
	}
	o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit accepts a document for ingestion. Intake is idempotent on content:
// re-submission of already-seen bytes returns the existing job rather than
// creating a duplicate, regardless of filename.
func (o *Orchestrator) Submit(ctx context.Context, data []byte, format, filename, title string, enrichEnabled bool) (*ledger.Job, bool, error) {
	if !convert.IsSupportedFormat(format) {
		return nil, false, fmt.Errorf("%w: %q", convert.ErrUnsupportedFormat, format)
	}

	job := &ledger.Job{
		ID:            uuid.NewString(),
		Fingerprint:   fingerprint.New(data, fingerprint.OpDocument),
		Format:        convert.NormalizeFormat(format),
		Filename:      filename,
		Title:         title,
		EnrichEnabled: enrichEnabled,
	}

	stored, created, err := o.store.CreateIfAbsent(ctx, job, data)
	if err != nil {
		return nil, false, err
	}

	if created {
		o.launch(stored)
	} else if !stored.State.IsTerminal() {
		// Loser of a concurrent-submission race attaches to the winner's
		// in-flight job; if no task is active (earlier crash), re-drive it.
		o.launch(stored)
	}
	return stored, created, nil
}

// Status returns the latest durably recorded job snapshot.
func (o *Orchestrator) Status(ctx context.Context, id string) (*ledger.Job, error) {
	return o.store.GetByID(ctx, id)
}

// Result returns the full converted and enriched book for a completed job.
func (o *Orchestrator) Result(ctx context.Context, id string) (*book.Book, error) {
	job, err := o.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != ledger.StateCompleted {
		return nil, fmt.Errorf("%w: job is %s", ErrNotReady, job.State)
	}
	return job.Book(), nil
}

// Retry re-enters the pipeline from a failed state on explicit request.
// Sections that already hold enrichment results keep them.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*ledger.Job, error) {
	job, err := o.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != ledger.StateFailed {
		return nil, fmt.Errorf("%w: job is %s", ErrNotRetryable, job.State)
	}

	target := ledger.StateConverting
	if job.EnrichEnabled && len(job.Sections) > 0 {
		target = ledger.StateEnriching
	}
	if err := o.store.UpdateState(ctx, id, target, "", nil); err != nil {
		return nil, err
	}

	job, err = o.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	o.launch(job)
	return job, nil
}

// Cancel stops a job that has not reached a terminal state. In-flight
// section tasks are abandoned; any late results are discarded rather than
// applied to the cancelled job.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	job, err := o.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch job.State {
	case ledger.StateQueued, ledger.StateConverting, ledger.StateEnriching:
	default:
		return fmt.Errorf("%w: job is %s", ErrNotCancellable, job.State)
	}

	o.mu.Lock()
	cancel, active := o.running[id]
	o.mu.Unlock()

	if active {
		cancel(errCancelled)
		return nil
	}
	// No in-memory task (e.g. cancelled before Start resumed it): record the
	// terminal state directly.
	return o.store.UpdateState(ctx, id, ledger.StateFailed, ledger.ReasonCancelled, nil)
}

// launch starts the job task unless one is already active for this job.
func (o *Orchestrator) launch(job *ledger.Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, active := o.running[job.ID]; active {
		return
	}

	ctx, cancel := context.WithCancelCause(o.baseCtx)
	ctx, timeoutCancel := context.WithTimeout(ctx, o.jobTimeout)
	o.running[job.ID] = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer timeoutCancel()
		defer func() {
			o.mu.Lock()
			delete(o.running, job.ID)
			o.mu.Unlock()
		}()
		o.run(ctx, job)
	}()
}

// run drives one job from its current persisted state to a terminal one.
func (o *Orchestrator) run(ctx context.Context, job *ledger.Job) {
	log := o.log.With("job_id", job.ID, "fingerprint", job.Fingerprint)

	sections := job.Sections
	if job.State != ledger.StateEnriching {
		var err error
		sections, err = o.convertPhase(ctx, job, log)
		if err != nil {
			o.settleFailure(ctx, job, err, nil, log)
			return
		}
		if !job.EnrichEnabled {
			o.persistTransition(job.ID, ledger.StateCompleted, "", nil, log)
			log.Info("job completed", "sections", len(sections), "enriched", false)
			return
		}
	}

	failed, err := o.enrichPhase(ctx, job, sections, log)
	if err != nil {
		o.settleFailure(ctx, job, err, failed, log)
		return
	}
	if len(failed) > 0 {
		msg := fmt.Sprintf("enrichment failed for %d of %d sections", len(failed), len(sections))
		o.persistTransition(job.ID, ledger.StateFailed, msg, failed, log)
		log.Warn("job failed", "failed_sections", failed)
		return
	}

	o.persistTransition(job.ID, ledger.StateCompleted, "", nil, log)
	log.Info("job completed", "sections", len(sections), "enriched", true)
}

// convertPhase runs the conversion engine through the artifact cache and
// persists the resulting section list.
func (o *Orchestrator) convertPhase(ctx context.Context, job *ledger.Job, log *slog.Logger) ([]book.Section, error) {
	if job.State != ledger.StateConverting {
		if err := o.store.UpdateState(ctx, job.ID, ledger.StateConverting, "", nil); err != nil {
			return nil, fmt.Errorf("enter converting: %w", err)
		}
		job.State = ledger.StateConverting
	}

	data, err := o.store.DocumentData(ctx, job.Fingerprint)
	if err != nil {
		return nil, err
	}

	fallbackTitle := job.Title
	if fallbackTitle == "" {
		fallbackTitle = job.Filename
	}
	key := fingerprint.New(data, fingerprint.OpConvert)
	artifact, err := o.cache.GetOrCompute(ctx, key, func(context.Context) (any, error) {
		return convert.Convert(data, job.Format, fallbackTitle)
	})
	if err != nil {
		return nil, err
	}
	converted := artifact.(*book.Book)

	if job.Title == "" && converted.Title != "" {
		if err := o.store.SetTitle(ctx, job.ID, converted.Title); err != nil {
			return nil, err
		}
		job.Title = converted.Title
	}
	if err := o.store.ReplaceSections(ctx, job.ID, converted.Sections); err != nil {
		return nil, err
	}
	log.Info("conversion complete", "sections", len(converted.Sections))
	return converted.Sections, nil
}

type enrichTask struct {
	section book.Section
	kind    string
}

// enrichPhase fans out one task per missing (section, kind) artifact,
// bounded by the worker pool, and persists each result as it settles.
// Results attach in section-index order in the stored representation
// because the ledger keys them by index, regardless of completion order.
func (o *Orchestrator) enrichPhase(ctx context.Context, job *ledger.Job, sections []book.Section, log *slog.Logger) ([]int, error) {
	if job.State != ledger.StateEnriching {
		if err := o.store.UpdateState(ctx, job.ID, ledger.StateEnriching, "", nil); err != nil {
			return nil, fmt.Errorf("enter enriching: %w", err)
		}
		job.State = ledger.StateEnriching
	}

	var tasks []enrichTask
	for _, sec := range sections {
		if sec.Plan == "" {
			tasks = append(tasks, enrichTask{section: sec, kind: ledger.KindPlan})
		}
		if sec.Summary == "" {
			tasks = append(tasks, enrichTask{section: sec, kind: ledger.KindSummary})
		}
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	log.Info("enriching sections", "tasks", len(tasks), "sections", len(sections))

	var (
		mu        sync.Mutex
		failedSet = make(map[int]bool)
		wg        sync.WaitGroup
	)
	for _, task := range tasks {
		wg.Add(1)
		go func(task enrichTask) {
			defer wg.Done()
			// A dead job must not dispatch new work against the service.
			if err := ctx.Err(); err != nil {
				mu.Lock()
				failedSet[task.section.Index] = true
				mu.Unlock()
				return
			}
			value, err := o.enrichOne(ctx, task)
			if err == nil {
				err = o.store.SetSectionResult(ctx, job.ID, task.section.Index, task.kind, value)
			}
			if err != nil {
				if ctx.Err() == nil {
					log.Error("section enrichment failed",
						"section", task.section.Index, "kind", task.kind, "error", err)
				}
				mu.Lock()
				failedSet[task.section.Index] = true
				mu.Unlock()
			}
		}(task)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := make([]int, 0, len(failedSet))
	for idx := range failedSet {
		failed = append(failed, idx)
	}
	sort.Ints(failed)
	return failed, nil
}

// enrichOne computes one enrichment artifact through the cache, so identical
// section content is only ever sent to the service once per kind.
func (o *Orchestrator) enrichOne(ctx context.Context, task enrichTask) (string, error) {
	var tag string
	switch task.kind {
	case ledger.KindPlan:
		tag = fingerprint.Plan(task.section.Index)
	default:
		tag = fingerprint.Summary(task.section.Index)
	}
	key := fingerprint.New([]byte(task.section.Content), tag)

	artifact, err := o.cache.GetOrCompute(ctx, key, func(computeCtx context.Context) (any, error) {
		var out string
		err := o.pool.Do(computeCtx, func(callCtx context.Context) error {
			var callErr error
			switch task.kind {
			case ledger.KindPlan:
				out, callErr = o.gen.TeachingPlan(callCtx, task.section.Content)
			default:
				out, callErr = o.gen.Summarize(callCtx, task.section.Content)
			}
			return callErr
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return "", err
	}
	return artifact.(string), nil
}

// settleFailure records a terminal failed state for a broken job, unless the
// interruption was a daemon shutdown, in which case the job stays
// non-terminal and resumes on restart.
func (o *Orchestrator) settleFailure(ctx context.Context, job *ledger.Job, cause error, failed []int, log *slog.Logger) {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		if c := context.Cause(ctx); c != nil {
			cause = c
		}
	}
	switch {
	case errors.Is(cause, errShutdown):
		log.Info("job interrupted by shutdown; will resume")
		return
	case errors.Is(cause, errCancelled):
		o.persistTransition(job.ID, ledger.StateFailed, ledger.ReasonCancelled, failed, log)
		log.Info("job cancelled")
	case errors.Is(cause, context.DeadlineExceeded):
		o.persistTransition(job.ID, ledger.StateFailed, ledger.ReasonTimeout, failed, log)
		log.Warn("job exceeded wall-clock budget")
	default:
		o.persistTransition(job.ID, ledger.StateFailed, cause.Error(), failed, log)
		log.Error("job failed", "error", cause)
	}
}

// persistTransition writes a terminal transition with a context independent
// of the job's own (possibly dead) context. The write is part of the
// transition: until it lands, the job is not in the new state, so transient
// write failures are retried before giving up.
func (o *Orchestrator) persistTransition(id string, to ledger.State, errorMessage string, failed []int, log *slog.Logger) {
	const attempts = 5
	for attempt := 0; attempt < attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := o.store.UpdateState(ctx, id, to, errorMessage, failed)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, ledger.ErrInvalidTransition) || errors.Is(err, ledger.ErrNotFound) {
			log.Error("ledger transition rejected", "to", to, "error", err)
			return
		}
		if attempt == attempts-1 {
			log.Error("ledger transition failed", "to", to, "attempts", attempts, "error", err)
			return
		}
		log.Warn("ledger transition failed, retrying", "to", to, "attempt", attempt+1, "error", err)
		time.Sleep(time.Duration(attempt+1) * 250 * time.Millisecond)
	}
}
