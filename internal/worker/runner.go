package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/dependency-scanner/internal/model"
	"github.com/yourorg/dependency-scanner/internal/scanner"
)

// Reconciler folds one project's raw findings into the tracking store.
type Reconciler interface {
	Reconcile(ctx context.Context, p model.Project, raw []model.RawFinding) ([]model.Event, error)
}

// Publisher is the notifier side used by the Runner.
type Publisher interface {
	Validate() error
	Publish(ctx context.Context, ev model.Event) bool
}

// RunRecorder persists run summaries. Failures are logged only.
type RunRecorder interface {
	RecordRun(ctx context.Context, summary model.ScanRunSummary) error
}

// Runner drives scan runs: every project is scanned, its findings are
// reconciled, and the resulting events are published.
type Runner struct {
	scanner     scanner.Scanner
	findings    Reconciler
	bus         Publisher
	recorder    RunRecorder
	concurrency int
	logger      logr.Logger
	timeNow     func() time.Time
}

// NewRunner builds a Runner that scans up to concurrency projects at once.
func NewRunner(sc scanner.Scanner, findings Reconciler, bus Publisher, concurrency int, logger logr.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		scanner:     sc,
		findings:    findings,
		bus:         bus,
		concurrency: concurrency,
		logger:      logger,
		timeNow:     time.Now,
	}
}

// WithRunRecorder makes the Runner persist every run summary.
func (r *Runner) WithRunRecorder(rec RunRecorder) *Runner {
	r.recorder = rec
	return r
}

// OverrideTimeNow replaces time.Now with a test double.
func (r *Runner) OverrideTimeNow(timeNow func() time.Time) *Runner {
	r.timeNow = timeNow
	return r
}

// RunScan scans every project of repos once. Only configuration errors are
// returned; per-project failures are reported through scan_job_failed events
// and the summary. When ctx is cancelled, projects not yet started are
// skipped and the partial summary is returned.
func (r *Runner) RunScan(ctx context.Context, jobType model.ScanJobType, repos []model.Repository) (model.ScanRunSummary, error) {
	if _, err := model.ParseScanJobType(string(jobType)); err != nil {
		return model.ScanRunSummary{}, err
	}
	if err := r.bus.Validate(); err != nil {
		return model.ScanRunSummary{}, fmt.Errorf("cannot start %s scan: %w", jobType, err)
	}
	projects, err := Projects(repos)
	if err != nil {
		return model.ScanRunSummary{}, err
	}

	summary := model.ScanRunSummary{
		RunID:     uuid.NewString(),
		JobType:   jobType,
		StartedAt: r.timeNow(),
	}
	logger := r.logger.WithValues("run", summary.RunID, "jobType", jobType)
	logger.Info("starting scan run", "projects", len(projects), "concurrency", r.concurrency)

	outcomes := make([]model.ScanOutcome, len(projects))
	started := make([]bool, len(projects))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, p := range projects {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// the slot may have freed up only after cancellation
			if ctx.Err() != nil {
				return nil
			}
			started[i] = true
			outcomes[i] = r.scanProject(ctx, logger, jobType, p)
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range projects {
		if !started[i] {
			summary.Skipped++
			logger.V(1).Info("project skipped", "project", p.Key())
			continue
		}
		o := outcomes[i]
		summary.Outcomes = append(summary.Outcomes, o)
		summary.EventsRaised += o.EventsRaised
		if o.Succeeded() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	summary.Cancelled = summary.Skipped > 0 || ctx.Err() != nil
	summary.FinishedAt = r.timeNow()
	if summary.Skipped > 0 {
		scanSkippedCounter.WithLabelValues(string(jobType)).Add(float64(summary.Skipped))
	}

	if r.recorder != nil {
		// the run is over even if ctx is not
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := r.recorder.RecordRun(recordCtx, summary); err != nil {
			logger.Error(err, "could not record scan run")
		}
		cancel()
	}

	logger.Info("scan run finished",
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"eventsRaised", summary.EventsRaised,
		"cancelled", summary.Cancelled,
		"duration", summary.FinishedAt.Sub(summary.StartedAt).String())
	return summary, nil
}

// scanProject handles one project from scan to job event. The scan and the
// store calls are detached from run cancellation so that an in-flight
// project always finishes consistently.
func (r *Runner) scanProject(ctx context.Context, logger logr.Logger, jobType model.ScanJobType, p model.Project) model.ScanOutcome {
	ctx = context.WithoutCancel(ctx)
	logger = logger.WithValues("project", p.Key())
	start := r.timeNow()
	o := model.ScanOutcome{Project: p}

	defer func() {
		o.Duration = r.timeNow().Sub(start)
		scanDurationHistogram.WithLabelValues(string(jobType)).Observe(o.Duration.Seconds())
	}()

	raw, err := r.scanner.Scan(ctx, p)
	if err != nil {
		var se *scanner.ScanError
		if !errors.As(err, &se) {
			err = &scanner.ScanError{Project: p, Cause: err}
		}
		return r.fail(ctx, logger, jobType, o, err)
	}
	o.RawFindings = len(raw)
	logger.V(1).Info("project scanned", "rawFindings", len(raw))

	events, err := r.findings.Reconcile(ctx, p, raw)
	// events from a partial reconciliation describe changes already stored
	for _, ev := range events {
		raisedEventsCounter.WithLabelValues(string(ev.Kind)).Inc()
		r.bus.Publish(ctx, ev)
	}
	o.EventsRaised = len(events)
	if err != nil {
		return r.fail(ctx, logger, jobType, o, err)
	}

	scanSuccessCounter.WithLabelValues(string(jobType)).Inc()
	r.bus.Publish(ctx, model.NewJobSucceeded(jobType, p, r.timeNow()))
	logger.Info("project done", "rawFindings", o.RawFindings, "eventsRaised", o.EventsRaised)
	return o
}

func (r *Runner) fail(ctx context.Context, logger logr.Logger, jobType model.ScanJobType, o model.ScanOutcome, err error) model.ScanOutcome {
	o.Err = err
	scanFailedCounter.WithLabelValues(string(jobType)).Inc()
	logger.Error(err, "project failed")
	r.bus.Publish(ctx, model.NewJobFailed(jobType, o.Project, err, r.timeNow()))
	return o
}

// RunEvery calls RunScan once immediately and then on every tick of
// interval until ctx is done. Configuration errors end the loop.
func (r *Runner) RunEvery(ctx context.Context, interval time.Duration, jobType model.ScanJobType, repos []model.Repository) error {
	if interval <= 0 {
		return fmt.Errorf("invalid scan interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunScan(ctx, jobType, repos); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Projects flattens repos into their projects in configured order and
// rejects projects that are unnamed or share a key.
func Projects(repos []model.Repository) ([]model.Project, error) {
	var (
		result   *multierror.Error
		projects []model.Project
		seen     = make(map[string]string)
	)
	for _, repo := range repos {
		for _, p := range repo.Projects {
			switch {
			case p.Name == "":
				result = multierror.Append(result, fmt.Errorf("repository %q has a project without a name (path %q)", repo.Name, p.Path))
				continue
			case p.Path == "":
				result = multierror.Append(result, fmt.Errorf("project %q in repository %q has no path", p.Name, repo.Name))
				continue
			}
			if other, dup := seen[p.Key()]; dup {
				result = multierror.Append(result, fmt.Errorf("project %s is configured in both %q and %q", p.Key(), other, repo.Name))
				continue
			}
			seen[p.Key()] = repo.Name
			projects = append(projects, p)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("invalid project configuration: %w", err)
	}
	return projects, nil
}
