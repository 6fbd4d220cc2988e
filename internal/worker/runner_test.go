package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/dependency-scanner/internal/datasource"
	"github.com/yourorg/dependency-scanner/internal/model"
	"github.com/yourorg/dependency-scanner/internal/notify"
	"github.com/yourorg/dependency-scanner/internal/scanner"
	"github.com/yourorg/dependency-scanner/internal/tracker"
)

var (
	p1 = model.Project{Name: "p1", Path: "ic-os/p1"}
	p2 = model.Project{Name: "p2", Path: "ic-os/p2"}
	p3 = model.Project{Name: "p3", Path: "ic-os/p3"}
)

func repo(projects ...model.Project) []model.Repository {
	return []model.Repository{{Name: "ic", URL: "https://github.com/dfinity/ic", Projects: projects}}
}

type delivered struct {
	kind    model.EventKind
	project string
	finding *model.TrackedFinding
}

// subscriber records every event it receives.
type subscriber struct {
	mu     sync.Mutex
	events []delivered
}

func (s *subscriber) Name() string { return "test" }

func (s *subscriber) add(ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, delivered{ev.Kind, ev.Project.Key(), ev.Finding})
	return nil
}

func (s *subscriber) OnScanJobSucceeded(_ context.Context, ev model.Event) error { return s.add(ev) }
func (s *subscriber) OnScanJobFailed(_ context.Context, ev model.Event) error    { return s.add(ev) }
func (s *subscriber) OnFindingRiskAssessmentNeeded(_ context.Context, ev model.Event) error {
	return s.add(ev)
}
func (s *subscriber) OnFindingPatchVersionAvailable(_ context.Context, ev model.Event) error {
	return s.add(ev)
}

func (s *subscriber) take() []delivered {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

func (s *subscriber) forProject(p model.Project) []model.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.EventKind
	for _, d := range s.events {
		if d.project == p.Key() {
			out = append(out, d.kind)
		}
	}
	return out
}

// fakeScanner returns canned results per project.
type fakeScanner struct {
	mu      sync.Mutex
	results map[string][]model.RawFinding
	errs    map[string]error
	calls   []string
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{results: map[string][]model.RawFinding{}, errs: map[string]error{}}
}

func (f *fakeScanner) Scan(_ context.Context, p model.Project) ([]model.RawFinding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p.Key())
	if err := f.errs[p.Key()]; err != nil {
		return nil, &scanner.ScanError{Project: p, Cause: err}
	}
	return f.results[p.Key()], nil
}

type harness struct {
	runner  *Runner
	scanner *fakeScanner
	store   *tracker.MemoryStore
	sub     *subscriber
	bus     *notify.Bus
}

func newHarness(t *testing.T, jobType model.ScanJobType, concurrency int) harness {
	t.Helper()
	h := harness{
		scanner: newFakeScanner(),
		store:   tracker.NewMemoryStore(),
		sub:     &subscriber{},
		bus:     notify.NewBus(logr.Discard()),
	}
	require.NoError(t, h.bus.Configure(notify.ConfigForJobType(jobType)))
	require.NoError(t, h.bus.Subscribe(h.sub))
	ds := datasource.New(h.store, logr.Discard())
	h.runner = NewRunner(h.scanner, ds, h.bus, concurrency, logr.Discard())
	return h
}

func TestEndToEndTwoRuns(t *testing.T) {
	h := newHarness(t, model.ScanJobPeriodic, 2)
	vuln := model.RawFinding{
		VulnerabilityID:  "CVE-2024-3094",
		Severity:         model.SeverityCritical,
		Package:          "xz-utils",
		InstalledVersion: "5.6.0",
		Project:          p2,
	}
	h.scanner.results[p2.Key()] = []model.RawFinding{vuln}

	summary, err := h.runner.RunScan(context.Background(), model.ScanJobPeriodic, repo(p1, p2))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.EventsRaised)
	assert.False(t, summary.Cancelled)
	assert.NotEmpty(t, summary.RunID)

	assert.Equal(t, []model.EventKind{model.EventScanJobSucceeded}, h.sub.forProject(p1))
	assert.Equal(t, []model.EventKind{model.EventFindingRiskAssessmentNeeded, model.EventScanJobSucceeded}, h.sub.forProject(p2))
	all := h.store.All()
	require.Len(t, all, 1)
	assert.Equal(t, model.StatusNew, all[0].Status)
	h.sub.take()

	vuln.FixedVersion = "5.6.2"
	h.scanner.results[p2.Key()] = []model.RawFinding{vuln}
	summary, err = h.runner.RunScan(context.Background(), model.ScanJobPeriodic, repo(p1, p2))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.EventsRaised)

	assert.Equal(t, []model.EventKind{model.EventFindingPatchAvailable, model.EventScanJobSucceeded}, h.sub.forProject(p2))
	all = h.store.All()
	require.Len(t, all, 1, "no duplicate creation")
	assert.Equal(t, model.StatusPatchAvailable, all[0].Status)
	assert.Equal(t, "5.6.2", all[0].FixedVersion)
}

func TestScanFailureIsIsolated(t *testing.T) {
	h := newHarness(t, model.ScanJobPeriodic, 1)
	h.scanner.errs[p1.Key()] = errors.New("trivy exited with status 1")
	h.scanner.results[p3.Key()] = []model.RawFinding{{VulnerabilityID: "CVE-1", Package: "zlib", Severity: model.SeverityLow, Project: p3}}

	summary, err := h.runner.RunScan(context.Background(), model.ScanJobPeriodic, repo(p1, p2, p3))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []model.Project{p1}, summary.FailedProjects())
	assert.Equal(t, []string{p1.Key(), p2.Key(), p3.Key()}, h.scanner.calls)

	var se *scanner.ScanError
	require.ErrorAs(t, summary.Outcomes[0].Err, &se)
	assert.Equal(t, p1, se.Project)

	assert.Equal(t, []model.EventKind{model.EventScanJobFailed}, h.sub.forProject(p1))
	assert.Equal(t, []model.EventKind{model.EventScanJobSucceeded}, h.sub.forProject(p2))
	assert.Equal(t, []model.EventKind{model.EventFindingRiskAssessmentNeeded, model.EventScanJobSucceeded}, h.sub.forProject(p3))
}

func TestJobEventsSuppressedForOtherJobTypes(t *testing.T) {
	// notifications are configured for releases only
	h := newHarness(t, model.ScanJobRelease, 1)
	h.scanner.results[p1.Key()] = []model.RawFinding{{VulnerabilityID: "CVE-1", Package: "zlib", Project: p1}}

	_, err := h.runner.RunScan(context.Background(), model.ScanJobMergeRequest, repo(p1))
	require.NoError(t, err)
	assert.Equal(t, []model.EventKind{model.EventFindingRiskAssessmentNeeded}, h.sub.forProject(p1))
}

type failingReconciler struct{ events []model.Event }

func (f failingReconciler) Reconcile(_ context.Context, p model.Project, _ []model.RawFinding) ([]model.Event, error) {
	return f.events, &datasource.ReconciliationError{Project: p, Op: "update", Cause: errors.New("store down")}
}

func TestReconciliationFailurePublishesPartialEvents(t *testing.T) {
	h := newHarness(t, model.ScanJobPeriodic, 1)
	partial := model.NewRiskAssessmentNeeded(p1, model.TrackedFinding{VulnerabilityID: "CVE-1"}, time.Now())
	h.runner.findings = failingReconciler{events: []model.Event{partial}}

	summary, err := h.runner.RunScan(context.Background(), model.ScanJobPeriodic, repo(p1))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.EventsRaised)
	assert.Equal(t, []model.EventKind{model.EventFindingRiskAssessmentNeeded, model.EventScanJobFailed}, h.sub.forProject(p1))

	var re *datasource.ReconciliationError
	require.ErrorAs(t, summary.Outcomes[0].Err, &re)
}

func TestCancellationSkipsRemainingProjects(t *testing.T) {
	h := newHarness(t, model.ScanJobPeriodic, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.runner.scanner = scanner.Func(func(scanCtx context.Context, p model.Project) ([]model.RawFinding, error) {
		cancel()
		// the in-flight scan keeps running after the run was cancelled
		assert.NoError(t, scanCtx.Err())
		return nil, nil
	})

	summary, err := h.runner.RunScan(ctx, model.ScanJobPeriodic, repo(p1, p2, p3))
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.Skipped)
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, p1, summary.Outcomes[0].Project)
	assert.Equal(t, []model.EventKind{model.EventScanJobSucceeded}, h.sub.forProject(p1))
}

func TestCancellationDuringLastProjectMarksRunCancelled(t *testing.T) {
	h := newHarness(t, model.ScanJobPeriodic, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.runner.scanner = scanner.Func(func(_ context.Context, p model.Project) ([]model.RawFinding, error) {
		if p.Key() == p2.Key() {
			cancel()
		}
		return nil, nil
	})

	summary, err := h.runner.RunScan(ctx, model.ScanJobPeriodic, repo(p1, p2))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Skipped)
	assert.True(t, summary.Cancelled)
}

func TestConfigurationErrorsAreFatal(t *testing.T) {
	h := newHarness(t, model.ScanJobPeriodic, 1)
	ctx := context.Background()

	_, err := h.runner.RunScan(ctx, "nightly", repo(p1))
	require.Error(t, err)

	dup := []model.Repository{
		{Name: "ic", Projects: []model.Project{p1}},
		{Name: "ic-mirror", Projects: []model.Project{p1, {Name: "", Path: "x"}, {Name: "y"}}},
	}
	_, err = h.runner.RunScan(ctx, model.ScanJobPeriodic, dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configured in both")
	assert.Contains(t, err.Error(), "without a name")
	assert.Contains(t, err.Error(), "has no path")

	unconfigured := NewRunner(h.scanner, datasource.New(h.store, logr.Discard()), notify.NewBus(logr.Discard()), 1, logr.Discard())
	_, err = unconfigured.RunScan(ctx, model.ScanJobPeriodic, repo(p1))
	require.ErrorIs(t, err, notify.ErrNotConfigured)

	assert.Empty(t, h.scanner.calls, "nothing may be scanned on configuration errors")
}

func TestProjectsAllowsSameNameAtDifferentPaths(t *testing.T) {
	prod := model.Project{Name: "boundary-guestos", Path: "ic-os/boundary-guestos/envs/prod"}
	sev := model.Project{Name: "boundary-guestos", Path: "ic-os/boundary-guestos/envs/prod-sev"}
	projects, err := Projects(repo(prod, sev))
	require.NoError(t, err)
	assert.Equal(t, []model.Project{prod, sev}, projects)
}

type recordingRecorder struct {
	summaries []model.ScanRunSummary
}

func (r *recordingRecorder) RecordRun(_ context.Context, s model.ScanRunSummary) error {
	r.summaries = append(r.summaries, s)
	return nil
}

func TestRunSummaryIsRecorded(t *testing.T) {
	h := newHarness(t, model.ScanJobPeriodic, 1)
	rec := &recordingRecorder{}
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	now := start
	h.runner.WithRunRecorder(rec).OverrideTimeNow(func() time.Time {
		now = now.Add(time.Second)
		return now
	})

	summary, err := h.runner.RunScan(context.Background(), model.ScanJobPeriodic, repo(p1))
	require.NoError(t, err)
	require.Len(t, rec.summaries, 1)
	assert.Equal(t, summary.RunID, rec.summaries[0].RunID)
	assert.True(t, summary.FinishedAt.After(summary.StartedAt))
	assert.Equal(t, 2*time.Second, summary.Outcomes[0].Duration)
}

func TestRunEveryStopsWithContext(t *testing.T) {
	h := newHarness(t, model.ScanJobPeriodic, 1)
	ctx, cancel := context.WithCancel(context.Background())
	runs := 0
	h.runner.scanner = scanner.Func(func(context.Context, model.Project) ([]model.RawFinding, error) {
		runs++
		if runs == 2 {
			cancel()
		}
		return nil, nil
	})

	require.NoError(t, h.runner.RunEvery(ctx, time.Millisecond, model.ScanJobPeriodic, repo(p1)))
	assert.Equal(t, 2, runs)
	require.Error(t, h.runner.RunEvery(context.Background(), 0, model.ScanJobPeriodic, repo(p1)))
}
