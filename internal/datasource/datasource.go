// Package datasource reconciles raw scanner findings with the findings kept
// in the tracking store and derives finding-lifecycle events.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/yourorg/dependency-scanner/internal/model"
	"github.com/yourorg/dependency-scanner/internal/tracker"
)

// ReconciliationError is a tracking-store failure that survived the store's
// retry policy.
type ReconciliationError struct {
	Project model.Project
	Op      string
	Cause   error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciling findings of %s failed during %s: %v", e.Project.Key(), e.Op, e.Cause)
}

func (e *ReconciliationError) Unwrap() error { return e.Cause }

// FindingDataSource owns all TrackedFindings. It is safe for concurrent use
// as long as the underlying store is and no two goroutines reconcile the
// same project at once.
type FindingDataSource struct {
	store         tracker.Store
	logger        logr.Logger
	riskThreshold model.Severity

	//non-pure functions that can be replaced by deterministic doubles for unit tests
	timeNow func() time.Time
	newID   func() string
}

// New creates a FindingDataSource on top of store. By default every new
// finding needs a risk assessment.
func New(store tracker.Store, logger logr.Logger) *FindingDataSource {
	return &FindingDataSource{
		store:         store,
		logger:        logger,
		riskThreshold: model.SeverityUnknown,
		timeNow:       time.Now,
		newID:         uuid.NewString,
	}
}

// WithRiskAssessmentThreshold sets the lowest severity at which a new
// finding needs a human risk assessment. Less severe findings are tracked
// as OPEN without a risk-assessment event.
func (ds *FindingDataSource) WithRiskAssessmentThreshold(sev model.Severity) *FindingDataSource {
	ds.riskThreshold = sev
	return ds
}

// OverrideTimeNow replaces time.Now with a test double.
func (ds *FindingDataSource) OverrideTimeNow(timeNow func() time.Time) *FindingDataSource {
	ds.timeNow = timeNow
	return ds
}

// Reconcile merges the findings of one scan of p into the tracking store:
// unseen fingerprints are created, known ones are refreshed, and active
// findings missing from raw are closed. The returned events describe every
// transition that was persisted, also when an error cuts the run short.
func (ds *FindingDataSource) Reconcile(ctx context.Context, p model.Project, raw []model.RawFinding) ([]model.Event, error) {
	now := ds.timeNow()
	log := ds.logger.WithValues("project", p.Key())

	order, current := collapse(p, raw)

	active, err := ds.store.ListActive(ctx, p.Key())
	if err != nil {
		return nil, &ReconciliationError{Project: p, Op: "list", Cause: err}
	}
	existing := make(map[string]model.TrackedFinding, len(active))
	for _, f := range active {
		existing[f.Fingerprint] = f
	}

	var events []model.Event
	for _, fp := range order {
		rf := current[fp]
		var evs []model.Event
		if tf, ok := existing[fp]; ok {
			evs, err = ds.refresh(ctx, p, tf, rf, now)
		} else {
			evs, err = ds.create(ctx, p, fp, rf, now)
		}
		events = append(events, evs...)
		if err != nil {
			return events, err
		}
	}

	closed := 0
	for _, tf := range active {
		if _, ok := current[tf.Fingerprint]; ok {
			continue
		}
		tf.Status = model.StatusClosed
		if err := ds.store.Close(ctx, tf); err != nil {
			return events, &ReconciliationError{Project: p, Op: "close", Cause: err}
		}
		log.V(1).Info("closed finding", "vulnerability", tf.VulnerabilityID, "package", tf.Package, "ticket", tf.TicketID)
		closed++
	}

	log.Info("reconciled findings", "observed", len(order), "tracked", len(active), "closed", closed, "events", len(events))
	return events, nil
}

func (ds *FindingDataSource) create(ctx context.Context, p model.Project, fp string, rf model.RawFinding, now time.Time) ([]model.Event, error) {
	needsAssessment := rf.Severity.Rank() >= ds.riskThreshold.Rank()
	tf := model.TrackedFinding{
		ID:               ds.newID(),
		Fingerprint:      fp,
		ProjectKey:       p.Key(),
		VulnerabilityID:  rf.VulnerabilityID,
		Package:          rf.Package,
		InstalledVersion: rf.InstalledVersion,
		FixedVersion:     rf.FixedVersion,
		Severity:         rf.Severity,
		Status:           model.StatusOpen,
		FirstSeen:        now,
		LastSeen:         now,
	}
	if needsAssessment {
		tf.Status = model.StatusNew
	}
	if rf.FixIsReleased() {
		tf.Status = model.StatusPatchAvailable
	}

	stored, created, err := ds.store.Create(ctx, tf)
	if errors.Is(err, tracker.ErrAlreadyTracked) {
		found, ferr := ds.store.FindByFingerprint(ctx, fp)
		if ferr != nil {
			return nil, &ReconciliationError{Project: p, Op: "find", Cause: ferr}
		}
		if found != nil {
			return ds.refresh(ctx, p, *found, rf, now)
		}
	}
	if err != nil {
		return nil, &ReconciliationError{Project: p, Op: "create", Cause: err}
	}
	if !created {
		// another run tracked this fingerprint since ListActive
		return ds.refresh(ctx, p, stored, rf, now)
	}
	tf = stored

	var events []model.Event
	if needsAssessment {
		events = append(events, model.NewRiskAssessmentNeeded(p, tf, now))
	}
	if rf.FixIsReleased() {
		events = append(events, model.NewPatchVersionAvailable(p, tf, now))
	}
	return events, nil
}

func (ds *FindingDataSource) refresh(ctx context.Context, p model.Project, tf model.TrackedFinding, rf model.RawFinding, now time.Time) ([]model.Event, error) {
	tf.LastSeen = now
	tf.Severity = rf.Severity
	tf.InstalledVersion = rf.InstalledVersion

	var events []model.Event
	if rf.FixIsReleased() {
		tf.FixedVersion = rf.FixedVersion
		if tf.Status.Before(model.StatusPatchAvailable) {
			tf.Status = model.StatusPatchAvailable
			events = append(events, model.NewPatchVersionAvailable(p, tf, now))
		}
	}

	if err := ds.store.Update(ctx, tf); err != nil {
		return nil, &ReconciliationError{Project: p, Op: "update", Cause: err}
	}
	return events, nil
}

// collapse deduplicates raw findings by fingerprint, preserving the order of
// first appearance. A fixed version reported by any duplicate is kept.
func collapse(p model.Project, raw []model.RawFinding) ([]string, map[string]model.RawFinding) {
	order := make([]string, 0, len(raw))
	current := make(map[string]model.RawFinding, len(raw))
	for _, rf := range raw {
		rf.Project = p
		fp := FingerprintOf(rf)
		prev, seen := current[fp]
		if !seen {
			order = append(order, fp)
		} else if rf.FixedVersion == "" {
			rf.FixedVersion = prev.FixedVersion
		}
		current[fp] = rf
	}
	return order, current
}
