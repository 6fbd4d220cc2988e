package model

import "time"

// EventKind discriminates the Event union.
type EventKind string

const (
	EventScanJobSucceeded            EventKind = "scan_job_succeeded"
	EventScanJobFailed               EventKind = "scan_job_failed"
	EventFindingRiskAssessmentNeeded EventKind = "finding_risk_assessment_needed"
	EventFindingPatchAvailable       EventKind = "finding_patch_version_available"
)

// Event is a lifecycle event routed through the notifier. Which payload
// fields are set depends on Kind:
//
//	scan_job_succeeded              JobType, Project
//	scan_job_failed                 JobType, Project, Err
//	finding_risk_assessment_needed  Project, Finding
//	finding_patch_version_available Project, Finding
type Event struct {
	Kind    EventKind
	JobType ScanJobType
	Project Project
	Finding *TrackedFinding
	Err     error
	At      time.Time
}

// IsJobEvent reports whether the event belongs to the scan-job lifecycle.
func (e Event) IsJobEvent() bool {
	return e.Kind == EventScanJobSucceeded || e.Kind == EventScanJobFailed
}

// NewJobSucceeded builds a scan_job_succeeded event.
func NewJobSucceeded(jobType ScanJobType, p Project, at time.Time) Event {
	return Event{Kind: EventScanJobSucceeded, JobType: jobType, Project: p, At: at}
}

// NewJobFailed builds a scan_job_failed event.
func NewJobFailed(jobType ScanJobType, p Project, cause error, at time.Time) Event {
	return Event{Kind: EventScanJobFailed, JobType: jobType, Project: p, Err: cause, At: at}
}

// NewRiskAssessmentNeeded builds a finding_risk_assessment_needed event.
func NewRiskAssessmentNeeded(p Project, f TrackedFinding, at time.Time) Event {
	return Event{Kind: EventFindingRiskAssessmentNeeded, Project: p, Finding: &f, At: at}
}

// NewPatchVersionAvailable builds a finding_patch_version_available event.
func NewPatchVersionAvailable(p Project, f TrackedFinding, at time.Time) Event {
	return Event{Kind: EventFindingPatchAvailable, Project: p, Finding: &f, At: at}
}
