package model

import (
	"fmt"
	"time"
)

// ScanJobType says which kind of run produced an event. It only scopes
// notification settings; every job type scans the same way.
type ScanJobType string

const (
	ScanJobMergeRequest ScanJobType = "merge_request"
	ScanJobPeriodic     ScanJobType = "periodic"
	ScanJobRelease      ScanJobType = "release"
)

// AllScanJobTypes lists every ScanJobType. Notification configs must have an
// entry for each of them.
var AllScanJobTypes = []ScanJobType{ScanJobMergeRequest, ScanJobPeriodic, ScanJobRelease}

// ParseScanJobType parses the textual form of a ScanJobType.
func ParseScanJobType(s string) (ScanJobType, error) {
	for _, t := range AllScanJobTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown scan job type %q", s)
}

// ScanOutcome is the result of scanning one project within a run.
type ScanOutcome struct {
	Project      Project
	Err          error
	RawFindings  int
	EventsRaised int
	Duration     time.Duration
}

// Succeeded reports whether the project was scanned and reconciled.
func (o ScanOutcome) Succeeded() bool {
	return o.Err == nil
}

// ScanRunSummary aggregates the outcomes of one run.
type ScanRunSummary struct {
	RunID        string
	JobType      ScanJobType
	StartedAt    time.Time
	FinishedAt   time.Time
	Succeeded    int
	Failed       int
	Skipped      int
	EventsRaised int
	Cancelled    bool
	Outcomes     []ScanOutcome
}

// FailedProjects returns the projects whose scan or reconciliation failed.
func (s ScanRunSummary) FailedProjects() []Project {
	var out []Project
	for _, o := range s.Outcomes {
		if !o.Succeeded() {
			out = append(out, o.Project)
		}
	}
	return out
}
