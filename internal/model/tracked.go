package model

import "time"

// Status is the lifecycle state of a TrackedFinding. Statuses are ordered and
// a finding never moves to a lower one.
type Status string

const (
	StatusNew            Status = "NEW"
	StatusOpen           Status = "OPEN"
	StatusRiskAssessed   Status = "RISK_ASSESSED"
	StatusPatchAvailable Status = "PATCH_AVAILABLE"
	StatusClosed         Status = "CLOSED"
)

var statusOrder = map[Status]int{
	StatusNew:            0,
	StatusOpen:           1,
	StatusRiskAssessed:   2,
	StatusPatchAvailable: 3,
	StatusClosed:         4,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// Before reports whether s comes strictly before other in the lifecycle.
func (s Status) Before(other Status) bool {
	return statusOrder[s] < statusOrder[other]
}

// TrackedFinding is the persistent, deduplicated view of a finding. One
// TrackedFinding is one lifecycle: once CLOSED it is never reopened, a
// re-observed fingerprint starts a new TrackedFinding with a new ID.
type TrackedFinding struct {
	ID               string
	Fingerprint      string
	ProjectKey       string
	VulnerabilityID  string
	Package          string
	InstalledVersion string
	FixedVersion     string
	Severity         Severity
	Status           Status
	FirstSeen        time.Time
	LastSeen         time.Time
	TicketID         string
}

// Active reports whether the finding is still being tracked.
func (f TrackedFinding) Active() bool {
	return f.Status != StatusClosed
}
