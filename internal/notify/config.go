package notify

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/yourorg/dependency-scanner/internal/model"
)

// Config decides which events reach subscribers. Job events are configured
// per job type; every job type must have an entry so that a forgotten key
// cannot silently suppress notifications.
type Config struct {
	NotifyOnScanJobSucceeded             map[model.ScanJobType]bool `yaml:"scan_job_succeeded"`
	NotifyOnScanJobFailed                map[model.ScanJobType]bool `yaml:"scan_job_failed"`
	NotifyOnFindingRiskAssessmentNeeded  bool                       `yaml:"finding_risk_assessment_needed"`
	NotifyOnFindingPatchVersionAvailable bool                       `yaml:"finding_patch_version_available"`
}

// ConfigForJobType returns a Config that reports job success and failure only
// for the given job type, and all finding events.
func ConfigForJobType(jobType model.ScanJobType) Config {
	cfg := Config{
		NotifyOnScanJobSucceeded:             make(map[model.ScanJobType]bool, len(model.AllScanJobTypes)),
		NotifyOnScanJobFailed:                make(map[model.ScanJobType]bool, len(model.AllScanJobTypes)),
		NotifyOnFindingRiskAssessmentNeeded:  true,
		NotifyOnFindingPatchVersionAvailable: true,
	}
	for _, jt := range model.AllScanJobTypes {
		cfg.NotifyOnScanJobSucceeded[jt] = jt == jobType
		cfg.NotifyOnScanJobFailed[jt] = jt == jobType
	}
	return cfg
}

// Validate reports every missing or unknown job type at once.
func (c Config) Validate() error {
	var result *multierror.Error
	check := func(field string, m map[model.ScanJobType]bool) {
		if m == nil {
			result = multierror.Append(result, fmt.Errorf("%s is not set", field))
			return
		}
		for _, jt := range model.AllScanJobTypes {
			if _, ok := m[jt]; !ok {
				result = multierror.Append(result, fmt.Errorf("%s has no entry for job type %q", field, jt))
			}
		}
		for jt := range m {
			if _, err := model.ParseScanJobType(string(jt)); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", field, err))
			}
		}
	}
	check("scan_job_succeeded", c.NotifyOnScanJobSucceeded)
	check("scan_job_failed", c.NotifyOnScanJobFailed)
	return result.ErrorOrNil()
}

// Permits reports whether ev may be dispatched.
func (c Config) Permits(ev model.Event) bool {
	switch ev.Kind {
	case model.EventScanJobSucceeded:
		return c.NotifyOnScanJobSucceeded[ev.JobType]
	case model.EventScanJobFailed:
		return c.NotifyOnScanJobFailed[ev.JobType]
	case model.EventFindingRiskAssessmentNeeded:
		return c.NotifyOnFindingRiskAssessmentNeeded
	case model.EventFindingPatchAvailable:
		return c.NotifyOnFindingPatchVersionAvailable
	default:
		return false
	}
}

func (c Config) clone() Config {
	out := c
	out.NotifyOnScanJobSucceeded = make(map[model.ScanJobType]bool, len(c.NotifyOnScanJobSucceeded))
	for k, v := range c.NotifyOnScanJobSucceeded {
		out.NotifyOnScanJobSucceeded[k] = v
	}
	out.NotifyOnScanJobFailed = make(map[model.ScanJobType]bool, len(c.NotifyOnScanJobFailed))
	for k, v := range c.NotifyOnScanJobFailed {
		out.NotifyOnScanJobFailed[k] = v
	}
	return out
}
