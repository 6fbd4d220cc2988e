package notify

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/yourorg/dependency-scanner/internal/model"
)

// ScannerLogger writes scan-job events to the log.
type ScannerLogger struct{ logger logr.Logger }

func NewScannerLogger(logger logr.Logger) *ScannerLogger {
	return &ScannerLogger{logger: logger.WithName("scan-jobs")}
}

func (l *ScannerLogger) Name() string { return "scanner-logger" }

func (l *ScannerLogger) OnScanJobSucceeded(_ context.Context, ev model.Event) error {
	l.logger.Info("scan job succeeded", "jobType", ev.JobType, "project", ev.Project.Key())
	return nil
}

func (l *ScannerLogger) OnScanJobFailed(_ context.Context, ev model.Event) error {
	l.logger.Error(ev.Err, "scan job failed", "jobType", ev.JobType, "project", ev.Project.Key())
	return nil
}

// FindingLogger writes finding events to the log.
type FindingLogger struct{ logger logr.Logger }

func NewFindingLogger(logger logr.Logger) *FindingLogger {
	return &FindingLogger{logger: logger.WithName("findings")}
}

func (l *FindingLogger) Name() string { return "finding-logger" }

func (l *FindingLogger) OnFindingRiskAssessmentNeeded(_ context.Context, ev model.Event) error {
	l.logger.Info("finding needs risk assessment", findingValues(ev)...)
	return nil
}

func (l *FindingLogger) OnFindingPatchVersionAvailable(_ context.Context, ev model.Event) error {
	l.logger.Info("patch version available", findingValues(ev)...)
	return nil
}

func findingValues(ev model.Event) []any {
	kv := []any{"project", ev.Project.Key()}
	if f := ev.Finding; f != nil {
		kv = append(kv,
			"vulnerability", f.VulnerabilityID,
			"package", f.Package,
			"installed", f.InstalledVersion,
			"fixed", f.FixedVersion,
			"severity", f.Severity,
			"ticket", f.TicketID,
		)
	}
	return kv
}
