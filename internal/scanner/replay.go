package scanner

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/yourorg/dependency-scanner/internal/model"
)

// ReportSource returns the newest archived report below a key prefix.
type ReportSource interface {
	LatestReport(ctx context.Context, prefix string) (key string, data []byte, err error)
}

// Replay is a Scanner that reads the latest archived Trivy report of a
// project instead of building and scanning its image. It is used to
// re-reconcile findings after the tracking store was reset or migrated.
type Replay struct {
	source ReportSource
	logger logr.Logger
}

var _ Scanner = (*Replay)(nil)

func NewReplay(source ReportSource, logger logr.Logger) *Replay {
	return &Replay{source: source, logger: logger}
}

func (r *Replay) Scan(ctx context.Context, p model.Project) ([]model.RawFinding, error) {
	key, data, err := r.source.LatestReport(ctx, ReportPrefix(p))
	if err != nil {
		return nil, &ScanError{Project: p, Cause: fmt.Errorf("no archived report: %w", err)}
	}
	findings, err := parseTrivyReport(data, p)
	if err != nil {
		return nil, &ScanError{Project: p, Cause: fmt.Errorf("report %s: %w", key, err)}
	}
	r.logger.Info("replayed archived report", "project", p.Key(), "key", key, "findings", len(findings))
	return findings, nil
}
