// Package scanner wraps the invocation of an external vulnerability scanner
// for a single project.
package scanner

import (
	"context"
	"fmt"

	"github.com/yourorg/dependency-scanner/internal/model"
)

// Scanner scans one project. Every failure, including a timeout, is returned
// as a *ScanError; implementations never panic across this boundary and do
// not retry.
type Scanner interface {
	Scan(ctx context.Context, p model.Project) ([]model.RawFinding, error)
}

// ScanError is the failure of a single scan tool invocation.
type ScanError struct {
	Project model.Project
	Cause   error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan of %s failed: %v", e.Project.Key(), e.Cause)
}

func (e *ScanError) Unwrap() error { return e.Cause }

// Func adapts a plain function to the Scanner interface.
type Func func(ctx context.Context, p model.Project) ([]model.RawFinding, error)

func (f Func) Scan(ctx context.Context, p model.Project) ([]model.RawFinding, error) {
	return f(ctx, p)
}
