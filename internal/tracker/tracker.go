// Package tracker defines the tracking-store collaborator that owns the
// persistent state of tracked findings and their external tickets.
package tracker

import (
	"context"
	"errors"

	"github.com/yourorg/dependency-scanner/internal/model"
)

// ErrAlreadyTracked is returned by Store.Create implementations that cannot
// resolve a duplicate create on their own. Callers treat it as "update
// instead".
var ErrAlreadyTracked = errors.New("an active finding with this fingerprint is already tracked")

// ErrNotFound is returned by Update and Close for an unknown finding ID.
var ErrNotFound = errors.New("tracked finding not found")

// Store is the tracking-store collaborator. Implementations must be safe for
// concurrent use and idempotent under retry.
type Store interface {
	// FindByFingerprint returns the active finding for fp, or nil if there is
	// none.
	FindByFingerprint(ctx context.Context, fp string) (*model.TrackedFinding, error)
	// ListActive returns all active findings of one project.
	ListActive(ctx context.Context, projectKey string) ([]model.TrackedFinding, error)
	// Create persists a new finding, opens its ticket and returns the stored
	// record with created set. If an active finding with the same fingerprint
	// exists, nothing is written and that finding is returned unchanged with
	// created unset; callers apply their changes to it through Update.
	Create(ctx context.Context, f model.TrackedFinding) (stored model.TrackedFinding, created bool, err error)
	Update(ctx context.Context, f model.TrackedFinding) error
	// Close marks the finding CLOSED and closes its ticket. Closing an
	// already closed finding is a no-op.
	Close(ctx context.Context, f model.TrackedFinding) error
}
