package tracker

import (
	"context"
	"errors"

	"github.com/go-logr/logr"

	"github.com/yourorg/dependency-scanner/internal/model"
	"github.com/yourorg/dependency-scanner/internal/retry"
)

// Retrying decorates a Store so that every call is retried according to a
// retry.Policy before an error is surfaced.
type Retrying struct {
	inner  Store
	policy retry.Policy
	logger logr.Logger
}

var _ Store = (*Retrying)(nil)

func NewRetrying(inner Store, policy retry.Policy, logger logr.Logger) *Retrying {
	return &Retrying{inner: inner, policy: policy, logger: logger}
}

func (r *Retrying) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return r.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrAlreadyTracked), errors.Is(err, ErrNotFound):
			return retry.Permanent(err)
		}
		r.logger.V(1).Info("tracking store call failed", "op", op, "attempt", attempt, "error", err.Error())
		return err
	})
}

func (r *Retrying) FindByFingerprint(ctx context.Context, fp string) (f *model.TrackedFinding, err error) {
	err = r.do(ctx, "find", func(ctx context.Context) error {
		f, err = r.inner.FindByFingerprint(ctx, fp)
		return err
	})
	return f, unwrapPermanent(err)
}

func (r *Retrying) ListActive(ctx context.Context, projectKey string) (out []model.TrackedFinding, err error) {
	err = r.do(ctx, "list", func(ctx context.Context) error {
		out, err = r.inner.ListActive(ctx, projectKey)
		return err
	})
	return out, unwrapPermanent(err)
}

func (r *Retrying) Create(ctx context.Context, f model.TrackedFinding) (stored model.TrackedFinding, created bool, err error) {
	err = r.do(ctx, "create", func(ctx context.Context) error {
		stored, created, err = r.inner.Create(ctx, f)
		return err
	})
	return stored, created, unwrapPermanent(err)
}

func (r *Retrying) Update(ctx context.Context, f model.TrackedFinding) error {
	return unwrapPermanent(r.do(ctx, "update", func(ctx context.Context) error {
		return r.inner.Update(ctx, f)
	}))
}

func (r *Retrying) Close(ctx context.Context, f model.TrackedFinding) error {
	return unwrapPermanent(r.do(ctx, "close", func(ctx context.Context) error {
		return r.inner.Close(ctx, f)
	}))
}

func unwrapPermanent(err error) error {
	if retry.IsPermanent(err) {
		return errors.Unwrap(err)
	}
	return err
}
