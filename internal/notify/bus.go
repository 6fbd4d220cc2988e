// Package notify routes lifecycle events from producers (scan jobs, finding
// reconciliation) to subscribers (console loggers, chat notifiers).
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/yourorg/dependency-scanner/internal/model"
)

// Subscriber is anything registered on a Bus. A subscriber must implement at
// least one of ScannerSubscriber and FindingSubscriber; events of a kind it
// does not handle are skipped.
type Subscriber interface {
	Name() string
}

// ScannerSubscriber handles scan-job lifecycle events.
type ScannerSubscriber interface {
	Subscriber
	OnScanJobSucceeded(ctx context.Context, ev model.Event) error
	OnScanJobFailed(ctx context.Context, ev model.Event) error
}

// FindingSubscriber handles finding lifecycle events.
type FindingSubscriber interface {
	Subscriber
	OnFindingRiskAssessmentNeeded(ctx context.Context, ev model.Event) error
	OnFindingPatchVersionAvailable(ctx context.Context, ev model.Event) error
}

// ErrNotConfigured is returned by Bus.Validate before Configure was called.
var ErrNotConfigured = errors.New("notifier is not configured")

// Bus is a synchronous publish/subscribe dispatcher. Dispatch is serialized,
// so Publish may be called from several goroutines and subscribers never see
// concurrent calls. Slow subscribers delay other publishers, so transports
// must bound the time they spend on one event.
type Bus struct {
	mu          sync.Mutex // guards cfg and subscribers
	cfg         *Config
	subscribers []Subscriber

	dispatchMu sync.Mutex
	logger     logr.Logger
}

func NewBus(logger logr.Logger) *Bus {
	return &Bus{logger: logger}
}

// Configure validates and installs cfg. An invalid config leaves the
// previous one in place.
func (b *Bus) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid notification config: %w", err)
	}
	c := cfg.clone()
	b.mu.Lock()
	b.cfg = &c
	b.mu.Unlock()
	return nil
}

// Validate returns ErrNotConfigured until Configure succeeded.
func (b *Bus) Validate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg == nil {
		return ErrNotConfigured
	}
	return nil
}

// Subscribe appends sub to the delivery order.
func (b *Bus) Subscribe(sub Subscriber) error {
	_, isScanner := sub.(ScannerSubscriber)
	_, isFinding := sub.(FindingSubscriber)
	if !isScanner && !isFinding {
		return fmt.Errorf("subscriber %q handles neither scanner nor finding events", sub.Name())
	}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()
	return nil
}

// Publish delivers ev to every capable subscriber in registration order,
// unless the config suppresses it. Subscriber failures are logged and never
// reach the publisher. It reports whether the event was dispatched.
func (b *Bus) Publish(ctx context.Context, ev model.Event) bool {
	b.mu.Lock()
	cfg, subscribers := b.cfg, b.subscribers
	b.mu.Unlock()

	if cfg == nil || !cfg.Permits(ev) {
		eventsPublished.WithLabelValues(string(ev.Kind), "suppressed").Inc()
		b.logger.V(1).Info("event suppressed", "kind", ev.Kind, "jobType", ev.JobType, "project", ev.Project.Key())
		return false
	}
	eventsPublished.WithLabelValues(string(ev.Kind), "dispatched").Inc()

	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	for _, sub := range subscribers {
		handled, err := deliver(ctx, sub, ev)
		if !handled {
			continue
		}
		if err != nil {
			subscriberFailures.WithLabelValues(sub.Name()).Inc()
			b.logger.Error(err, "subscriber failed to handle event",
				"subscriber", sub.Name(), "kind", ev.Kind, "project", ev.Project.Key())
		}
	}
	return true
}

// deliver calls the handler of sub matching ev.Kind. A panicking subscriber
// is turned into an error.
func deliver(ctx context.Context, sub Subscriber, ev model.Event) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			handled = true
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch ev.Kind {
	case model.EventScanJobSucceeded, model.EventScanJobFailed:
		s, ok := sub.(ScannerSubscriber)
		if !ok {
			return false, nil
		}
		if ev.Kind == model.EventScanJobSucceeded {
			return true, s.OnScanJobSucceeded(ctx, ev)
		}
		return true, s.OnScanJobFailed(ctx, ev)
	case model.EventFindingRiskAssessmentNeeded, model.EventFindingPatchAvailable:
		s, ok := sub.(FindingSubscriber)
		if !ok {
			return false, nil
		}
		if ev.Kind == model.EventFindingRiskAssessmentNeeded {
			return true, s.OnFindingRiskAssessmentNeeded(ctx, ev)
		}
		return true, s.OnFindingPatchVersionAvailable(ctx, ev)
	}
	return false, nil
}
