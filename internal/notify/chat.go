package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/dependency-scanner/internal/model"
)

// Transport delivers a formatted event to an external chat system.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// TransportError is returned when a chat transport gave up on a message.
type TransportError struct {
	Transport string
	Kind      model.EventKind
	Cause     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport could not deliver %s: %s", e.Transport, e.Kind, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Message is the transport-neutral rendering of an event.
type Message struct {
	Kind model.EventKind
	Text string
}

// FormatMessage renders ev as a single chat message.
func FormatMessage(ev model.Event) Message {
	p := ev.Project
	where := fmt.Sprintf("*%s* (`%s`)", p.Name, p.Path)
	if p.Link != "" {
		where = fmt.Sprintf("<%s|%s> (`%s`)", p.Link, p.Name, p.Path)
	}

	var b strings.Builder
	switch ev.Kind {
	case model.EventScanJobSucceeded:
		fmt.Fprintf(&b, ":white_check_mark: %s scan of %s succeeded", ev.JobType, where)
	case model.EventScanJobFailed:
		fmt.Fprintf(&b, ":x: %s scan of %s failed", ev.JobType, where)
		if ev.Err != nil {
			fmt.Fprintf(&b, ": %s", ev.Err)
		}
	case model.EventFindingRiskAssessmentNeeded, model.EventFindingPatchAvailable:
		f := ev.Finding
		if f == nil {
			fmt.Fprintf(&b, "%s for %s", ev.Kind, where)
			break
		}
		if ev.Kind == model.EventFindingRiskAssessmentNeeded {
			fmt.Fprintf(&b, ":warning: %s finding %s in %s %s of %s needs risk assessment",
				f.Severity, f.VulnerabilityID, f.Package, f.InstalledVersion, where)
		} else {
			fmt.Fprintf(&b, ":adhesive_bandage: %s %s fixes %s of %s",
				f.Package, f.FixedVersion, f.VulnerabilityID, where)
		}
		if f.TicketID != "" {
			fmt.Fprintf(&b, " (ticket %s)", f.TicketID)
		}
	default:
		fmt.Fprintf(&b, "%s for %s", ev.Kind, where)
	}
	return Message{Kind: ev.Kind, Text: b.String()}
}

// ChatNotifier forwards every event it receives to a Transport.
type ChatNotifier struct {
	transport Transport
}

func NewChatNotifier(t Transport) *ChatNotifier {
	return &ChatNotifier{transport: t}
}

func (c *ChatNotifier) Name() string { return "chat:" + c.transport.Name() }

func (c *ChatNotifier) OnScanJobSucceeded(ctx context.Context, ev model.Event) error {
	return c.send(ctx, ev)
}

func (c *ChatNotifier) OnScanJobFailed(ctx context.Context, ev model.Event) error {
	return c.send(ctx, ev)
}

func (c *ChatNotifier) OnFindingRiskAssessmentNeeded(ctx context.Context, ev model.Event) error {
	return c.send(ctx, ev)
}

func (c *ChatNotifier) OnFindingPatchVersionAvailable(ctx context.Context, ev model.Event) error {
	return c.send(ctx, ev)
}

func (c *ChatNotifier) send(ctx context.Context, ev model.Event) error {
	err := c.transport.Send(ctx, FormatMessage(ev))
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Transport: c.transport.Name(), Kind: ev.Kind, Cause: err}
}
