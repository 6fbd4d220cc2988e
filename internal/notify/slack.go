package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/yourorg/dependency-scanner/internal/retry"
)

const defaultSlackBudget = 15 * time.Second

// SlackWebhook posts messages to a Slack incoming webhook.
type SlackWebhook struct {
	url    string
	budget time.Duration
	client *http.Client
	policy retry.Policy
	logger logr.Logger
}

// NewSlackWebhook creates a transport for the given webhook URL. budget
// bounds all attempts for one message together; zero selects 15 seconds.
func NewSlackWebhook(url string, budget time.Duration, policy retry.Policy, logger logr.Logger) *SlackWebhook {
	if budget <= 0 {
		budget = defaultSlackBudget
	}
	return &SlackWebhook{
		url:    url,
		budget: budget,
		client: &http.Client{Timeout: budget},
		policy: policy,
		logger: logger.WithName("slack"),
	}
}

func (s *SlackWebhook) Name() string { return "slack" }

type slackPayload struct {
	Text string `json:"text"`
}

// Send posts msg, retrying on network errors, 429 and 5xx responses until
// the budget is spent. Other 4xx responses fail immediately.
func (s *SlackWebhook) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	body, err := json.Marshal(slackPayload{Text: msg.Text})
	if err != nil {
		return &TransportError{Transport: s.Name(), Kind: msg.Kind, Cause: err}
	}

	attempt := 0
	err = s.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		err := s.sendOnce(ctx, body)
		if err != nil {
			s.logger.Error(err, "webhook attempt failed", "attempt", attempt, "kind", msg.Kind)
		}
		return err
	})
	if err != nil {
		return &TransportError{Transport: s.Name(), Kind: msg.Kind, Cause: err}
	}
	if attempt > 1 {
		s.logger.Info("webhook succeeded after retry", "attempt", attempt, "kind", msg.Kind)
	}
	return nil
}

func (s *SlackWebhook) sendOnce(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.V(1).Info("webhook sent", "status", resp.StatusCode)
		return nil
	}
	err = fmt.Errorf("webhook returned non-success status: %d, body: %s", resp.StatusCode, respBody)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return retry.Permanent(err)
}
