package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RetryPolicy retries a failed call with a linearly growing delay.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// PermanentError marks a failure that a retry cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns a PermanentError, the retries are exhausted,
// or ctx is done.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) || i == r.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(r.BaseDelay * time.Duration(i+1)):
		}
	}
	return err
}

// WebhookConfig configures a WebhookDispatcher.
type WebhookConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	Retry   RetryPolicy
}

// WebhookDispatcher POSTs notifications as JSON to a messaging service.
type WebhookDispatcher struct {
	cfg  WebhookConfig
	http *http.Client
}

func NewWebhookDispatcher(cfg WebhookConfig) *WebhookDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebhookDispatcher{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (d *WebhookDispatcher) Send(ctx context.Context, n Notification) error {
	if n.Recipient == "" {
		return ErrNoRecipient
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return d.cfg.Retry.Do(ctx, func() error {
		return d.post(ctx, b)
	})
}

func (d *WebhookDispatcher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		return nil
	}
	statusErr := responseError(resp)
	if retryableStatus(resp.StatusCode) {
		return statusErr
	}
	return &PermanentError{Err: statusErr}
}

func responseError(resp *http.Response) error {
	msg, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("messaging service error: %s (failed to read body: %v)", resp.Status, err)
	}
	return fmt.Errorf("messaging service error: %s: %s", resp.Status, bytes.TrimSpace(msg))
}

// retryableStatus reports whether a failed response may succeed on a later attempt.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
