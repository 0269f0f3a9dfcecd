package broadcast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrGone signals that a subscriber's connection no longer exists. It is a
// distinguished condition handled by pruning, never surfaced as a failure.
var ErrGone = errors.New("subscriber gone")

// Transport delivers a payload to one subscriber.
type Transport interface {
	Send(ctx context.Context, subscriberID string, payload []byte) error
}

const pushTimeout = 10 * time.Second

// PushClient delivers payloads through a connection-management HTTP API:
// POST {endpoint}/connections/{id}. A 410 response maps to ErrGone.
type PushClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// PushOption tweaks a PushClient.
type PushOption func(*PushClient)

// WithPushHTTPClient overrides the HTTP client, mainly for tests.
func WithPushHTTPClient(c *http.Client) PushOption {
	return func(p *PushClient) { p.httpClient = c }
}

// NewPushClient creates a push transport for the given management endpoint.
func NewPushClient(endpoint, token string, opts ...PushOption) *PushClient {
	p := &PushClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: pushTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Send posts the payload to the subscriber's connection.
func (p *PushClient) Send(ctx context.Context, subscriberID string, payload []byte) error {
	target := p.endpoint + "/connections/" + url.PathEscape(subscriberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		return ErrGone
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("push to %s returned status %d", subscriberID, resp.StatusCode)
	}
}
