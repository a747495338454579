package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"classifieds/internal/common/logging"
	"classifieds/internal/common/metrics"
)

const (
	headerAPIKey        = "x-api-key"
	headerCorrelationID = "X-Correlation-ID"

	// maxErrorBody bounds how much of a failed response is kept for the error message.
	maxErrorBody = 512
)

// Call describes one outbound request. Every per-request value lives here so
// a Client can be shared by concurrent workflows.
type Call struct {
	// Operation names the call in metrics and errors.
	Operation string
	Method    string
	Path      string
	Query     url.Values
	// Token is the caller's bearer credential. Empty means the call is made
	// with service credentials only and no Authorization header is sent.
	Token       string
	Body        []byte
	ContentType string
}

// StatusError is returned when a collaborator answers with a non-2xx status.
type StatusError struct {
	Service   string
	Operation string
	Status    int
	Body      string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Service, e.Operation, e.Status, e.Body)
}

// Client sends Calls to one collaborating service.
// Safe for concurrent use.
type Client struct {
	service    string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the service reachable at baseURL.
// Every request carries apiKey and is bounded by timeout. Outbound requests
// are traced and carry the caller's trace context.
func NewClient(service, baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Do sends call and decodes a JSON response into out when out is non-nil.
// Non-2xx responses are returned as *StatusError.
func (c *Client) Do(ctx context.Context, call Call, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordRemoteCall(c.service, call.Operation, err, time.Since(start))
	}()

	req, err := c.newRequest(ctx, call)
	if err != nil {
		return fmt.Errorf("%s %s: create request: %w", c.service, call.Operation, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.service, call.Operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Service:   c.service,
			Operation: call.Operation,
			Status:    resp.StatusCode,
			Body:      strings.TrimSpace(string(body)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("%s %s: decode response: %w", c.service, call.Operation, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, call Call) (*http.Request, error) {
	target := c.baseURL + call.Path
	if len(call.Query) > 0 {
		target += "?" + call.Query.Encode()
	}

	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, target, body)
	if err != nil {
		return nil, err
	}

	if call.ContentType != "" {
		req.Header.Set("Content-Type", call.ContentType)
	}
	if call.Token != "" {
		req.Header.Set("Authorization", "Bearer "+call.Token)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	if id := logging.CorrelationIDFromContext(ctx); !id.IsEmpty() {
		req.Header.Set(headerCorrelationID, id.String())
	}
	return req, nil
}
