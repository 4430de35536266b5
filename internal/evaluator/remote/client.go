// Package remote calls the external rule-evaluation service over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/awmpietro/policy-flow/internal/flow"
)

// ErrStatus is wrapped by errors for non-2xx answers.
var ErrStatus = errors.New("unexpected status from evaluation service")

const maxErrorBody = 4 << 10

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	path       string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout sets the per-call timeout. It applies to a copy of the HTTP
// client, so a client passed to WithHTTPClient is left untouched whatever
// the option order.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.timeout = d
	}
}

// WithPath overrides the endpoint path, "/evaluate" by default.
func WithPath(path string) Option {
	return func(cl *Client) {
		cl.path = "/" + strings.TrimLeft(path, "/")
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		path:       "/evaluate",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// Evaluate posts {data, rule} and decodes the service answer as is. A 2xx
// answer that carries an "error" field is returned without a Go error; the
// runner decides what to do with it.
func (c *Client) Evaluate(ctx context.Context, req flow.Request) (*flow.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode evaluation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build evaluation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call evaluation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out flow.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode evaluation response: %w", err)
	}
	return &out, nil
}
