package farmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/farmops/pondsync/pkg/telemetry"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 1 << 20

// Config configures a Client.
type Config struct {
	BaseURL     string
	Credentials Credentials
	Timeout     time.Duration

	// HTTPClient overrides the transport. Timeout is ignored when set.
	HTTPClient *http.Client

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

// Client performs typed calls against the FarmBot web API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *Session
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
}

// NewClient creates a client and its session.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Credentials.Email == "" || cfg.Credentials.Password == "" {
		return nil, fmt.Errorf("account email and password are required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	session := NewSession(baseURL, cfg.Credentials, httpClient)
	metrics := cfg.Metrics
	session.onRefresh = func(ok bool) {
		metrics.RecordAuthRefresh(ok)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		session:    session,
		logger:     cfg.Logger.With().Str("component", "farmapi").Logger(),
		metrics:    metrics,
		tracer:     otel.Tracer("github.com/farmops/pondsync/pkg/farmapi"),
	}, nil
}

// Session returns the session shared by this client's calls.
func (c *Client) Session() *Session {
	return c.session
}

// Get fetches a single resource into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// List fetches a collection into out.
func (c *Client) List(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Create posts body to a collection and decodes the created resource into out.
func (c *Client) Create(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Patch updates a resource and decodes the result into out.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, path, body, out)
}

// Delete removes a resource.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// do runs one logical call. A 401 refreshes the session once and repeats the
// same request; anything still failing is returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	ctx, span := c.tracer.Start(ctx, "farmapi."+strings.ToLower(method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("farmapi.path", path),
		),
	)
	defer span.End()

	for attempt := 0; ; attempt++ {
		token, err := c.session.Token(ctx)
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("authenticate: %w", err)
		}

		status, raw, err := c.send(ctx, method, path, token, payload)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}

		if status == http.StatusUnauthorized && attempt == 0 {
			c.logger.Debug().
				Str("method", method).
				Str("path", path).
				Msg("Token rejected, refreshing session")
			if _, err := c.session.Refresh(ctx); err != nil {
				telemetry.RecordError(span, err)
				return fmt.Errorf("re-authenticate: %w", err)
			}
			continue
		}

		span.SetAttributes(attribute.Int("http.status_code", status))
		if status/100 != 2 {
			apiErr := &APIError{
				Method:     method,
				Path:       path,
				StatusCode: status,
				Body:       strings.TrimSpace(string(raw)),
			}
			telemetry.RecordError(span, apiErr)
			return apiErr
		}

		if out != nil && len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				telemetry.RecordError(span, err)
				return fmt.Errorf("decode %s %s: %w", method, path, err)
			}
		}
		telemetry.RecordSuccess(span)
		return nil
	}
}

func (c *Client) send(ctx context.Context, method, path, token string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRemoteCall(method, resourceOf(path), 0, time.Since(start))
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := readBody(resp)
	c.metrics.RecordRemoteCall(method, resourceOf(path), resp.StatusCode, time.Since(start))
	if err != nil {
		return 0, nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}

	c.logger.Trace().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Remote call")
	return resp.StatusCode, raw, nil
}

// readBody reads a response body. Only error bodies are capped; listings
// on large accounts can exceed maxErrorBody.
func readBody(resp *http.Response) ([]byte, error) {
	if resp.StatusCode/100 == 2 {
		return io.ReadAll(resp.Body)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
}

// resourceOf maps "/api/points/12" to "points" for metric labels.
func resourceOf(path string) string {
	p := strings.TrimPrefix(path, "/api/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}
