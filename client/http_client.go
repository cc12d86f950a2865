package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultRetries        = 3
	DefaultRetryDelay     = 500 * time.Millisecond

	apiVersion = "v1"
)

// ErrInvalidConfig is returned when the collector endpoint or project is unusable.
var ErrInvalidConfig = errors.New("invalid collector configuration")

// Config holds the HTTP collector settings.
type Config struct {
	Endpoint       string
	Project        string
	APIKey         string
	RequestTimeout time.Duration
	RateLimit      float64 // Requests per second, 0 disables limiting
	Retries        uint
	RetryDelay     time.Duration
}

// Check validates the endpoint and project.
func (c Config) Check() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: endpoint %q: %v", ErrInvalidConfig, c.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: endpoint %q must be http or https", ErrInvalidConfig, c.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: endpoint %q has no host", ErrInvalidConfig, c.Endpoint)
	}
	if strings.TrimSpace(c.Project) == "" {
		return fmt.Errorf("%w: project is required", ErrInvalidConfig)
	}
	if strings.Contains(c.Project, "/") {
		return fmt.Errorf("%w: project %q must not contain '/'", ErrInvalidConfig, c.Project)
	}
	return nil
}

// StatusError is returned for non-2xx collector responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: collector returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// HTTPClient implements Collector over the collector's REST API.
type HTTPClient struct {
	log        log.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retries    uint
	retryDelay time.Duration
	tracer     trace.Tracer
}

var _ Collector = (*HTTPClient)(nil)

// NewHTTPClient validates cfg and builds a client.
func NewHTTPClient(cfg Config, logger log.Logger) (*HTTPClient, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}

	base := strings.TrimRight(cfg.Endpoint, "/")
	return &HTTPClient{
		log:        logger.New("component", "collector-client"),
		baseURL:    fmt.Sprintf("%s/api/%s/%s", base, apiVersion, url.PathEscape(cfg.Project)),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    limiter,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		tracer:     otel.Tracer("report collector"),
	}, nil
}

func (c *HTTPClient) StartLaunch(ctx context.Context, req types.StartLaunchRequest) (string, error) {
	var resp types.EntryCreated
	if err := c.call(ctx, "start launch", http.MethodPost, "/launch", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *HTTPClient) FinishLaunch(ctx context.Context, launchID string, req types.FinishLaunchRequest) (string, error) {
	var resp types.OperationCompleted
	path := fmt.Sprintf("/launch/%s/finish", url.PathEscape(launchID))
	if err := c.call(ctx, "finish launch", http.MethodPut, path, req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *HTTPClient) StartItem(ctx context.Context, parentID string, req types.StartItemRequest) (string, error) {
	path := "/item"
	if parentID != "" {
		path = "/item/" + url.PathEscape(parentID)
	}
	var resp types.EntryCreated
	if err := c.call(ctx, "start item", http.MethodPost, path, req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *HTTPClient) UpdateItem(ctx context.Context, itemID string, req types.UpdateItemRequest) error {
	path := fmt.Sprintf("/item/%s/update", url.PathEscape(itemID))
	return c.call(ctx, "update item", http.MethodPut, path, req, nil)
}

func (c *HTTPClient) FinishItem(ctx context.Context, itemID string, req types.FinishItemRequest) (string, error) {
	var resp types.OperationCompleted
	path := fmt.Sprintf("/item/%s/finish", url.PathEscape(itemID))
	if err := c.call(ctx, "finish item", http.MethodPut, path, req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *HTTPClient) AddLog(ctx context.Context, req types.LogRequest) error {
	return c.call(ctx, "add log", http.MethodPost, "/log", req, nil)
}

// call sends one request, retrying network errors and 5xx responses.
func (c *HTTPClient) call(ctx context.Context, name, method, path string, body any, out any) error {
	ctx, span := c.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("collector.path", path),
	))
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", name, err)
	}

	attempt := 0
	err = retry.Do(
		func() error {
			attempt++
			return c.do(ctx, method, path, payload, out)
		},
		retry.Context(ctx),
		retry.Attempts(c.retries+1),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("Retrying collector call", "call", name, "attempt", n+1, "err", err)
		}),
	)
	span.SetAttributes(attribute.Int("collector.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return retry.Unrecoverable(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return statusErr
		}
		return retry.Unrecoverable(statusErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
