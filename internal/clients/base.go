package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/internal/observability"
	"github.com/uomlabs/uom/internal/version"
	"github.com/uomlabs/uom/pkg/httpclient"
)

// serviceClient is the shared transport for all downstream clients.
type serviceClient struct {
	name         string
	baseURL      string
	apiKey       string
	http         *httpclient.Client
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger
}

// newServiceClient wires a downstream client onto the shared breaker manager.
// Every client talking to the same service name shares one breaker.
func newServiceClient(name string, svcCfg config.ServiceConfig, apiKey string, breakers *httpclient.CircuitBreakerManager, logger *slog.Logger) *serviceClient {
	breaker := breakers.GetOrCreate(name, httpclient.BreakerConfig{
		FailureThreshold: svcCfg.FailureThreshold,
		SuccessThreshold: svcCfg.SuccessThreshold,
		OpenTimeout:      svcCfg.OpenTimeout,
	})

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = svcCfg.Timeout
	httpCfg.UserAgent = version.UserAgent()
	httpCfg.Logger = observability.WithComponent(logger, "httpclient."+name)

	interval := svcCfg.PollInterval
	if interval <= 0 {
		interval = DefaultScanPollInterval
	}

	return &serviceClient{
		name:         name,
		baseURL:      strings.TrimRight(svcCfg.URL, "/"),
		apiKey:       apiKey,
		http:         httpclient.NewWithBreaker(httpCfg, breaker),
		pollInterval: interval,
		timeout:      svcCfg.Timeout,
		logger:       observability.WithComponent(logger, "clients."+name),
	}
}

// url joins a path onto the service base URL.
func (c *serviceClient) url(path string) string {
	return c.baseURL + path
}

// setHeaders applies the internal auth and tracing headers.
func (c *serviceClient) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderInternalService, version.ApplicationName)
	if c.apiKey != "" {
		req.Header.Set(HeaderAPIKey, c.apiKey)
	}
	if cid := observability.CorrelationIDFromContext(ctx); cid != "" {
		req.Header.Set(HeaderCorrelationID, cid)
	}
}

// postJSON POSTs a JSON body and decodes the JSON response into out.
func (c *serviceClient) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(ctx, req)

	return c.doJSON(req, out)
}

// getJSON GETs a URL and decodes the JSON response into out. The URL may be
// absolute (poll URLs returned by the service) or a path on the base URL.
func (c *serviceClient) getJSON(ctx context.Context, rawURL string, out any) error {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = c.url(rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(ctx, req)

	return c.doJSON(req, out)
}

// doJSON executes the request and decodes the response.
func (c *serviceClient) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s returned status %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", c.name, err)
	}
	return nil
}

// Breaker exposes this service's circuit breaker.
func (c *serviceClient) Breaker() *httpclient.CircuitBreaker {
	return c.http.Breaker()
}
