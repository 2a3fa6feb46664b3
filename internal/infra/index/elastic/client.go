// Package elastic is a resilient Elasticsearch client. It spreads calls over
// the configured nodes, fails over when a node stops answering and
// periodically probes failed nodes so they can rejoin.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fscrawl/fscrawl/pkg/common"
	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

// ProbeEvery is the number of calls between two probes of unhealthy nodes
// while at least one node is healthy.
const ProbeEvery = 10

const defaultStartupTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	Nodes    []string
	Username string
	Password string
	APIKey   string
	// StartupTimeout bounds how long Start waits for a reachable node.
	StartupTimeout time.Duration
	// RateLimit caps requests per second across all callers. Zero disables.
	RateLimit float64
	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
}

// nodeHealth is the client's view of one endpoint.
type nodeHealth struct {
	url         string
	healthy     bool
	failures    int
	lastChecked time.Time
}

// Client talks to an Elasticsearch cluster. It is safe for concurrent use.
type Client struct {
	cfg Config

	mu    sync.Mutex
	nodes []*nodeHealth
	next  int

	calls atomic.Uint64

	httpClient *http.Client
	limiter    *common.RateLimiter

	metrics Metrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// New builds a client. All nodes start healthy; Start verifies them.
func New(cfg Config, logger *logger.Logger, tracer trace.Tracer) (*Client, error) {
	if len(cfg.Nodes) == 0 {
		return nil, errors.New("at least one elasticsearch node is required")
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   time.Minute,
		}
	}

	nodes := make([]*nodeHealth, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		nodes = append(nodes, &nodeHealth{url: strings.TrimRight(n, "/"), healthy: true})
	}

	return &Client{
		cfg:        cfg,
		nodes:      nodes,
		httpClient: httpClient,
		limiter:    common.NewRateLimiter(cfg.RateLimit, 1),
		metrics:    nopMetrics{},
		logger:     logger.With("component", "elastic_client"),
		tracer:     tracer,
	}, nil
}

// Start probes every node, retrying with exponential backoff until at least
// one answers or StartupTimeout elapses.
func (c *Client) Start(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "elastic_client.start",
		trace.WithAttributes(attribute.Int("nodes", len(c.nodes))))
	defer span.End()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	expBackoff.MaxElapsedTime = c.cfg.StartupTimeout

	operation := func() error {
		healthy, err := c.probe(ctx, true)
		if errors.Is(err, ErrAuthentication) {
			return backoff.Permanent(err)
		}
		if healthy == 0 {
			c.logger.Warn(ctx, "no elasticsearch node reachable, will retry")
			return ErrAllNodesFailing
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "startup probe failed")
		return fmt.Errorf("connecting to elasticsearch: %w", err)
	}
	c.logger.Info(ctx, "elasticsearch client started", "available_nodes", c.AvailableNodes())
	return nil
}

// AvailableNodes returns the number of nodes currently considered healthy.
func (c *Client) AvailableNodes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, node := range c.nodes {
		if node.healthy {
			n++
		}
	}
	return n
}

// probe sends GET / to unhealthy nodes, or to all nodes when all is set,
// and returns the healthy count afterwards.
func (c *Client) probe(ctx context.Context, all bool) (int, error) {
	c.mu.Lock()
	targets := make([]int, 0, len(c.nodes))
	for i, node := range c.nodes {
		if all || !node.healthy {
			targets = append(targets, i)
		}
	}
	c.mu.Unlock()

	var authErr error
	for _, i := range targets {
		resp, err := c.roundTrip(ctx, c.nodes[i].url, http.MethodGet, "/", nil, "")
		ok := err == nil && resp.status < 300
		if err == nil && isAuthStatus(resp.status) {
			authErr = ErrAuthentication
		}
		c.metrics.IncProbe(ctx, c.nodes[i].url, ok)
		c.setHealth(i, ok)
		if ok {
			c.logger.Info(ctx, "node available", "node", c.nodes[i].url)
		}
	}
	return c.AvailableNodes(), authErr
}

func (c *Client) setHealth(i int, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node := c.nodes[i]
	node.healthy = healthy
	node.lastChecked = time.Now()
	if healthy {
		node.failures = 0
	} else {
		node.failures++
	}
}

// pick returns the next healthy node not yet tried, rotating the start
// position so successive calls spread over the healthy set.
func (c *Client) pick(tried []bool) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.nodes)
	for k := range n {
		i := (c.next + k) % n
		if c.nodes[i].healthy && !tried[i] {
			c.next = (i + 1) % n
			return i, true
		}
	}
	return 0, false
}

type response struct {
	status int
	body   []byte
}

// perform runs one logical call, failing over across healthy nodes. When no
// node is healthy the unhealthy ones are probed first instead of waiting for
// the periodic probe.
func (c *Client) perform(ctx context.Context, method, path string, body []byte, contentType string) (*response, error) {
	if c.calls.Add(1)%ProbeEvery == 0 || c.AvailableNodes() == 0 {
		if _, err := c.probe(ctx, false); err != nil {
			c.logger.Warn(ctx, "probe rejected credentials", "error", err)
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	tried := make([]bool, len(c.nodes))
	var lastErr error
	for {
		i, ok := c.pick(tried)
		if !ok {
			break
		}
		tried[i] = true
		url := c.nodes[i].url

		resp, err := c.roundTrip(ctx, url, method, path, body, contentType)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case isAuthStatus(resp.status):
			return nil, fmt.Errorf("%w: %s %s returned %d", ErrAuthentication, method, path, resp.status)
		case isUnavailableStatus(resp.status):
			lastErr = &ResponseError{Status: resp.status}
		default:
			c.setHealth(i, true)
			return resp, nil
		}

		c.setHealth(i, false)
		c.metrics.IncFailover(ctx, url)
		c.logger.Warn(ctx, "node failed, trying next", "node", url, "error", lastErr)
	}

	if lastErr == nil {
		return nil, ErrAllNodesFailing
	}
	return nil, fmt.Errorf("%w: %v", ErrAllNodesFailing, lastErr)
}

func (c *Client) roundTrip(ctx context.Context, node, method, path string, body []byte, contentType string) (*response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, node+path, rdr)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	switch {
	case c.cfg.APIKey != "":
		req.Header.Set("Authorization", "ApiKey "+c.cfg.APIKey)
	case c.cfg.Username != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", node, err)
	}
	return &response{status: res.StatusCode, body: data}, nil
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func isUnavailableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// errorBody is the error envelope of Elasticsearch responses.
type errorBody struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func responseError(resp *response) *ResponseError {
	e := &ResponseError{Status: resp.status}
	var eb errorBody
	if json.Unmarshal(resp.body, &eb) == nil {
		e.Type = eb.Error.Type
		e.Reason = eb.Error.Reason
	}
	return e
}
