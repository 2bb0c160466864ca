package evm

// JSON-RPC transport with per-network endpoint failover.
// One logical Call walks the pool starting at the cursor and tries each endpoint at most once.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"cryptobotics/internal/infra/log"
	"cryptobotics/internal/infra/retry"

	"go.uber.org/zap"
)

// Counter receives one increment per endpoint attempt.
type Counter interface {
	IncrementRPCCalls(ctx context.Context, n int64) error
}

type Options struct {
	Networks        []Network
	RequestTimeout  time.Duration
	RateLimit       float64
	RateBurst       int
	MaxResponseSize int64
	HTTPClient      *http.Client
	Counter         Counter
	PriceResolver   PriceResolver
}

// Client is the blockchain client shared by every bot.
type Client struct {
	pools           map[string]*Pool
	httpClient      *http.Client
	counter         Counter
	prices          PriceResolver
	requestTimeout  time.Duration
	maxResponseSize int64
	nextID          atomic.Int64
}

func NewClient(opts Options) *Client {
	if opts.Networks == nil {
		opts.Networks = DefaultNetworks()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.MaxResponseSize <= 0 {
		opts.MaxResponseSize = 10 * 1024 * 1024 // 10MB
	}
	if opts.PriceResolver == nil {
		opts.PriceResolver = ReserveRatio{}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: false,
				MaxIdleConns:      20,
				IdleConnTimeout:   90 * time.Second,
			},
		}
	}

	c := &Client{
		pools:           make(map[string]*Pool, len(opts.Networks)),
		httpClient:      httpClient,
		counter:         opts.Counter,
		prices:          opts.PriceResolver,
		requestTimeout:  opts.RequestTimeout,
		maxResponseSize: opts.MaxResponseSize,
	}
	for _, n := range opts.Networks {
		if len(n.Endpoints) == 0 {
			continue
		}
		c.pools[n.ID] = newPool(n, poolSettings{rateLimit: opts.RateLimit, rateBurst: opts.RateBurst})
	}
	return c
}

// Pool returns the endpoint pool for network, or nil.
func (c *Client) Pool(network string) *Pool {
	return c.pools[network]
}

// Networks lists the supported network ids in sorted order.
func (c *Client) Networks() []string {
	ids := make([]string, 0, len(c.pools))
	for id := range c.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Call performs one logical JSON-RPC call on network. Transport, HTTP and RPC
// errors move the cursor to the next endpoint; after every endpoint failed once
// the walk stops with *AllEndpointsFailedError.
func (c *Client) Call(ctx context.Context, network, method string, params ...any) (json.RawMessage, error) {
	pool, ok := c.pools[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}
	if params == nil {
		params = []any{}
	}

	n := pool.Len()
	start := pool.Cursor()
	var lastErr error

	for attempt := 0; attempt < n; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		idx := (start + attempt) % n
		ep := pool.endpoints[idx]

		c.countAttempt(ctx, network)

		result, err := c.attempt(ctx, ep, method, params)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		}
		lastErr = err
		pool.failed(idx)

		log.LogWarn("RPC endpoint failed, failing over",
			zap.String("network", network),
			zap.String("endpoint", ep.url),
			zap.String("method", method),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	log.LogError("All RPC endpoints failed",
		zap.String("network", network),
		zap.String("method", method),
		zap.Int("attempts", n))
	return nil, &AllEndpointsFailedError{Network: network, Attempts: n, Last: lastErr}
}

func (c *Client) countAttempt(ctx context.Context, network string) {
	if c.counter == nil {
		return
	}
	if err := c.counter.IncrementRPCCalls(ctx, 1); err != nil {
		log.LogWarn("Failed to record RPC call", zap.String("network", network), zap.Error(err))
	}
}

// attempt runs one request against ep under its own timeout, limiter and breaker.
func (c *Client) attempt(ctx context.Context, ep *endpoint, method string, params []any) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if err := ep.rateLimiter.Wait(attemptCtx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var result json.RawMessage
	_, err := ep.circuitBreaker.Execute(func() (interface{}, error) {
		r, err := c.doRequest(attemptCtx, ep.url, method, params)
		if err != nil {
			return nil, err
		}
		result = r
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, url, method string, params []any) (json.RawMessage, error) {
	requestID := log.GenerateRequestID()
	startTime := time.Now()

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.LogRequest(requestID, method, url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.LogResponse(requestID, 0, time.Since(startTime).Milliseconds(), zap.String("endpoint", url), zap.Error(err))
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize))
	duration := time.Since(startTime).Milliseconds()
	if err != nil {
		log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", url), zap.Error(err))
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.LogResponse(requestID, resp.StatusCode, duration, zap.String("endpoint", url))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.LogJSON(body, "RPC error body from "+url)
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       truncate(body, 256),
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		log.LogJSON(body, "RPC error body from "+url)
		return nil, rpcResp.Error
	}
	if len(rpcResp.Result) == 0 {
		return nil, fmt.Errorf("RPC response has neither result nor error")
	}
	return rpcResp.Result, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
