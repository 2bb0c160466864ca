package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "cryptobotics/internal/infra/log"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type countingStats struct{ n atomic.Int64 }

func (c *countingStats) IncrementRPCCalls(_ context.Context, n int64) error {
	c.n.Add(n)
	return nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func resultBody(result string) string {
	return `{"jsonrpc":"2.0","id":1,"result":` + result + `}`
}

// fakeNodes answers per host; hosts without a handler fail with 503.
type fakeNodes struct {
	mu       sync.Mutex
	hits     map[string]int
	handlers map[string]func(req rpcRequest) *http.Response
}

func newFakeNodes() *fakeNodes {
	return &fakeNodes{hits: map[string]int{}, handlers: map[string]func(rpcRequest) *http.Response{}}
}

func (f *fakeNodes) Hits(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[host]
}

func (f *fakeNodes) transport() http.RoundTripper {
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.hits[r.URL.Host]++
		h := f.handlers[r.URL.Host]
		f.mu.Unlock()
		if h == nil {
			return jsonResponse(http.StatusServiceUnavailable, `{"error":"down"}`), nil
		}
		return h(req), nil
	})
}

func newTestClient(nodes *fakeNodes, stats Counter, hosts ...string) *Client {
	urls := make([]string, len(hosts))
	for i, h := range hosts {
		urls[i] = "http://" + h
	}
	return NewClient(Options{
		Networks:       []Network{{ID: "ethereum", ChainID: 1, Endpoints: urls}},
		RequestTimeout: time.Second,
		HTTPClient:     &http.Client{Transport: nodes.transport()},
		Counter:        stats,
	})
}

func TestCallFailsOverToLastEndpoint(t *testing.T) {
	t.Parallel()

	nodes := newFakeNodes()
	nodes.handlers["c"] = func(rpcRequest) *http.Response { return jsonResponse(200, resultBody(`"0x1"`)) }
	stats := &countingStats{}
	client := newTestClient(nodes, stats, "a", "b", "c")

	raw, err := client.Call(context.Background(), "ethereum", "eth_blockNumber")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `"0x1"` {
		t.Fatalf("unexpected result: %s", raw)
	}
	if got := client.Pool("ethereum").Cursor(); got != 2 {
		t.Fatalf("unexpected cursor: got %d want 2", got)
	}
	if got := stats.n.Load(); got != 3 {
		t.Fatalf("unexpected rpc call count: got %d want 3", got)
	}
}

func TestCallAllEndpointsFailed(t *testing.T) {
	t.Parallel()

	nodes := newFakeNodes()
	stats := &countingStats{}
	client := newTestClient(nodes, stats, "a", "b", "c")

	_, err := client.Call(context.Background(), "ethereum", "eth_blockNumber")
	if !errors.Is(err, ErrAllEndpointsFailed) {
		t.Fatalf("unexpected error: %v", err)
	}
	var failed *AllEndpointsFailedError
	if !errors.As(err, &failed) || failed.Attempts != 3 || failed.Network != "ethereum" {
		t.Fatalf("unexpected failure detail: %+v", failed)
	}
	if got := stats.n.Load(); got != 3 {
		t.Fatalf("unexpected rpc call count: got %d want 3", got)
	}
	for _, h := range []string{"a", "b", "c"} {
		if nodes.Hits(h) != 1 {
			t.Fatalf("endpoint %s hit %d times, want 1", h, nodes.Hits(h))
		}
	}
}

func TestCallUnsupportedNetwork(t *testing.T) {
	t.Parallel()

	nodes := newFakeNodes()
	stats := &countingStats{}
	client := newTestClient(nodes, stats, "a")

	_, err := client.Call(context.Background(), "solana", "getSlot")
	if !errors.Is(err, ErrUnsupportedNetwork) {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := stats.n.Load(); got != 0 {
		t.Fatalf("unexpected rpc call count: got %d want 0", got)
	}
}

func TestCallRPCErrorFailsOver(t *testing.T) {
	t.Parallel()

	nodes := newFakeNodes()
	nodes.handlers["a"] = func(rpcRequest) *http.Response {
		return jsonResponse(200, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"header not found"}}`)
	}
	nodes.handlers["b"] = func(rpcRequest) *http.Response { return jsonResponse(200, resultBody(`"0x2"`)) }
	client := newTestClient(nodes, nil, "a", "b")

	raw, err := client.Call(context.Background(), "ethereum", "eth_blockNumber")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `"0x2"` {
		t.Fatalf("unexpected result: %s", raw)
	}
}

func TestCallCancelledKeepsCursor(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hitsB atomic.Int64
	client := NewClient(Options{
		Networks:       []Network{{ID: "ethereum", Endpoints: []string{"http://a", "http://b"}}},
		RequestTimeout: time.Second,
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Host == "b" {
				hitsB.Add(1)
				return jsonResponse(200, resultBody(`"0x1"`)), nil
			}
			cancel()
			<-r.Context().Done()
			return nil, r.Context().Err()
		})},
	})

	_, err := client.Call(ctx, "ethereum", "eth_blockNumber")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}
	if errors.Is(err, ErrAllEndpointsFailed) {
		t.Fatalf("cancellation reported as endpoint failure: %v", err)
	}
	if got := client.Pool("ethereum").Cursor(); got != 0 {
		t.Fatalf("cursor moved on cancellation: got %d want 0", got)
	}
	if got := hitsB.Load(); got != 0 {
		t.Fatalf("failed over after cancellation: %d hits on b", got)
	}
}

func TestRPCErrorBodyLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := log.Logger
	log.Logger = zap.New(core)
	t.Cleanup(func() { log.Logger = prev })

	nodes := newFakeNodes()
	nodes.handlers["a"] = func(rpcRequest) *http.Response {
		return jsonResponse(200, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
	}
	client := newTestClient(nodes, nil, "a")

	if _, err := client.Call(context.Background(), "ethereum", "eth_nope"); err == nil {
		t.Fatal("expected error")
	}
	if logs.FilterMessage("RPC error body from http://a").Len() != 1 {
		t.Fatalf("error body not logged, entries: %v", logs.All())
	}
	if logs.FilterMessageSnippet(`"code": -32601`).Len() != 1 {
		t.Fatal("error body not pretty-printed")
	}
}

func TestCursorSticksAfterFailover(t *testing.T) {
	t.Parallel()

	nodes := newFakeNodes()
	nodes.handlers["b"] = func(rpcRequest) *http.Response { return jsonResponse(200, resultBody(`"0x1"`)) }
	client := newTestClient(nodes, nil, "a", "b")

	for i := 0; i < 3; i++ {
		if _, err := client.Call(context.Background(), "ethereum", "eth_blockNumber"); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if got := nodes.Hits("a"); got != 1 {
		t.Fatalf("unexpected hits on failed endpoint: got %d want 1", got)
	}
	if got := nodes.Hits("b"); got != 3 {
		t.Fatalf("unexpected hits on healthy endpoint: got %d want 3", got)
	}
}

func TestCallSendsEmptyParamsArray(t *testing.T) {
	t.Parallel()

	var body []byte
	client := NewClient(Options{
		Networks: []Network{{ID: "bsc", Endpoints: []string{"http://node"}}},
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			body, _ = io.ReadAll(r.Body)
			return jsonResponse(200, resultBody(`"0x3b9aca00"`)), nil
		})},
	})

	price, err := client.GetGasPrice(context.Background(), "bsc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != "1000000000" {
		t.Fatalf("unexpected gas price: %s", price)
	}
	if !bytes.Contains(body, []byte(`"params":[]`)) || !bytes.Contains(body, []byte(`"method":"eth_gasPrice"`)) {
		t.Fatalf("unexpected request body: %s", body)
	}
}

func TestGetTokenBalanceEncodesCall(t *testing.T) {
	t.Parallel()

	const token = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	const wallet = "0x28C6c06298d514Db089934071355E5743bf21d60"

	nodes := newFakeNodes()
	var gotData, gotTo string
	nodes.handlers["a"] = func(req rpcRequest) *http.Response {
		msg := req.Params[0].(map[string]any)
		gotTo, _ = msg["to"].(string)
		gotData, _ = msg["data"].(string)
		return jsonResponse(200, resultBody(`"0x00000000000000000000000000000000000000000000000000000000000f4240"`))
	}
	client := newTestClient(nodes, nil, "a")

	bal, err := client.GetTokenBalance(context.Background(), "ethereum", token, wallet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal != "1000000" {
		t.Fatalf("unexpected balance: %s", bal)
	}
	wantData := "0x70a08231" + strings.Repeat("0", 24) + strings.ToLower(wallet[2:])
	if gotData != wantData {
		t.Fatalf("unexpected call data:\n got %s\nwant %s", gotData, wantData)
	}
	if !strings.EqualFold(gotTo, token) {
		t.Fatalf("unexpected call target: %s", gotTo)
	}
}

func TestGetTokenSupply(t *testing.T) {
	t.Parallel()

	nodes := newFakeNodes()
	nodes.handlers["a"] = func(req rpcRequest) *http.Response {
		if data := req.Params[0].(map[string]any)["data"]; data != "0x18160ddd" {
			return jsonResponse(400, `{}`)
		}
		// 1000 * 10^18
		return jsonResponse(200, resultBody(`"0x00000000000000000000000000000000000000000000003635c9adc5dea00000"`))
	}
	client := newTestClient(nodes, nil, "a")

	supply, err := client.GetTokenSupply(context.Background(), "ethereum", "0xdAC17F958D2ee523a2206206994597C13D831ec7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if supply != "1000000000000000000000" {
		t.Fatalf("unexpected supply: %s", supply)
	}
}

func TestEmptyCallResult(t *testing.T) {
	t.Parallel()

	nodes := newFakeNodes()
	nodes.handlers["a"] = func(rpcRequest) *http.Response { return jsonResponse(200, resultBody(`"0x"`)) }
	client := newTestClient(nodes, nil, "a")

	_, err := client.GetTokenSupply(context.Background(), "ethereum", "0xdAC17F958D2ee523a2206206994597C13D831ec7")
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInvalidAddress(t *testing.T) {
	t.Parallel()

	client := newTestClient(newFakeNodes(), nil, "a")
	if _, err := client.GetEthBalance(context.Background(), "ethereum", "0x123"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetEthBalance(t *testing.T) {
	t.Parallel()

	nodes := newFakeNodes()
	nodes.handlers["a"] = func(req rpcRequest) *http.Response {
		if req.Method != "eth_getBalance" || req.Params[1] != "latest" {
			return jsonResponse(400, `{}`)
		}
		return jsonResponse(200, resultBody(`"0xde0b6b3a7640000"`))
	}
	client := newTestClient(nodes, nil, "a")

	bal, err := client.GetEthBalance(context.Background(), "ethereum", "0x28C6c06298d514Db089934071355E5743bf21d60")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal != "1000000000000000000" {
		t.Fatalf("unexpected balance: %s", bal)
	}
}

func TestCallContractFunctionReturnsRawHex(t *testing.T) {
	t.Parallel()

	nodes := newFakeNodes()
	var gotData string
	nodes.handlers["a"] = func(req rpcRequest) *http.Response {
		gotData, _ = req.Params[0].(map[string]any)["data"].(string)
		return jsonResponse(200, resultBody(`"0x2a"`))
	}
	client := newTestClient(nodes, nil, "a")

	got, err := client.CallContractFunction(context.Background(), "ethereum", "0xdAC17F958D2ee523a2206206994597C13D831ec7", "313ce567", []any{"ignored"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0x2a" {
		t.Fatalf("unexpected result: %s", got)
	}
	if gotData != "0x313ce567" {
		t.Fatalf("unexpected call data: %s", gotData)
	}
}

func TestGetPairPrice(t *testing.T) {
	t.Parallel()

	nodes := newFakeNodes()
	nodes.handlers["a"] = func(rpcRequest) *http.Response {
		// reserve0 = 2e18, reserve1 = 3000e18, timestamp = 1
		word0 := "0000000000000000000000000000000000000000000000001bc16d674ec80000"
		word1 := "0000000000000000000000000000000000000000000000a2a15d09519be00000"
		word2 := "0000000000000000000000000000000000000000000000000000000000000001"
		return jsonResponse(200, resultBody(`"0x`+word0+word1+word2+`"`))
	}
	client := newTestClient(nodes, nil, "a")

	price, err := client.GetPairPrice(context.Background(), "ethereum", "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("unexpected price: %s", price)
	}
}

func TestReserveRatioNoLiquidity(t *testing.T) {
	t.Parallel()

	_, err := ReserveRatio{}.ResolvePrice(context.Background(), "ethereum", "", &Reserves{})
	if !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetLatestBlock(t *testing.T) {
	t.Parallel()

	nodes := newFakeNodes()
	nodes.handlers["a"] = func(req rpcRequest) *http.Response {
		if req.Method != "eth_getBlockByNumber" || req.Params[0] != "latest" || req.Params[1] != false {
			return jsonResponse(400, `{}`)
		}
		return jsonResponse(200, resultBody(`{"number":"0x10","hash":"0x`+strings.Repeat("ab", 32)+`","timestamp":"0x64"}`))
	}
	client := newTestClient(nodes, nil, "a")

	block, err := client.GetLatestBlock(context.Background(), "ethereum")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.Number.ToInt().Int64() != 16 || uint64(block.Timestamp) != 100 {
		t.Fatalf("unexpected block: number=%s timestamp=%d", block.Number, block.Timestamp)
	}
}

func TestWithOverrides(t *testing.T) {
	t.Parallel()

	nets := WithOverrides(DefaultNetworks(), map[string][]string{"bsc": {"http://local"}})
	for _, n := range nets {
		if n.ID == "bsc" && (len(n.Endpoints) != 1 || n.Endpoints[0] != "http://local") {
			t.Fatalf("unexpected bsc endpoints: %v", n.Endpoints)
		}
		if n.ID == "ethereum" && len(n.Endpoints) != 3 {
			t.Fatalf("unexpected ethereum endpoints: %v", n.Endpoints)
		}
	}
}
