package evm

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// endpoint is one RPC URL with its own limiter and breaker.
type endpoint struct {
	url            string
	rateLimiter    *rate.Limiter
	circuitBreaker *gobreaker.CircuitBreaker
}

// Pool is the ordered endpoint list of one network plus the failover cursor.
// The cursor names the endpoint tried first and only moves on failure.
type Pool struct {
	network   Network
	endpoints []*endpoint

	mu     sync.Mutex
	cursor int
}

type poolSettings struct {
	rateLimit float64
	rateBurst int
}

func newPool(n Network, s poolSettings) *Pool {
	limit := rate.Inf
	if s.rateLimit > 0 {
		limit = rate.Limit(s.rateLimit)
	}
	burst := s.rateBurst
	if burst <= 0 {
		burst = 1
	}

	p := &Pool{network: n}
	for _, u := range n.Endpoints {
		p.endpoints = append(p.endpoints, &endpoint{
			url:         u,
			rateLimiter: rate.NewLimiter(limit, burst),
			circuitBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        n.ID + ":" + u,
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 5
				},
				// JSON-RPC errors come from a healthy node.
				IsSuccessful: func(err error) bool {
					if err == nil {
						return true
					}
					_, ok := err.(*RPCError)
					return ok
				},
			}),
		})
	}
	return p
}

func (p *Pool) Len() int {
	return len(p.endpoints)
}

func (p *Pool) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// URL returns the endpoint URL at index i.
func (p *Pool) URL(i int) string {
	return p.endpoints[i].url
}

// failed moves the cursor past the endpoint at idx.
func (p *Pool) failed(idx int) {
	p.mu.Lock()
	p.cursor = (idx + 1) % len(p.endpoints)
	p.mu.Unlock()
}
