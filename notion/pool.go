package notion

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/sony/gobreaker"
)

// Pool hands out one Client per integration token so the limiter and breaker
// state is shared by every caller using that token. Clients live for the
// process lifetime.
type Pool struct {
	mu      sync.Mutex
	opts    Options
	clients map[string]*Client
}

// NewPool returns a pool whose clients share opts (and opts.Cache).
func NewPool(opts Options) *Pool {
	if opts.Cache == nil {
		opts.Cache = NewDataSourceCache()
	}
	return &Pool{opts: opts, clients: make(map[string]*Client)}
}

// Client returns the pooled client for apiKey, creating it on first use.
func (p *Pool) Client(apiKey string) *Client {
	sum := sha256.Sum256([]byte(apiKey))
	k := hex.EncodeToString(sum[:])
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[k]; ok {
		return c
	}
	c := NewClient(apiKey, p.opts)
	p.clients[k] = c
	return c
}

// Cache exposes the shared query-handle cache.
func (p *Pool) Cache() *DataSourceCache { return p.opts.Cache }

// OpenBreakers counts pooled clients whose circuit breaker is open.
func (p *Pool) OpenBreakers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.clients {
		if c.breaker.State() == gobreaker.StateOpen {
			n++
		}
	}
	return n
}
