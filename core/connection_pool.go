package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// connectionPool manages a single node's pooled connections: an idle
// stack bounded by maxConns, background eviction of connections idle past
// idleTTL, and authentication of freshly dialed sockets (§4.4).
type connectionPool struct {
	address string
	auth    authProvider
	log     *logrus.Entry

	mu           sync.Mutex
	idle         []*connection
	open         int
	maxConns     int
	idleTTL      time.Duration
	loginTimeout time.Duration
	closing      chan struct{}
	closeOnce    sync.Once
}

func newConnectionPool(address string, maxConns int, auth authProvider, log *logrus.Entry) *connectionPool {
	if auth == nil {
		auth = noAuthProvider{}
	}
	p := &connectionPool{
		address:      address,
		auth:         auth,
		log:          log,
		maxConns:     maxConns,
		idleTTL:      55 * time.Second,
		loginTimeout: 1 * time.Second,
		closing:      make(chan struct{}),
	}
	go p.reaper()
	return p
}

// get returns an idle connection or, while fewer than maxConns are open,
// dials and authenticates a new one; with no idle connection and no spare
// capacity it fails at once with errPoolExhausted (§4.4).
func (p *connectionPool) get(ctx context.Context, timeout time.Duration) (*connection, error) {
	p.mu.Lock()
	n := len(p.idle)
	if n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		c.lastUsedAt = time.Now()
		return c, nil
	}
	if p.maxConns > 0 && p.open >= p.maxConns {
		p.mu.Unlock()
		return nil, fmt.Errorf("core: connection pool for %s: %w", p.address, errPoolExhausted)
	}
	p.open++
	p.mu.Unlock()

	c, err := dialConnection(ctx, p.address, p.loginTimeout)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		return nil, err
	}
	if err := p.auth.authenticate(ctx, c, timeout); err != nil {
		c.close()
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// put returns a healthy connection to the idle stack, or closes it if the
// pool is already at capacity.
func (p *connectionPool) put(c *connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxConns > 0 && len(p.idle) >= p.maxConns {
		c.close()
		p.open--
		return
	}
	c.lastUsedAt = time.Now()
	p.idle = append(p.idle, c)
}

// closeAll tears down every idle connection and stops the reaper. Open
// connections currently on loan close themselves when returned unhealthy.
func (p *connectionPool) closeAll() {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, c := range p.idle {
			c.close()
		}
		p.idle = nil
		p.open = 0
	})
}

func (p *connectionPool) stats() (idle, open int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), p.open
}

func (p *connectionPool) reaper() {
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-p.idleTTL)
			p.mu.Lock()
			i := 0
			for _, c := range p.idle {
				if c.lastUsedAt.Before(cutoff) {
					c.close()
					p.open--
					continue
				}
				p.idle[i] = c
				i++
			}
			p.idle = p.idle[:i]
			p.mu.Unlock()
		case <-p.closing:
			return
		}
	}
}

var errPoolExhausted = fmt.Errorf("connection pool exhausted")
