// Package db holds the OxiDB connection pool backing the attempt ledger.
package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ethereum/esp-website-sub001/internal/oxidb"
)

const (
	dialTimeout       = 5 * time.Second
	keepaliveInterval = 10 * time.Second
)

// Pool is a round-robin connection pool for OxiDB with auto-reconnect.
type Pool struct {
	addr    string
	log     *zap.Logger
	clients []*oxidb.Client
	mu      sync.RWMutex
	idx     uint64
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewPool opens size connections to addr and starts the keepalive loop.
func NewPool(ctx context.Context, addr string, size int, log *zap.Logger) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		addr:    addr,
		log:     log,
		clients: make([]*oxidb.Client, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		c, err := p.dial(ctx)
		if err != nil {
			p.closeClients()
			return nil, fmt.Errorf("pool: connect client %d: %w", i, err)
		}
		p.clients[i] = c
	}
	go p.keepalive()
	return p, nil
}

func (p *Pool) dial(ctx context.Context) (*oxidb.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return oxidb.Connect(ctx, p.addr)
}

// Get returns the next client in round-robin order.
func (p *Pool) Get() *oxidb.Client {
	n := atomic.AddUint64(&p.idx, 1)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clients[n%uint64(len(p.clients))]
}

// Ping checks one connection.
func (p *Pool) Ping(ctx context.Context) error {
	_, err := p.Get().Ping(ctx)
	return err
}

func (p *Pool) reconnect(i int) {
	c, err := p.dial(context.Background())
	if err != nil {
		p.log.Warn("oxidb reconnect failed", zap.Int("client", i), zap.Error(err))
		return
	}
	p.mu.Lock()
	old := p.clients[i]
	p.clients[i] = c
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (p *Pool) keepalive() {
	defer close(p.done)
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			for i := range p.clients {
				p.mu.RLock()
				c := p.clients[i]
				p.mu.RUnlock()
				ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
				_, err := c.Ping(ctx)
				cancel()
				if err != nil {
					p.log.Warn("oxidb ping failed, reconnecting", zap.Int("client", i), zap.Error(err))
					p.reconnect(i)
				}
			}
		}
	}
}

// Close stops the keepalive loop and closes all connections.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.stop)
		<-p.done
		p.closeClients()
	})
}

func (p *Pool) closeClients() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if c != nil {
			c.Close()
		}
	}
}
