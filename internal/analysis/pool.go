package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
)

var ErrPoolClosed = errors.New("engine pool closed")

type PoolConfig struct {
	BinaryPath string
	Options    Options
	Capacity   int
}

// Pool keeps up to Capacity engine processes and hands them out one search
// at a time. Engines are started lazily.
type Pool struct {
	path string
	opt  Options
	cap  int

	mu     sync.Mutex
	total  int
	closed bool
	idle   chan *Engine
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("stockfish binary check: %w", err)
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = min(max(runtime.NumCPU(), 2), 4)
	}
	return &Pool{path: cfg.BinaryPath, opt: cfg.Options, cap: capacity, idle: make(chan *Engine, capacity)}, nil
}

// Search runs req on a pooled engine. An engine that fails is discarded.
func (p *Pool) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	e, err := p.acquire(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	res, err := e.Search(ctx, req)
	p.release(e, err)
	return res, err
}

func (p *Pool) acquire(ctx context.Context) (*Engine, error) {
	for {
		select {
		case e := <-p.idle:
			if err := e.Ready(ctx); err != nil {
				p.discard(e)
				continue
			}
			return e, nil
		default:
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if p.total < p.cap {
			p.total++
			p.mu.Unlock()
			e, err := StartEngine(context.Background(), p.path, p.opt)
			if err != nil {
				p.decrement()
				return nil, err
			}
			return e, nil
		}
		p.mu.Unlock()

		select {
		case e := <-p.idle:
			if err := e.Ready(ctx); err != nil {
				p.discard(e)
				continue
			}
			return e, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) release(e *Engine, err error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if err != nil || closed {
		p.discard(e)
		return
	}
	select {
	case p.idle <- e:
	default:
		p.discard(e)
	}
}

func (p *Pool) discard(e *Engine) {
	_ = e.Close()
	p.decrement()
}

func (p *Pool) decrement() {
	p.mu.Lock()
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()
}

// Close stops idle engines; busy ones stop when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	var errs []error
	for {
		select {
		case e := <-p.idle:
			if err := e.Close(); err != nil {
				errs = append(errs, err)
			}
			p.decrement()
		default:
			return errors.Join(errs...)
		}
	}
}
