package ocr

import (
	"context"
	"sync"
)

// Pool hands out up to size reusable handles, creating them lazily. Handles
// that are not goroutine-safe are used by one worker at a time.
type Pool[T any] struct {
	items   chan T
	tokens  chan struct{}
	newFn   func() (T, error)
	closeFn func(T)

	mu     sync.Mutex
	closed bool
}

// NewPool returns a pool of at most size handles.
func NewPool[T any](size int, newFn func() (T, error), closeFn func(T)) *Pool[T] {
	if size < 1 {
		size = 1
	}
	p := &Pool[T]{
		items:   make(chan T, size),
		tokens:  make(chan struct{}, size),
		newFn:   newFn,
		closeFn: closeFn,
	}
	for i := 0; i < size; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

// Get returns an idle handle, creating one if the pool has room, or waits
// until one is released.
func (p *Pool[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case it := <-p.items:
		return it, nil
	default:
	}
	select {
	case it := <-p.items:
		return it, nil
	case <-p.tokens:
		it, err := p.newFn()
		if err != nil {
			p.tokens <- struct{}{}
			return zero, err
		}
		return it, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Put returns a handle to the pool.
func (p *Pool[T]) Put(it T) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		if p.closeFn != nil {
			p.closeFn(it)
		}
		return
	}
	p.items <- it
}

// Discard drops a broken handle and frees its slot.
func (p *Pool[T]) Discard(it T) {
	if p.closeFn != nil {
		p.closeFn(it)
	}
	p.tokens <- struct{}{}
}

// Close releases every idle handle. Handles still in use are closed when
// they are put back.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for {
		select {
		case it := <-p.items:
			if p.closeFn != nil {
				p.closeFn(it)
			}
		default:
			return
		}
	}
}
