package pbench

import "sync"

// Pool is a typed sync.Pool.
type Pool[T any] struct {
	syncPool sync.Pool
}

func NewPool[T any](newFn func() T) *Pool[T] {
	return &Pool[T]{
		syncPool: sync.Pool{
			New: func() interface{} { return newFn() },
		},
	}
}

// Get returns an arbitrary item from the pool.
func (p *Pool[T]) Get() T {
	return p.syncPool.Get().(T)
}

// Put places an item in the pool
func (p *Pool[T]) Put(value T) {
	p.syncPool.Put(value)
}

// With lends an item to fn and takes it back once fn returns.
func (p *Pool[T]) With(fn func(T) error) error {
	v := p.Get()
	defer p.Put(v)
	return fn(v)
}

func newBufferPool() *Pool[[]byte] {
	return NewPool(func() []byte { return make([]byte, ResponseSize) })
}
