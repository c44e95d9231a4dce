package tilepyramid

import "sync"

// queue holds callbacks from loaders and timers until the pyramid lock is available.
type queue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *queue) push(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

func (q *queue) pop() []func() {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()
	return fns
}

func (q *queue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns) == 0
}

// lock acquires the pyramid and runs everything queued so far.
func (p *pyramid) lock() {
	p.mu.Lock()
	p.drain()
}

// unlock releases the pyramid. Work queued while it was held is run before returning
// unless another goroutine grabbed the lock first, in which case that one runs it.
func (p *pyramid) unlock() {
	for {
		p.mu.Unlock()
		if p.pending.empty() || !p.mu.TryLock() {
			return
		}
		p.drain()
	}
}

// enqueue schedules fn to run under the pyramid lock. It never blocks on the lock, so
// loaders may call done from inside Load.
func (p *pyramid) enqueue(fn func()) {
	p.pending.push(fn)
	if p.mu.TryLock() {
		p.drain()
		p.unlock()
	}
}

func (p *pyramid) drain() {
	for {
		fns := p.pending.pop()
		if len(fns) == 0 {
			return
		}
		for _, fn := range fns {
			fn()
		}
	}
}
