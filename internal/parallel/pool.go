package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool runs tasks on a fixed set of goroutines.
//
// Each worker owns a buffered queue and steals from the other queues when
// its own is empty, so uneven tasks (a large dispatch next to a small one)
// do not leave workers idle.
//
// The engine keeps one pool for asynchronous submissions and the software
// backend keeps another for kernel groups. A task must never call ExecuteAll
// or For on the pool it runs on.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers int
	queues  []chan func()

	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	next    atomic.Uint32
}

// NewWorkerPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]

	for {
		select {
		case <-p.done:
			drain(own)
			return
		case fn := <-own:
			fn()
			continue
		default:
		}

		if fn := p.steal(id); fn != nil {
			fn()
			continue
		}

		select {
		case <-p.done:
			drain(own)
			return
		case fn := <-own:
			fn()
		}
	}
}

func drain(q chan func()) {
	for {
		select {
		case fn := <-q:
			fn()
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(id int) func() {
	for i := 1; i < p.workers; i++ {
		select {
		case fn := <-p.queues[(id+i)%p.workers]:
			return fn
		default:
		}
	}
	return nil
}

// enqueue places fn on queue i. It reports false when the pool closed
// before fn was accepted.
func (p *WorkerPool) enqueue(i int, fn func()) bool {
	select {
	case p.queues[i] <- fn:
		return true
	case <-p.done:
		return false
	}
}

// Submit queues a single task on the shortest queue.
// It reports false, without running fn, when the pool is closed.
func (p *WorkerPool) Submit(fn func()) bool {
	if fn == nil || !p.running.Load() {
		return false
	}
	shortest := int(p.next.Add(1)) % p.workers
	for i := range p.workers {
		if len(p.queues[i]) < len(p.queues[shortest]) {
			shortest = i
		}
	}
	return p.enqueue(shortest, fn)
}

// ExecuteAll runs every task and waits for all of them.
// Tasks that could not be queued because the pool closed run on the
// calling goroutine, so ExecuteAll always completes the work.
func (p *WorkerPool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}
	if !p.running.Load() || len(work) == 1 {
		for _, fn := range work {
			fn()
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(work))
	for i, fn := range work {
		task := func() {
			defer wg.Done()
			fn()
		}
		if !p.enqueue(i%p.workers, task) {
			task()
		}
	}
	wg.Wait()
}

// ExecuteAsync queues tasks without waiting. Tasks not accepted before the
// pool closes are dropped.
func (p *WorkerPool) ExecuteAsync(work []func()) {
	if !p.running.Load() {
		return
	}
	for i, fn := range work {
		if fn == nil {
			continue
		}
		if !p.enqueue(i%p.workers, fn) {
			return
		}
	}
}

// For splits [0, n) into at most Workers() contiguous chunks of at least
// minChunk items and runs fn on each, waiting for completion.
func (p *WorkerPool) For(n, minChunk int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	minChunk = max(minChunk, 1)
	chunks := min(p.workers, (n+minChunk-1)/minChunk)
	if chunks <= 1 {
		fn(0, n)
		return
	}

	size := (n + chunks - 1) / chunks
	work := make([]func(), 0, chunks)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		work = append(work, func() { fn(lo, hi) })
	}
	p.ExecuteAll(work)
}

// Close stops accepting work, runs what is already queued and stops the
// workers. Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning returns true if the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// QueuedWork returns an approximate count of queued tasks.
func (p *WorkerPool) QueuedWork() int {
	total := 0
	for _, q := range p.queues {
		total += len(q)
	}
	return total
}
