package server

import (
	"sync"
	"sync/atomic"
)

// pool is a fixed-size worker pool running session tasks. A session task
// occupies its worker for the lifetime of the connection, so the pool size
// bounds concurrent sessions. The task queue buffers accepted connections
// waiting for a free worker.
type pool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool
}

func newPool(workers, queueCap int) *pool {
	if workers <= 0 {
		workers = 1
	}
	if queueCap <= 0 {
		queueCap = 64
	}
	p := &pool{tasks: make(chan func(), queueCap)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// submit offers a task; returns false when the pool is closed or the queue
// is full.
func (p *pool) submit(task func()) bool {
	if p.closed.Load() {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// close stops intake and waits for running tasks to finish.
func (p *pool) close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.tasks)
	})
	p.wg.Wait()
}
