package isolation

import "sync"

// teardownQueue removes rules of exited processes off the monitor
// goroutine. The queue is unbounded and processed in order by one worker.
type teardownQueue struct {
	handle func(*IsolatedProcess)

	mu     sync.Mutex
	cond   *sync.Cond
	items  []*IsolatedProcess
	busy   bool
	closed bool
	done   chan struct{}
}

func newTeardownQueue(handle func(*IsolatedProcess)) *teardownQueue {
	q := &teardownQueue{handle: handle, done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// enqueue schedules rec. After close it is handled inline.
func (q *teardownQueue) enqueue(rec *IsolatedProcess) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.handle(rec)
		return
	}
	q.items = append(q.items, rec)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// drain blocks until the queue is empty and the worker idle.
func (q *teardownQueue) drain() {
	q.mu.Lock()
	for len(q.items) > 0 || q.busy {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// close processes what is queued, then stops the worker.
func (q *teardownQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

// pending returns the number of queued items.
func (q *teardownQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *teardownQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		rec := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.busy = true
		q.mu.Unlock()

		q.handle(rec)

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}
