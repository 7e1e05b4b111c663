package transport

import "sync"

// Queue is an unbounded FIFO drained by a single goroutine. Producers never
// block, so an engine may emit from inside its own request handling.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   [][]byte
	closed  bool
	drained chan struct{}
}

// NewQueue starts a goroutine that calls deliver for every pushed item, in
// push order.
func NewQueue(deliver func([]byte)) *Queue {
	q := &Queue{drained: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run(deliver)
	return q
}

// Push appends msg. It reports false once the queue is closed.
func (q *Queue) Push(msg []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, msg)
	q.cond.Signal()
	return true
}

// Close stops the queue after the already pushed items are delivered and
// waits for the drain goroutine, unless called from it.
func (q *Queue) Close(wait bool) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Signal()
	}
	q.mu.Unlock()
	if wait {
		<-q.drained
	}
}

func (q *Queue) run(deliver func([]byte)) {
	defer close(q.drained)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		msg := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()
		deliver(msg)
	}
}
