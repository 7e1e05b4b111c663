package rpc

import (
	"sort"
	"sync"

	"github.com/rexliu/fedwallet/pkg/ipc"
)

// ResponseHandler receives the responses for one request id.
type ResponseHandler func(resp ipc.Response)

// Correlator hands out request ids and routes responses back to the handler
// registered for their id.
type Correlator struct {
	metrics *Metrics

	mu       sync.Mutex
	next     uint64
	handlers map[uint64]ResponseHandler
}

// NewCorrelator returns an empty correlator. metrics may be nil.
func NewCorrelator(metrics *Metrics) *Correlator {
	return &Correlator{
		metrics:  metrics,
		handlers: make(map[uint64]ResponseHandler),
	}
}

// NextID returns a fresh id. Ids start at 1 and only repeat after Reset.
func (c *Correlator) NextID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return c.next
}

// Register routes responses for id to h, replacing any earlier handler.
func (c *Correlator) Register(id uint64, h ResponseHandler) {
	c.mu.Lock()
	c.handlers[id] = h
	n := len(c.handlers)
	c.mu.Unlock()
	c.metrics.inFlight(n)
}

// Unregister forgets id. Later responses for it are dropped.
func (c *Correlator) Unregister(id uint64) {
	c.mu.Lock()
	delete(c.handlers, id)
	n := len(c.handlers)
	c.mu.Unlock()
	c.metrics.inFlight(n)
}

// Dispatch passes resp to the handler of its id and reports whether one was
// registered. A terminal response removes the mapping before the handler
// runs, so nothing reaches the handler after it. Handlers run without the
// lock held and may call back into the correlator.
func (c *Correlator) Dispatch(resp ipc.Response) bool {
	c.mu.Lock()
	h, ok := c.handlers[resp.RequestID]
	if ok && resp.Terminal() {
		delete(c.handlers, resp.RequestID)
	}
	n := len(c.handlers)
	c.mu.Unlock()

	if !ok {
		log.Warnf("Dropping %s response for unknown request id %d",
			resp.Type, resp.RequestID)
		c.metrics.dropped()
		return false
	}
	c.metrics.inFlight(n)
	h(resp)
	return true
}

// Reset drops every mapping without invoking the handlers and restarts ids
// at 1.
func (c *Correlator) Reset() {
	c.mu.Lock()
	c.next = 0
	c.handlers = make(map[uint64]ResponseHandler)
	c.mu.Unlock()
	c.metrics.inFlight(0)
}

// Len returns the number of ids awaiting a terminal response.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// IDs returns the pending ids in ascending order.
func (c *Correlator) IDs() []uint64 {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
