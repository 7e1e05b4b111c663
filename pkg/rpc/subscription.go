package rpc

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/rexliu/fedwallet/pkg/ipc"
)

// EventKind tags an Event.
type EventKind uint8

const (
	EventData EventKind = iota
	EventError
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is what a subscriber sees. Err is set for EventError only.
type Event struct {
	Kind EventKind
	Data json.RawMessage
	Err  error
}

// EventHandler consumes the events of one subscription. It is called from
// the transport's delivery goroutine, one event at a time.
type EventHandler func(ev Event)

// SubState is the lifecycle position of a Subscription.
type SubState uint8

const (
	// SubPending: registered, request not yet handed to the transport.
	SubPending SubState = iota
	// SubActive: request sent, waiting for responses.
	SubActive
	// SubTerminated: a terminal event was delivered.
	SubTerminated
)

func (s SubState) String() string {
	switch s {
	case SubPending:
		return "pending"
	case SubActive:
		return "active"
	case SubTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Subscription is the client side of one request id. Single-shot calls use
// one too and simply stop listening after the first result.
type Subscription struct {
	id      uint64
	handler EventHandler
	cancel  func(id uint64)
	done    func(s *Subscription)

	mu           sync.Mutex
	state        SubState
	cancelQueued bool
	cancelled    bool
	finished     chan struct{}
}

func newSubscription(id uint64, h EventHandler, cancel func(uint64), done func(*Subscription)) *Subscription {
	return &Subscription{
		id:       id,
		handler:  h,
		cancel:   cancel,
		done:     done,
		finished: make(chan struct{}),
	}
}

// ID returns the request id the subscription listens on.
func (s *Subscription) ID() uint64 { return s.id }

// State returns the current lifecycle state.
func (s *Subscription) State() SubState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the terminal event has been delivered.
func (s *Subscription) Done() <-chan struct{} { return s.finished }

// Cancel asks the engine to stop the stream. While the request is still
// pending the cancel is queued and sent right after it. Cancelling twice or
// after termination does nothing. Data arriving after Cancel is dropped and
// the engine's terminal acknowledgement arrives as EventEnd.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.state == SubTerminated || s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	if s.state == SubPending {
		s.cancelQueued = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.cancel(s.id)
}

// sent marks the request as written. It reports whether a queued cancel
// must now be sent.
func (s *Subscription) sent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SubPending {
		return false
	}
	s.state = SubActive
	flush := s.cancelQueued
	s.cancelQueued = false
	return flush
}

// deliver translates an engine response into an event.
func (s *Subscription) deliver(resp ipc.Response) {
	switch resp.Type {
	case ipc.ResponseData:
		s.mu.Lock()
		skip := s.state == SubTerminated || s.cancelled
		s.mu.Unlock()
		if !skip {
			s.handler(Event{Kind: EventData, Data: resp.Data})
		}

	case ipc.ResponseError:
		s.terminate(&RPCError{Message: resp.Error})

	case ipc.ResponseEnd, ipc.ResponseAborted:
		s.terminate(nil)
	}
}

// terminate delivers the terminal event once. A cancelled subscription
// always ends with EventEnd.
func (s *Subscription) terminate(err error) {
	s.mu.Lock()
	if s.state == SubTerminated {
		s.mu.Unlock()
		return
	}
	s.state = SubTerminated
	s.cancelQueued = false
	cancelled := s.cancelled
	s.mu.Unlock()

	if err != nil && !cancelled {
		s.handler(Event{Kind: EventError, Err: err})
	} else {
		s.handler(Event{Kind: EventEnd})
	}
	close(s.finished)
	if s.done != nil {
		s.done(s)
	}
}

// SubscriptionManager tracks live subscriptions so they can be cancelled
// together.
type SubscriptionManager struct {
	metrics *Metrics

	mu   sync.Mutex
	subs map[uint64]*Subscription
}

// NewSubscriptionManager returns an empty manager. metrics may be nil.
func NewSubscriptionManager(metrics *Metrics) *SubscriptionManager {
	return &SubscriptionManager{
		metrics: metrics,
		subs:    make(map[uint64]*Subscription),
	}
}

// Add tracks s until it terminates.
func (m *SubscriptionManager) Add(s *Subscription) {
	m.mu.Lock()
	m.subs[s.id] = s
	n := len(m.subs)
	m.mu.Unlock()
	m.metrics.subscriptions(n)
}

func (m *SubscriptionManager) remove(s *Subscription) {
	m.mu.Lock()
	if m.subs[s.id] == s {
		delete(m.subs, s.id)
	}
	n := len(m.subs)
	m.mu.Unlock()
	m.metrics.subscriptions(n)
}

// Get returns the live subscription for id.
func (m *SubscriptionManager) Get(id uint64) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	return s, ok
}

// Cancel cancels the subscription for id and reports whether it was live.
func (m *SubscriptionManager) Cancel(id uint64) bool {
	s, ok := m.Get(id)
	if ok {
		s.Cancel()
	}
	return ok
}

// CancelAll cancels every live subscription.
func (m *SubscriptionManager) CancelAll() {
	for _, s := range m.snapshot() {
		s.Cancel()
	}
}

// failAll terminates every live subscription with err without waiting for
// the engine.
func (m *SubscriptionManager) failAll(err error) {
	for _, s := range m.snapshot() {
		s.terminate(err)
	}
}

// Clear forgets every subscription without notifying it.
func (m *SubscriptionManager) Clear() {
	m.mu.Lock()
	m.subs = make(map[uint64]*Subscription)
	m.mu.Unlock()
	m.metrics.subscriptions(0)
}

// Count returns the number of live subscriptions.
func (m *SubscriptionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// IDs returns the ids of live subscriptions in ascending order.
func (m *SubscriptionManager) IDs() []uint64 {
	subs := m.snapshot()
	ids := make([]uint64, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *SubscriptionManager) snapshot() []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	return subs
}
