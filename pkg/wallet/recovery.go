package wallet

import (
	"context"
	"encoding/json"
	"math"
	"sync"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/rpc"
)

// RecoveryService tracks restoring a wallet from its federation backup. It
// stays usable while the other services refuse calls with ErrRecovering.
type RecoveryService struct{ w *Wallet }

// RecoveryStatus is the engine's snapshot of running module recoveries.
type RecoveryStatus struct {
	Modules []core.RecoveryProgress `json:"modules"`
}

// Percentage is the progress of the slowest module, 0 when nothing runs.
func (s RecoveryStatus) Percentage() float64 {
	p := NewProgress()
	for _, m := range s.Modules {
		p.Observe(m)
	}
	return p.Percentage()
}

// HasPendingRecoveries asks the engine and refreshes the wallet's
// recovering flag.
func (s *RecoveryService) HasPendingRecoveries(ctx context.Context) (bool, error) {
	if err := s.w.guard(true); err != nil {
		return false, err
	}
	pending, err := single[bool](ctx, s.w, "", "has_pending_recoveries", nil)
	if err != nil {
		return false, err
	}
	s.w.setRecovering(pending)
	return pending, nil
}

// WaitForAllRecoveries blocks until every module finished recovering.
func (s *RecoveryService) WaitForAllRecoveries(ctx context.Context) error {
	if err := s.w.guard(true); err != nil {
		return err
	}
	if _, err := single[json.RawMessage](ctx, s.w, "", "wait_for_all_recoveries", nil); err != nil {
		return err
	}
	s.w.setRecovering(false)
	return nil
}

// SubscribeProgress streams per-module progress. The wallet leaves the
// recovering state when the stream ends cleanly.
func (s *RecoveryService) SubscribeProgress(h Handler[core.RecoveryProgress]) (*rpc.Subscription, error) {
	return subscribe(s.w, true, "", "subscribe_to_recovery_progress", nil, nil,
		func(u Update[core.RecoveryProgress]) {
			if u.Done && u.Err == nil {
				s.w.setRecovering(false)
			}
			h(u)
		})
}

// SubscribePercentage reduces the progress stream to the overall percentage,
// reported only when it changes.
func (s *RecoveryService) SubscribePercentage(h Handler[float64]) (*rpc.Subscription, error) {
	p := NewProgress()
	last := 0.0
	return s.SubscribeProgress(func(u Update[core.RecoveryProgress]) {
		if u.Done {
			h(Update[float64]{Value: last, Err: u.Err, Done: true})
			return
		}
		if pct := p.Observe(u.Value); pct != last {
			last = pct
			h(Update[float64]{Value: pct})
		}
	})
}

// Status returns the engine's current recovery snapshot.
func (s *RecoveryService) Status(ctx context.Context) (RecoveryStatus, error) {
	if err := s.w.guard(true); err != nil {
		return RecoveryStatus{}, err
	}
	st, err := single[*RecoveryStatus](ctx, s.w, "", "get_recovery_status", nil)
	if err != nil || st == nil {
		return RecoveryStatus{}, err
	}
	return *st, nil
}

// BackupToFederation stores an encrypted backup with the guardians. Nil
// metadata is sent as an empty object.
func (s *RecoveryService) BackupToFederation(ctx context.Context, metadata json.RawMessage) error {
	if err := s.w.guard(true); err != nil {
		return err
	}
	_, err := single[json.RawMessage](ctx, s.w, "", "backup_to_federation", map[string]any{
		"metadata": extraMeta(metadata),
	})
	return err
}

// Progress aggregates module progress events. It is safe for concurrent use.
type Progress struct {
	mu      sync.Mutex
	modules map[uint32]float64
}

func NewProgress() *Progress {
	return &Progress{modules: make(map[uint32]float64)}
}

// Observe records one event and returns the overall percentage.
func (p *Progress) Observe(ev core.RecoveryProgress) float64 {
	var pct float64
	switch c, t := ev.Progress.Complete, ev.Progress.Total; {
	case t > 0:
		pct = math.Min(100, float64(c)/float64(t)*100)
	case c > 0:
		pct = 100
	}
	p.mu.Lock()
	p.modules[ev.ModuleID] = pct
	p.mu.Unlock()
	return p.Percentage()
}

// Percentage is the minimum over the observed modules.
func (p *Progress) Percentage() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.modules) == 0 {
		return 0
	}
	lowest := 100.0
	for _, pct := range p.modules {
		lowest = math.Min(lowest, pct)
	}
	return lowest
}
