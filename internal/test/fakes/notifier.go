package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/ports"
)

// Notifier records everything it is told.
type Notifier struct {
	mu       sync.Mutex
	states   []domain.GameState
	pending  []domain.PendingAction
	outcomes []domain.Outcome
	banners  []domain.Banner
	slow     []common.Hash
}

var (
	_ ports.Notifier   = (*Notifier)(nil)
	_ ports.TxObserver = (*Notifier)(nil)
)

func (n *Notifier) StateChanged(_ context.Context, s domain.GameState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, s)
}

func (n *Notifier) PendingChanged(_ context.Context, a domain.PendingAction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = append(n.pending, a)
}

func (n *Notifier) Outcome(_ context.Context, o domain.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, o)
}

func (n *Notifier) Banner(_ context.Context, b domain.Banner) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.banners = append(n.banners, b)
}

func (n *Notifier) StillPending(_ context.Context, txHash common.Hash, _ time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.slow = append(n.slow, txHash)
}

func (n *Notifier) States() []domain.GameState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.GameState(nil), n.states...)
}

func (n *Notifier) Pending() []domain.PendingAction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.PendingAction(nil), n.pending...)
}

func (n *Notifier) Outcomes() []domain.Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Outcome(nil), n.outcomes...)
}

func (n *Notifier) Banners() []domain.Banner {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Banner(nil), n.banners...)
}

func (n *Notifier) SlowTxs() []common.Hash {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]common.Hash(nil), n.slow...)
}
