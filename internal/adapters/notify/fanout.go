package notify

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/ports"
)

// Sink es un destino completo: notificaciones y avisos de tx lentas.
type Sink interface {
	ports.Notifier
	ports.TxObserver
}

// Fanout reenvía cada notificación a todos los sinks, en orden.
type Fanout []Sink

var _ Sink = Fanout(nil)

// NewFanout ignora los sinks nil.
func NewFanout(sinks ...Sink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f Fanout) StateChanged(ctx context.Context, s domain.GameState) {
	for _, n := range f {
		n.StateChanged(ctx, s)
	}
}

func (f Fanout) PendingChanged(ctx context.Context, a domain.PendingAction) {
	for _, n := range f {
		n.PendingChanged(ctx, a)
	}
}

func (f Fanout) Outcome(ctx context.Context, o domain.Outcome) {
	for _, n := range f {
		n.Outcome(ctx, o)
	}
}

func (f Fanout) Banner(ctx context.Context, b domain.Banner) {
	for _, n := range f {
		n.Banner(ctx, b)
	}
}

func (f Fanout) StillPending(ctx context.Context, txHash common.Hash, waited time.Duration) {
	for _, n := range f {
		n.StillPending(ctx, txHash, waited)
	}
}
