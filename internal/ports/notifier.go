package ports

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/hilo/internal/domain"
)

// Notifier presents state changes and outcomes to the user.
type Notifier interface {
	// StateChanged is called after every applied refresh.
	StateChanged(ctx context.Context, state domain.GameState)

	// PendingChanged is called when an action moves to a new stage or is
	// dismissed.
	PendingChanged(ctx context.Context, action domain.PendingAction)

	// Outcome is called once per finished user action.
	Outcome(ctx context.Context, outcome domain.Outcome)

	// Banner shows a passive, dismissible notice.
	Banner(ctx context.Context, banner domain.Banner)
}

// TxObserver is told about transactions that take long to finalize.
type TxObserver interface {
	StillPending(ctx context.Context, txHash common.Hash, waited time.Duration)
}
