package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/hilo/internal/domain"
)

// LedgerReader exposes the HILO contract's read methods, already converted
// to client units.
type LedgerReader interface {
	Price(ctx context.Context, kind domain.TokenKind) (uint64, error)
	Balance(ctx context.Context, kind domain.TokenKind, account common.Address) (uint64, error)
	PlayerTotals(ctx context.Context) ([2]uint64, error)
	Winners(ctx context.Context) ([]common.Address, error)
	GameWon(ctx context.Context) (bool, error)
	Allowance(ctx context.Context, account common.Address) (decimal.Decimal, error)
	QueuePosition(ctx context.Context, kind domain.TokenKind, account common.Address) (uint64, error)
	CanSell(ctx context.Context, kind domain.TokenKind) (bool, error)
}

// LedgerWriter exposes the contract's write methods. Every call blocks until
// the transaction is final and only returns a receipt for a successful one.
type LedgerWriter interface {
	ApproveSpend(ctx context.Context, signer Signer, amount decimal.Decimal) (domain.Receipt, error)
	Buy(ctx context.Context, signer Signer, kind domain.TokenKind, count uint64) (domain.Receipt, error)
	Sell(ctx context.Context, signer Signer, kind domain.TokenKind) (domain.Receipt, error)
	JoinQueue(ctx context.Context, signer Signer, kind domain.TokenKind) (domain.Receipt, error)
}

// Ledger is the full gateway to the external program.
type Ledger interface {
	LedgerReader
	LedgerWriter
}
