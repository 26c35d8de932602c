package fakes

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/ports"
)

// Revert errors in the shape the node returns them.
var (
	ErrAllowance = errors.New("execution reverted: ERC20: transfer amount exceeds allowance")
	ErrBalance   = errors.New("execution reverted: ERC20: transfer amount exceeds balance")
	ErrLocked    = errors.New("execution reverted: HILO: cannot sell when the sale is locked")
	ErrPaused    = errors.New("execution reverted: Game is paused.")
)

// Ledger is an in-memory ports.Ledger for a single player.
type Ledger struct {
	mu sync.Mutex

	Prices         [2]uint64
	Balances       [2]uint64
	Totals         [2]uint64
	WinnerList     []common.Address
	Allowed        decimal.Decimal
	QueuePositions [2]uint64
	SaleOpen       [2]bool

	// Errors returned, in order, by the next write calls of each kind.
	ApproveErrs []error
	BuyErrs     []error
	SellErrs    []error
	QueueErrs   []error

	// BeforeApprove runs before an approval is applied, outside the lock.
	BeforeApprove func(amount decimal.Decimal)
	// BeforeBuy runs before a buy is applied; tests use it to move prices.
	BeforeBuy func(l *Ledger)
	// OnRead runs on every price read, outside the lock.
	OnRead func()

	writes []string
	reads  atomic.Int64
	block  uint64
}

var _ ports.Ledger = (*Ledger)(nil)

// NewLedger returns a running game with the given prices.
func NewLedger(high, low uint64) *Ledger {
	return &Ledger{Prices: [2]uint64{high, low}, Allowed: decimal.Zero}
}

// Writes lists the write calls made so far, e.g. "approve 5", "buy Hi 1".
func (l *Ledger) Writes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.writes...)
}

// Reads counts read calls.
func (l *Ledger) Reads() int64 { return l.reads.Load() }

// Conclude ends the game with the given winners.
func (l *Ledger) Conclude(winners ...common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.WinnerList = winners
	l.Prices[domain.TokenLow] = l.Prices[domain.TokenHigh]
}

// Set runs fn with the lock held.
func (l *Ledger) Set(fn func(l *Ledger)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l)
}

func (l *Ledger) Price(_ context.Context, kind domain.TokenKind) (uint64, error) {
	l.reads.Add(1)
	if l.OnRead != nil {
		l.OnRead()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Prices[kind], nil
}

func (l *Ledger) Balance(_ context.Context, kind domain.TokenKind, _ common.Address) (uint64, error) {
	l.reads.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Balances[kind], nil
}

func (l *Ledger) PlayerTotals(context.Context) ([2]uint64, error) {
	l.reads.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Totals, nil
}

func (l *Ledger) Winners(context.Context) ([]common.Address, error) {
	l.reads.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]common.Address(nil), l.WinnerList...), nil
}

func (l *Ledger) GameWon(context.Context) (bool, error) {
	l.reads.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.WinnerList) > 0, nil
}

func (l *Ledger) Allowance(context.Context, common.Address) (decimal.Decimal, error) {
	l.reads.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Allowed, nil
}

func (l *Ledger) QueuePosition(_ context.Context, kind domain.TokenKind, _ common.Address) (uint64, error) {
	l.reads.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.QueuePositions[kind], nil
}

func (l *Ledger) CanSell(_ context.Context, kind domain.TokenKind) (bool, error) {
	l.reads.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.SaleOpen[kind], nil
}

func (l *Ledger) ApproveSpend(_ context.Context, _ ports.Signer, amount decimal.Decimal) (domain.Receipt, error) {
	if l.BeforeApprove != nil {
		l.BeforeApprove(amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, "approve "+amount.String())
	if err := pop(&l.ApproveErrs); err != nil {
		return domain.Receipt{}, err
	}
	l.Allowed = amount
	return l.receipt(), nil
}

func (l *Ledger) Buy(_ context.Context, _ ports.Signer, kind domain.TokenKind, count uint64) (domain.Receipt, error) {
	if l.BeforeBuy != nil {
		l.BeforeBuy(l)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, fmt.Sprintf("buy %s %d", kind, count))
	if err := pop(&l.BuyErrs); err != nil {
		return domain.Receipt{}, err
	}
	if len(l.WinnerList) > 0 {
		return domain.Receipt{}, ErrPaused
	}
	cost := decimal.NewFromInt(int64(l.Prices[kind] * count))
	if l.Allowed.LessThan(cost) {
		return domain.Receipt{}, ErrAllowance
	}
	l.Allowed = l.Allowed.Sub(cost)
	if l.Balances[kind] == 0 {
		l.Totals[kind]++
	}
	l.Balances[kind] += count
	if kind == domain.TokenLow {
		l.Prices[kind] += count
	} else if l.Prices[kind] > count {
		l.Prices[kind] -= count
	}
	return l.receipt(), nil
}

func (l *Ledger) Sell(_ context.Context, _ ports.Signer, kind domain.TokenKind) (domain.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, "sell "+kind.String())
	if err := pop(&l.SellErrs); err != nil {
		return domain.Receipt{}, err
	}
	if len(l.WinnerList) > 0 {
		return domain.Receipt{}, ErrPaused
	}
	if !l.SaleOpen[kind] {
		return domain.Receipt{}, ErrLocked
	}
	if l.Balances[kind] == 0 {
		return domain.Receipt{}, ErrBalance
	}
	l.Balances[kind]--
	if l.Balances[kind] == 0 {
		l.Totals[kind]--
	}
	return l.receipt(), nil
}

func (l *Ledger) JoinQueue(_ context.Context, _ ports.Signer, kind domain.TokenKind) (domain.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, "queue "+kind.String())
	if err := pop(&l.QueueErrs); err != nil {
		return domain.Receipt{}, err
	}
	if l.Balances[kind] == 0 {
		return domain.Receipt{}, ErrBalance
	}
	return l.receipt(), nil
}

func (l *Ledger) receipt() domain.Receipt {
	l.block++
	return domain.Receipt{
		TxHash:      common.BigToHash(new(big.Int).SetUint64(l.block)),
		BlockNumber: l.block,
		GasUsed:     50_000,
	}
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}
