package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// GameState is one consistent snapshot of the HILO contract as seen by a
// single account. Snapshots are values: a refresh builds a new one and
// replaces the previous snapshot wholesale, nothing mutates one in place.
type GameState struct {
	Account       common.Address
	PriceHigh     uint64
	PriceLow      uint64
	Winners       []common.Address // empty while the game is running
	PlayerTotals  [2]uint64        // holders per token kind
	TokenBalances [2]uint64        // caller holdings per token kind
	ApprovedSpend decimal.Decimal  // payment-asset allowance granted to the contract
	RefreshedAt   time.Time
}

// Concluded reports whether the prices converged and winners were paid.
// Once true, prices are frozen and no trade can go through.
func (s GameState) Concluded() bool {
	return len(s.Winners) > 0
}

// Price returns the current unit price of a token kind.
func (s GameState) Price(k TokenKind) uint64 {
	if k == TokenHigh {
		return s.PriceHigh
	}
	return s.PriceLow
}

// Balance returns the caller's holdings of a token kind.
func (s GameState) Balance(k TokenKind) uint64 {
	if !k.Valid() {
		return 0
	}
	return s.TokenBalances[k]
}

// CanBuy is the client-side eligibility check for a purchase.
func (s GameState) CanBuy(k TokenKind) bool {
	return k.Valid() && !s.Concluded()
}

// CanSell is the client-side eligibility check for a sale: the caller must
// hold at least one token and the game must still be running.
func (s GameState) CanSell(k TokenKind) bool {
	return k.Valid() && !s.Concluded() && s.Balance(k) > 0
}

// IsWinner reports whether addr is among the winners.
func (s GameState) IsWinner(addr common.Address) bool {
	for _, w := range s.Winners {
		if w == addr {
			return true
		}
	}
	return false
}

// Equal compares two snapshots field by field, ignoring RefreshedAt.
func (s GameState) Equal(o GameState) bool {
	if s.Account != o.Account || s.PriceHigh != o.PriceHigh || s.PriceLow != o.PriceLow {
		return false
	}
	if s.PlayerTotals != o.PlayerTotals || s.TokenBalances != o.TokenBalances {
		return false
	}
	if !s.ApprovedSpend.Equal(o.ApprovedSpend) || len(s.Winners) != len(o.Winners) {
		return false
	}
	for i := range s.Winners {
		if s.Winners[i] != o.Winners[i] {
			return false
		}
	}
	return true
}

// QueueTicket is the caller's place in a token's sell queue. It is derived
// from the contract on every refresh and never treated as ground truth.
type QueueTicket struct {
	Kind     TokenKind `json:"token"`
	Position uint64    `json:"position"`
}

// Immediate reports whether the queued sale can execute right away.
func (t QueueTicket) Immediate() bool { return t.Position == 0 }

func (t QueueTicket) String() string {
	switch {
	case t.Position == 0:
		return fmt.Sprintf("%s: sale can execute now", t.Kind)
	case t.Position == 1:
		return fmt.Sprintf("%s: next in line", t.Kind)
	default:
		return fmt.Sprintf("%s: position %d in queue", t.Kind, t.Position)
	}
}

// Receipt is a finalized, successful transaction.
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	GasUsed     uint64      `json:"gas_used"`
}

// PageState is the coarse screen the UI should be on.
type PageState string

const (
	PageUnloaded PageState = "UNLOADED"
	PageNoWallet PageState = "NO_WALLET"
	PageReady    PageState = "READY"
	PageOver     PageState = "OVER"
)

// PageStateFor derives the page state from the presence of a session and the
// latest snapshot.
func PageStateFor(connected bool, snap *GameState) PageState {
	switch {
	case !connected:
		return PageNoWallet
	case snap == nil:
		return PageUnloaded
	case snap.Concluded():
		return PageOver
	default:
		return PageReady
	}
}

// TruncateAddress renders an address like 0x1234…abcd.
func TruncateAddress(addr common.Address) string {
	h := addr.Hex()
	if len(h) < 12 {
		return h
	}
	return h[:6] + "…" + h[len(h)-4:]
}
