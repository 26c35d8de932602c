package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceUpdated is emitted by the contract whenever a trade moves a price.
type PriceUpdated struct {
	Player common.Address
	Kind   TokenKind
	TxHash common.Hash
	Block  uint64
}

// PricesConverged is emitted once, when the game concludes.
type PricesConverged struct {
	Winners []common.Address
	Price   uint64
	TxHash  common.Hash
	Block   uint64
}

// ChainEvent carries exactly one decoded contract notification.
type ChainEvent struct {
	PriceUpdated *PriceUpdated
	Converged    *PricesConverged
}

// BannerKind tags passive, dismissible notifications.
type BannerKind string

const (
	BannerPriceChanged BannerKind = "PRICE_CHANGED"
	BannerGameOver     BannerKind = "GAME_OVER"
	BannerStillPending BannerKind = "STILL_PENDING"
	BannerSessionReset BannerKind = "SESSION_RESET"
)

// Banner is a passive notice for the UI. It never interrupts an in-flight
// action.
type Banner struct {
	Kind      BannerKind       `json:"kind"`
	Token     *TokenKind       `json:"token,omitempty"`
	Message   string           `json:"message"`
	Winners   []common.Address `json:"winners,omitempty"`
	CallerWon bool             `json:"caller_won"`
	TxHash    *common.Hash     `json:"tx_hash,omitempty"`
	At        time.Time        `json:"at"`
}

// ConnectionHint is what survives a restart so the next start can reconnect
// silently to the same account on the same network.
type ConnectionHint struct {
	Account common.Address
	ChainID int64
	SavedAt time.Time
}

// JournalEntry is one persisted action outcome.
type JournalEntry struct {
	ID         string
	SessionID  string
	Account    common.Address
	Action     ActionKind
	Token      TokenKind
	Count      uint64
	Stage      Stage
	Category   ErrorCategory
	TxHash     string
	FinishedAt time.Time
}
