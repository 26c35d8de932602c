package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ActionKind tags a PendingAction.
type ActionKind string

const (
	ActionNone      ActionKind = "NONE"
	ActionApprove   ActionKind = "APPROVE"
	ActionBuy       ActionKind = "BUY"
	ActionSell      ActionKind = "SELL"
	ActionJoinQueue ActionKind = "JOIN_QUEUE"
)

// Stage is a state of the transaction state machine.
type Stage string

const (
	StageIdle              Stage = "IDLE"
	StageCheckingAllowance Stage = "CHECKING_ALLOWANCE"
	StageApproving         Stage = "APPROVING"
	StageExecuting         Stage = "EXECUTING"
	StageConfirmed         Stage = "CONFIRMED"
	StageFailed            Stage = "FAILED"
)

// Terminal reports whether no further transition can leave this stage.
func (s Stage) Terminal() bool {
	return s == StageConfirmed || s == StageFailed
}

// Allowed buy sizes.
const (
	BuyOne   uint64 = 1
	BuyThree uint64 = 3
)

// PendingAction is the user action currently in flight. Only the fields
// relevant to Kind are set:
//
//	Approving(amount)     → Amount
//	Buying(kind, count)   → Token, Count
//	Selling(kind)         → Token
//	JoiningQueue(kind)    → Token
type PendingAction struct {
	ID        string          `json:"id"`
	Kind      ActionKind      `json:"kind"`
	Token     TokenKind       `json:"token"`
	Count     uint64          `json:"count,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Stage     Stage           `json:"stage"`
	StartedAt time.Time       `json:"started_at"`
	Dismissed bool            `json:"dismissed"`
}

// NoAction is the empty PendingAction.
var NoAction = PendingAction{Kind: ActionNone, Stage: StageIdle}

// IsNone reports whether no action is pending.
func (a PendingAction) IsNone() bool { return a.Kind == "" || a.Kind == ActionNone }

// Label is a short human description, e.g. "buy 3 Lo".
func (a PendingAction) Label() string {
	switch a.Kind {
	case ActionApprove:
		return fmt.Sprintf("approve %s USDC", a.Amount.String())
	case ActionBuy:
		return fmt.Sprintf("buy %d %s", a.Count, a.Token)
	case ActionSell:
		return fmt.Sprintf("sell %s", a.Token)
	case ActionJoinQueue:
		return fmt.Sprintf("join %s sell queue", a.Token)
	}
	return "none"
}

// Outcome is the single result of one user-initiated action.
type Outcome struct {
	Action      PendingAction    `json:"action"`
	Stage       Stage            `json:"stage"`
	Transitions []Stage          `json:"transitions"`
	Receipt     *Receipt         `json:"receipt,omitempty"`
	Ticket      *QueueTicket     `json:"ticket,omitempty"`
	Err         *ClassifiedError `json:"error,omitempty"`
	SoldDirect  bool             `json:"sold_direct,omitempty"` // queue request short-circuited into a sale
	Retried     bool             `json:"retried,omitempty"`     // allowance-drift retry was used
	FinishedAt  time.Time        `json:"finished_at"`
}

// Succeeded reports whether the action reached Confirmed.
func (o Outcome) Succeeded() bool { return o.Stage == StageConfirmed }

// DismissNotice is shown when the user clears a pending banner. Broadcast
// transactions cannot be recalled, so the wording must say so.
const DismissNotice = "Hidden from view. A transaction already sent to the network cannot be cancelled and may still confirm."
