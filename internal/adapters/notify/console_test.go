package notify_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/hilo/internal/adapters/notify"
	"github.com/alejandrodnm/hilo/internal/domain"
)

var alice = common.HexToAddress("0xA11CE0000000000000000000000000000000A11C")

func makeState(high, low uint64) domain.GameState {
	return domain.GameState{
		Account:       alice,
		PriceHigh:     high,
		PriceLow:      low,
		PlayerTotals:  [2]uint64{4, 2},
		TokenBalances: [2]uint64{0, 1},
		ApprovedSpend: decimal.NewFromInt(7),
		RefreshedAt:   time.Now(),
	}
}

func TestConsole_StateTable(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	n.StateChanged(context.Background(), makeState(5, 2))

	out := buf.String()
	assert.Contains(t, out, "game running")
	assert.Contains(t, out, "Hi")
	assert.Contains(t, out, "Lo")
	assert.Contains(t, out, "Approved spend: 7 USDC")
}

func TestConsole_StateCompactDeduplicates(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)
	ctx := context.Background()

	n.StateChanged(ctx, makeState(5, 2))
	first := buf.String()
	assert.Contains(t, first, "Hi 5 | Lo 2 | you: Hi 0 Lo 1 | allowance 7 USDC")

	n.StateChanged(ctx, makeState(5, 2))
	assert.Equal(t, first, buf.String(), "same snapshot is not printed twice")

	n.StateChanged(ctx, makeState(4, 3))
	assert.Contains(t, buf.String(), "Hi 4 | Lo 3")
}

func TestConsole_GameOver(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	s := makeState(3, 3)
	s.Winners = []common.Address{alice}
	n.StateChanged(context.Background(), s)

	assert.Contains(t, buf.String(), "game over")
	assert.Contains(t, buf.String(), "You are one of the winners!")
}

func TestConsole_Outcome(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)
	ctx := context.Background()

	n.Outcome(ctx, domain.Outcome{
		Action:  domain.PendingAction{Kind: domain.ActionBuy, Token: domain.TokenLow, Count: 3},
		Stage:   domain.StageConfirmed,
		Receipt: &domain.Receipt{TxHash: common.HexToHash("0xabc"), BlockNumber: 42},
		Retried: true,
	})
	assert.Contains(t, buf.String(), "✓ buy 3 Lo")
	assert.Contains(t, buf.String(), "block 42")
	assert.Contains(t, buf.String(), "re-approved")

	buf.Reset()
	n.Outcome(ctx, domain.Outcome{
		Action: domain.PendingAction{Kind: domain.ActionSell, Token: domain.TokenHigh},
		Stage:  domain.StageFailed,
		Err:    domain.NewClassifiedError(domain.ErrSaleLocked, "Selling at this price is locked.", errors.New("revert")),
	})
	out := buf.String()
	assert.Contains(t, out, "✗ sell Hi: Selling at this price is locked.")
	assert.Contains(t, out, "join the Hi sell queue")

	buf.Reset()
	n.Outcome(ctx, domain.Outcome{
		Action: domain.PendingAction{Kind: domain.ActionJoinQueue, Token: domain.TokenLow},
		Stage:  domain.StageConfirmed,
		Ticket: &domain.QueueTicket{Kind: domain.TokenLow, Position: 2},
	})
	assert.Contains(t, buf.String(), "queue: Lo: position 2 in queue")
}

func TestConsole_BannersAndPending(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)
	ctx := context.Background()

	n.Banner(ctx, domain.Banner{Kind: domain.BannerGameOver, Message: "The game is over, someone won!", Winners: []common.Address{alice}})
	n.PendingChanged(ctx, domain.PendingAction{Kind: domain.ActionSell, Token: domain.TokenLow, Stage: domain.StageExecuting})
	n.PendingChanged(ctx, domain.PendingAction{Kind: domain.ActionSell, Token: domain.TokenLow, Stage: domain.StageExecuting, Dismissed: true})
	n.StillPending(ctx, common.HexToHash("0xabc"), 45*time.Second)

	out := buf.String()
	assert.Contains(t, out, "! The game is over, someone won!")
	assert.Contains(t, out, "winners: "+domain.TruncateAddress(alice))
	assert.Contains(t, out, "sell Lo: executing")
	assert.Contains(t, out, domain.DismissNotice)
	assert.Contains(t, out, "still pending after 45s")
}

func TestConsole_PrintJournal(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	n.PrintJournal(nil)
	assert.Contains(t, buf.String(), "no actions recorded")

	buf.Reset()
	n.PrintJournal([]domain.JournalEntry{{
		ID: "x", Action: domain.ActionSell, Token: domain.TokenLow,
		Stage: domain.StageFailed, Category: domain.ErrSaleLocked, FinishedAt: time.Now(),
	}})
	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "SELL")
	assert.Contains(t, out, "FAILED SALE_LOCKED")
}
