package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/hilo/internal/application/orchestrator"
	"github.com/alejandrodnm/hilo/internal/application/state"
	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/ports"
	"github.com/alejandrodnm/hilo/internal/test/fakes"
)

var player = common.HexToAddress("0xB0B")

type testSession struct {
	signer *fakes.Signer
}

func (s *testSession) ID() string              { return "session-1" }
func (s *testSession) Account() common.Address { return s.signer.Addr }
func (s *testSession) Signer() ports.Signer    { return s.signer }

type harness struct {
	ledger   *fakes.Ledger
	store    *state.Store
	notifier *fakes.Notifier
	journal  *fakes.Journal
	orch     *orchestrator.Orchestrator
	sess     *testSession
}

func newHarness(high, low uint64) *harness {
	h := &harness{
		ledger:   fakes.NewLedger(high, low),
		notifier: &fakes.Notifier{},
		journal:  &fakes.Journal{},
		sess:     &testSession{signer: &fakes.Signer{Addr: player}},
	}
	h.store = state.NewStore(h.ledger, h.notifier)
	h.store.Bind(player)
	h.orch = orchestrator.New(h.ledger, h.store, h.notifier, h.journal, orchestrator.DefaultConfig())
	return h
}

func stages(s ...domain.Stage) []domain.Stage { return s }

const (
	idle     = domain.StageIdle
	checking = domain.StageCheckingAllowance
	approval = domain.StageApproving
	exec     = domain.StageExecuting
	done     = domain.StageConfirmed
	failed   = domain.StageFailed
)

func TestBuy_ApprovesThenBuys(t *testing.T) {
	h := newHarness(5, 1)

	out, err := h.orch.Buy(context.Background(), h.sess, domain.TokenHigh, 1)
	require.NoError(t, err)

	assert.True(t, out.Succeeded())
	assert.Equal(t, stages(idle, checking, approval, exec, done), out.Transitions)
	assert.Equal(t, []string{"approve 5", "buy Hi 1"}, h.ledger.Writes())
	require.NotNil(t, out.Receipt)

	snap, ok := h.store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Balance(domain.TokenHigh), "state refreshed before success is reported")
}

func TestBuy_SkipsApprovalWhenCovered(t *testing.T) {
	h := newHarness(5, 1)
	h.ledger.Allowed = decimal.NewFromInt(45)

	out, err := h.orch.Buy(context.Background(), h.sess, domain.TokenHigh, 3)
	require.NoError(t, err)

	assert.Equal(t, stages(idle, checking, exec, done), out.Transitions)
	assert.Equal(t, []string{"buy Hi 3"}, h.ledger.Writes())
	assert.NotContains(t, out.Transitions, approval)
}

func TestBuy_LowAddsMargin(t *testing.T) {
	h := newHarness(5, 2)

	_, err := h.orch.Buy(context.Background(), h.sess, domain.TokenLow, 3)
	require.NoError(t, err)

	assert.Equal(t, "approve 7", h.ledger.Writes()[0])
}

func TestBuy_RetriesOnceAfterPriceDrift(t *testing.T) {
	h := newHarness(5, 2)
	drifted := false
	h.ledger.BeforeBuy = func(l *fakes.Ledger) {
		if !drifted {
			drifted = true
			// Someone else bought Lo between our approval and our trade.
			l.Set(func(l *fakes.Ledger) { l.Prices[domain.TokenLow] = 4 })
		}
	}

	out, err := h.orch.Buy(context.Background(), h.sess, domain.TokenLow, 1)
	require.NoError(t, err)

	assert.True(t, out.Succeeded())
	assert.True(t, out.Retried)
	assert.Nil(t, out.Err)
	assert.Equal(t, stages(idle, checking, approval, exec, checking, approval, exec, done), out.Transitions)
	assert.Equal(t, []string{"approve 3", "buy Lo 1", "approve 5", "buy Lo 1"}, h.ledger.Writes())
}

func TestBuy_GivesUpAfterSecondDrift(t *testing.T) {
	h := newHarness(5, 2)
	h.ledger.BuyErrs = []error{fakes.ErrAllowance, fakes.ErrAllowance}

	out, err := h.orch.Buy(context.Background(), h.sess, domain.TokenLow, 1)
	require.NoError(t, err)

	assert.Equal(t, failed, out.Stage)
	require.NotNil(t, out.Err)
	assert.Equal(t, domain.ErrAllowanceExceeded, out.Err.Category)
	assert.True(t, out.Retried)

	buys := 0
	for _, w := range h.ledger.Writes() {
		if w == "buy Lo 1" {
			buys++
		}
	}
	assert.Equal(t, 2, buys)
}

func TestBuy_RejectedApprovalNeverTrades(t *testing.T) {
	h := newHarness(5, 2)
	h.ledger.ApproveErrs = []error{fakes.Rejection{}}

	out, err := h.orch.Buy(context.Background(), h.sess, domain.TokenHigh, 1)
	require.NoError(t, err)

	assert.Equal(t, stages(idle, checking, approval, failed), out.Transitions)
	assert.Equal(t, domain.ErrUserRejected, out.Err.Category)
	assert.False(t, out.Retried)
	assert.Equal(t, []string{"approve 5"}, h.ledger.Writes())
}

func TestBuy_RejectedTradeIsNotRetried(t *testing.T) {
	h := newHarness(5, 2)
	h.ledger.BuyErrs = []error{fakes.Rejection{}}

	out, err := h.orch.Buy(context.Background(), h.sess, domain.TokenHigh, 1)
	require.NoError(t, err)

	assert.Equal(t, failed, out.Stage)
	assert.Equal(t, domain.ErrUserRejected, out.Err.Category)
	assert.Equal(t, []string{"approve 5", "buy Hi 1"}, h.ledger.Writes())
}

func TestSell_LockedThenQueue(t *testing.T) {
	h := newHarness(5, 2)
	h.ledger.Balances = [2]uint64{0, 1}
	h.ledger.QueuePositions = [2]uint64{0, 2}

	out, err := h.orch.Sell(context.Background(), h.sess, domain.TokenLow)
	require.NoError(t, err)
	assert.Equal(t, stages(idle, exec, failed), out.Transitions)
	require.NotNil(t, out.Err)
	assert.Equal(t, domain.ErrSaleLocked, out.Err.Category)
	assert.True(t, out.Err.Actionable())

	out, err = h.orch.JoinQueue(context.Background(), h.sess, domain.TokenLow)
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.False(t, out.SoldDirect)
	require.NotNil(t, out.Ticket)
	assert.Equal(t, domain.QueueTicket{Kind: domain.TokenLow, Position: 2}, *out.Ticket)

	snap, _ := h.store.Snapshot()
	assert.Equal(t, uint64(1), snap.Balance(domain.TokenLow), "nothing was sold")
	assert.Equal(t, []domain.QueueTicket{{Kind: domain.TokenLow, Position: 2}}, h.store.Tickets())
	assert.Equal(t, []string{"sell Lo", "queue Lo"}, h.ledger.Writes())
}

func TestJoinQueue_SellsWhenOpen(t *testing.T) {
	h := newHarness(5, 2)
	h.ledger.Balances = [2]uint64{2, 0}
	h.ledger.SaleOpen = [2]bool{true, false}

	out, err := h.orch.JoinQueue(context.Background(), h.sess, domain.TokenHigh)
	require.NoError(t, err)

	assert.True(t, out.Succeeded())
	assert.True(t, out.SoldDirect)
	assert.Nil(t, out.Ticket)
	assert.Equal(t, []string{"sell Hi"}, h.ledger.Writes())
}

func TestGuards(t *testing.T) {
	ctx := context.Background()

	h := newHarness(5, 2)
	_, err := h.orch.Buy(ctx, h.sess, domain.TokenHigh, 2)
	assert.ErrorIs(t, err, orchestrator.ErrInvalidCount)

	_, err = h.orch.Buy(ctx, h.sess, domain.TokenKind(9), 1)
	assert.ErrorIs(t, err, orchestrator.ErrInvalidToken)

	_, err = h.orch.Sell(ctx, h.sess, domain.TokenLow)
	assert.ErrorIs(t, err, orchestrator.ErrNothingToSell)

	_, err = h.orch.JoinQueue(ctx, h.sess, domain.TokenLow)
	assert.ErrorIs(t, err, orchestrator.ErrNothingToSell)

	other := &testSession{signer: &fakes.Signer{Addr: common.HexToAddress("0xCAFE")}}
	_, err = h.orch.Buy(ctx, other, domain.TokenHigh, 1)
	assert.ErrorIs(t, err, orchestrator.ErrWrongAccount)

	h.ledger.Conclude(common.HexToAddress("0xA11CE"))
	_, err = h.store.Refresh(ctx)
	require.NoError(t, err)
	_, err = h.orch.Buy(ctx, h.sess, domain.TokenHigh, 1)
	assert.ErrorIs(t, err, orchestrator.ErrGameConcluded)
	_, err = h.orch.PreApprove(ctx, h.sess)
	assert.ErrorIs(t, err, orchestrator.ErrGameConcluded)

	assert.Empty(t, h.ledger.Writes())
}

func TestInFlightIsPerToken(t *testing.T) {
	h := newHarness(5, 2)
	h.ledger.Allowed = decimal.NewFromInt(45)
	h.ledger.Balances = [2]uint64{0, 1}
	h.ledger.SaleOpen = [2]bool{false, true}

	entered := make(chan struct{})
	release := make(chan struct{})
	h.ledger.BeforeBuy = func(*fakes.Ledger) {
		close(entered)
		<-release
	}

	ctx := context.Background()
	_, err := h.store.Refresh(ctx)
	require.NoError(t, err)

	result := make(chan domain.Outcome, 1)
	go func() {
		out, _ := h.orch.Buy(ctx, h.sess, domain.TokenHigh, 1)
		result <- out
	}()
	<-entered

	_, err = h.orch.Buy(ctx, h.sess, domain.TokenHigh, 1)
	assert.ErrorIs(t, err, orchestrator.ErrActionInFlight)
	_, err = h.orch.Sell(ctx, h.sess, domain.TokenHigh)
	assert.ErrorIs(t, err, orchestrator.ErrNothingToSell)

	// The other token is independent.
	out, err := h.orch.Sell(ctx, h.sess, domain.TokenLow)
	require.NoError(t, err)
	assert.True(t, out.Succeeded())

	pending := h.orch.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.ActionBuy, pending[0].Kind)
	assert.Equal(t, domain.StageExecuting, pending[0].Stage)

	close(release)
	select {
	case out := <-result:
		assert.True(t, out.Succeeded())
	case <-time.After(time.Second):
		t.Fatal("buy did not finish")
	}
	assert.Empty(t, h.orch.Pending())
}

func TestApprovalsDoNotOverwriteEachOther(t *testing.T) {
	h := newHarness(5, 2)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.ledger.BeforeApprove = func(decimal.Decimal) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	ctx := context.Background()
	_, err := h.store.Refresh(ctx)
	require.NoError(t, err)

	bought := make(chan domain.Outcome, 1)
	go func() {
		out, _ := h.orch.Buy(ctx, h.sess, domain.TokenLow, 1)
		bought <- out
	}()
	<-entered

	approved := make(chan domain.Outcome, 1)
	go func() {
		out, _ := h.orch.PreApprove(ctx, h.sess)
		approved <- out
	}()

	// The pre-approval waits for the buy's approval to settle.
	select {
	case <-approved:
		t.Fatal("pre-approval ran while another approval was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	for _, ch := range []chan domain.Outcome{bought, approved} {
		select {
		case out := <-ch:
			assert.True(t, out.Succeeded())
		case <-time.After(time.Second):
			t.Fatal("action did not finish")
		}
	}

	writes := h.ledger.Writes()
	require.NotEmpty(t, writes)
	assert.Equal(t, "approve 3", writes[0])
	assert.Contains(t, writes, "approve 45")
	assert.Contains(t, writes, "buy Lo 1")
	assert.True(t, h.ledger.Allowed.GreaterThanOrEqual(decimal.NewFromInt(43)), "allowance %s", h.ledger.Allowed)
}

func TestDismissHidesButDoesNotCancel(t *testing.T) {
	h := newHarness(5, 2)
	h.ledger.Allowed = decimal.NewFromInt(45)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.ledger.BeforeBuy = func(*fakes.Ledger) {
		close(entered)
		<-release
	}

	ctx := context.Background()
	result := make(chan domain.Outcome, 1)
	go func() {
		out, _ := h.orch.Buy(ctx, h.sess, domain.TokenHigh, 1)
		result <- out
	}()
	<-entered

	notice, err := h.orch.Dismiss(ctx, domain.TokenHigh)
	require.NoError(t, err)
	assert.Equal(t, domain.DismissNotice, notice)
	assert.Empty(t, h.orch.Pending())

	_, err = h.orch.Dismiss(ctx, domain.TokenHigh)
	assert.ErrorIs(t, err, orchestrator.ErrNothingPending)

	// Still exclusive while the transaction is out.
	_, err = h.orch.Buy(ctx, h.sess, domain.TokenHigh, 1)
	assert.ErrorIs(t, err, orchestrator.ErrActionInFlight)

	close(release)
	out := <-result
	assert.True(t, out.Succeeded(), "a dismissed transaction can still confirm")
	assert.True(t, out.Action.Dismissed)

	_, err = h.orch.Dismiss(ctx, domain.TokenLow)
	assert.ErrorIs(t, err, orchestrator.ErrNothingPending)
}

func TestResetSuppressesStaleOutcome(t *testing.T) {
	h := newHarness(5, 2)
	h.ledger.Allowed = decimal.NewFromInt(45)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.ledger.BeforeBuy = func(*fakes.Ledger) {
		close(entered)
		<-release
	}

	ctx := context.Background()
	result := make(chan domain.Outcome, 1)
	go func() {
		out, _ := h.orch.Buy(ctx, h.sess, domain.TokenHigh, 1)
		result <- out
	}()
	<-entered

	h.orch.Reset()
	h.store.Invalidate()
	assert.Empty(t, h.orch.Pending())

	close(release)
	<-result
	assert.Empty(t, h.notifier.Outcomes(), "the new session never sees the old outcome")
	_, ok := h.store.Snapshot()
	assert.False(t, ok)
}

func TestPreApprove(t *testing.T) {
	h := newHarness(5, 1)
	assert.False(t, h.orch.NeedsApproval(), "no state loaded yet")

	out, err := h.orch.PreApprove(context.Background(), h.sess)
	require.NoError(t, err)
	assert.Equal(t, stages(idle, checking, approval, done), out.Transitions)
	assert.Equal(t, []string{"approve 45"}, h.ledger.Writes())
	assert.False(t, h.orch.NeedsApproval())

	out, err = h.orch.PreApprove(context.Background(), h.sess)
	require.NoError(t, err)
	assert.Equal(t, stages(idle, checking, done), out.Transitions)
	assert.Len(t, h.ledger.Writes(), 1, "already covered")
}

func TestOutcomesAreJournaledAndNotified(t *testing.T) {
	h := newHarness(5, 2)
	h.ledger.ApproveErrs = []error{fakes.Rejection{}}

	_, err := h.orch.Buy(context.Background(), h.sess, domain.TokenLow, 1)
	require.NoError(t, err)

	entries, err := h.journal.RecentOutcomes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionBuy, entries[0].Action)
	assert.Equal(t, domain.StageFailed, entries[0].Stage)
	assert.Equal(t, domain.ErrUserRejected, entries[0].Category)
	assert.Equal(t, "session-1", entries[0].SessionID)

	outcomes := h.notifier.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.StageFailed, outcomes[0].Stage)

	var seen []domain.Stage
	for _, p := range h.notifier.Pending() {
		seen = append(seen, p.Stage)
	}
	assert.Equal(t, stages(checking, approval, failed), seen)
}
