package orchestrator_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/hilo/internal/application/orchestrator"
	"github.com/alejandrodnm/hilo/internal/domain"
)

func step(t *testing.T, f orchestrator.Flow, ev orchestrator.Event) (orchestrator.Flow, orchestrator.Effect) {
	t.Helper()
	next, eff, err := orchestrator.Transition(f, ev)
	require.NoError(t, err)
	return next, eff
}

func TestTransition_BuyWithApproval(t *testing.T) {
	f := orchestrator.NewFlow(domain.ActionBuy)

	f, eff := step(t, f, orchestrator.Event{Type: orchestrator.EvStart})
	assert.Equal(t, domain.StageCheckingAllowance, f.Stage)
	assert.Equal(t, orchestrator.EffCheckAllowance, eff)

	f, eff = step(t, f, orchestrator.Event{Type: orchestrator.EvAllowanceShort})
	assert.Equal(t, domain.StageApproving, f.Stage)
	assert.Equal(t, orchestrator.EffApprove, eff)

	f, eff = step(t, f, orchestrator.Event{Type: orchestrator.EvConfirmed})
	assert.Equal(t, domain.StageExecuting, f.Stage)
	assert.Equal(t, orchestrator.EffExecute, eff)
	assert.True(t, f.Approved)

	f, eff = step(t, f, orchestrator.Event{Type: orchestrator.EvConfirmed})
	assert.Equal(t, domain.StageConfirmed, f.Stage)
	assert.Equal(t, orchestrator.EffRefresh, eff)
}

func TestTransition_SufficientAllowanceSkipsApproving(t *testing.T) {
	f := orchestrator.NewFlow(domain.ActionBuy)
	f, _ = step(t, f, orchestrator.Event{Type: orchestrator.EvStart})

	f, eff := step(t, f, orchestrator.Event{Type: orchestrator.EvAllowanceSufficient})
	assert.Equal(t, domain.StageExecuting, f.Stage)
	assert.Equal(t, orchestrator.EffExecute, eff)
}

func TestTransition_SellAndQueueSkipAllowance(t *testing.T) {
	for _, kind := range []domain.ActionKind{domain.ActionSell, domain.ActionJoinQueue} {
		f, eff := step(t, orchestrator.NewFlow(kind), orchestrator.Event{Type: orchestrator.EvStart})
		assert.Equal(t, domain.StageExecuting, f.Stage, kind)
		assert.Equal(t, orchestrator.EffExecute, eff, kind)
	}
}

func TestTransition_ApprovalFailureNeverTrades(t *testing.T) {
	f := orchestrator.NewFlow(domain.ActionBuy)
	f, _ = step(t, f, orchestrator.Event{Type: orchestrator.EvStart})
	f, _ = step(t, f, orchestrator.Event{Type: orchestrator.EvAllowanceShort})

	f, eff := step(t, f, orchestrator.Event{Type: orchestrator.EvFailed, Category: domain.ErrUserRejected})
	assert.Equal(t, domain.StageFailed, f.Stage)
	assert.Equal(t, orchestrator.EffReport, eff)
}

func TestTransition_AllowanceDriftRetriesOnce(t *testing.T) {
	drift := orchestrator.Event{Type: orchestrator.EvFailed, Category: domain.ErrAllowanceExceeded}

	f := orchestrator.Flow{Kind: domain.ActionBuy, Stage: domain.StageExecuting, Approved: true}
	f, eff := step(t, f, drift)
	assert.Equal(t, domain.StageCheckingAllowance, f.Stage)
	assert.Equal(t, orchestrator.EffCheckAllowance, eff)
	assert.True(t, f.Retried)

	// Second drift, even after a fresh approval, is terminal.
	f, _ = step(t, f, orchestrator.Event{Type: orchestrator.EvAllowanceShort})
	f, _ = step(t, f, orchestrator.Event{Type: orchestrator.EvConfirmed})
	f, eff = step(t, f, drift)
	assert.Equal(t, domain.StageFailed, f.Stage)
	assert.Equal(t, orchestrator.EffReport, eff)
}

func TestTransition_NoRetryWithoutApprovalOrForOtherCategories(t *testing.T) {
	tests := []struct {
		name string
		flow orchestrator.Flow
		cat  domain.ErrorCategory
	}{
		{"allowance without approval", orchestrator.Flow{Kind: domain.ActionBuy, Stage: domain.StageExecuting}, domain.ErrAllowanceExceeded},
		{"user rejected", orchestrator.Flow{Kind: domain.ActionBuy, Stage: domain.StageExecuting, Approved: true}, domain.ErrUserRejected},
		{"balance", orchestrator.Flow{Kind: domain.ActionBuy, Stage: domain.StageExecuting, Approved: true}, domain.ErrBalanceExceeded},
		{"sale locked", orchestrator.Flow{Kind: domain.ActionSell, Stage: domain.StageExecuting}, domain.ErrSaleLocked},
		{"unknown", orchestrator.Flow{Kind: domain.ActionBuy, Stage: domain.StageExecuting, Approved: true}, domain.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, eff := step(t, tt.flow, orchestrator.Event{Type: orchestrator.EvFailed, Category: tt.cat})
			assert.Equal(t, domain.StageFailed, f.Stage)
			assert.Equal(t, orchestrator.EffReport, eff)
		})
	}
}

func TestTransition_PreApprove(t *testing.T) {
	f := orchestrator.NewFlow(domain.ActionApprove)
	f, _ = step(t, f, orchestrator.Event{Type: orchestrator.EvStart})

	covered, eff := step(t, f, orchestrator.Event{Type: orchestrator.EvAllowanceSufficient})
	assert.Equal(t, domain.StageConfirmed, covered.Stage)
	assert.Equal(t, orchestrator.EffRefresh, eff)

	f, _ = step(t, f, orchestrator.Event{Type: orchestrator.EvAllowanceShort})
	f, eff = step(t, f, orchestrator.Event{Type: orchestrator.EvConfirmed})
	assert.Equal(t, domain.StageConfirmed, f.Stage)
	assert.Equal(t, orchestrator.EffRefresh, eff)
}

func TestTransition_TerminalStagesRejectEvents(t *testing.T) {
	for _, stage := range []domain.Stage{domain.StageConfirmed, domain.StageFailed} {
		_, _, err := orchestrator.Transition(
			orchestrator.Flow{Kind: domain.ActionBuy, Stage: stage},
			orchestrator.Event{Type: orchestrator.EvStart},
		)
		var invalid *orchestrator.InvalidTransitionError
		assert.ErrorAs(t, err, &invalid)
	}
}

func TestRequiredAmount(t *testing.T) {
	one := decimal.NewFromInt(1)
	five := decimal.NewFromInt(5)

	assert.Equal(t, "5", orchestrator.RequiredAmount(domain.TokenHigh, 5, 1, one).String())
	assert.Equal(t, "15", orchestrator.RequiredAmount(domain.TokenHigh, 5, 3, five).String(), "high ignores the margin")
	assert.Equal(t, "3", orchestrator.RequiredAmount(domain.TokenLow, 2, 1, one).String())
	assert.Equal(t, "7", orchestrator.RequiredAmount(domain.TokenLow, 2, 3, one).String())
	assert.Equal(t, "11", orchestrator.RequiredAmount(domain.TokenLow, 2, 3, five).String())
}
