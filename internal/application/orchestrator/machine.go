package orchestrator

// machine.go — máquina de estados de una acción, sin efectos.
//
//	Idle → CheckingAllowance → Approving → Executing → Confirmed | Failed
//
// Transition es una función pura de (flujo, evento) → (flujo, efecto). El
// runner en orchestrator.go ejecuta el efecto contra el gateway y le
// devuelve el evento resultante. Así cada paso se prueba sin cadena.

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/hilo/internal/domain"
)

// EventType es lo que el runner observó al ejecutar un efecto.
type EventType string

const (
	EvStart               EventType = "START"
	EvAllowanceSufficient EventType = "ALLOWANCE_SUFFICIENT"
	EvAllowanceShort      EventType = "ALLOWANCE_SHORT"
	EvConfirmed           EventType = "CONFIRMED"
	EvFailed              EventType = "FAILED"
)

// Event alimenta la máquina. Category sólo aplica a EvFailed.
type Event struct {
	Type     EventType
	Category domain.ErrorCategory
}

// Effect es el trabajo que el runner debe hacer al entrar a un estado.
type Effect string

const (
	EffCheckAllowance Effect = "CHECK_ALLOWANCE" // refrescar y comparar allowance
	EffApprove        Effect = "APPROVE"
	EffExecute        Effect = "EXECUTE"
	EffRefresh        Effect = "REFRESH" // refrescar y reportar éxito
	EffReport         Effect = "REPORT"  // reportar el fallo
)

// Flow es el estado completo de la máquina para una acción.
type Flow struct {
	Kind     domain.ActionKind
	Stage    domain.Stage
	Approved bool // hubo una aprobación confirmada en esta invocación
	Retried  bool // ya se usó el único reintento por allowance
}

// NewFlow arranca una acción en Idle.
func NewFlow(kind domain.ActionKind) Flow {
	return Flow{Kind: kind, Stage: domain.StageIdle}
}

// InvalidTransitionError indica un evento que no corresponde al estado actual.
type InvalidTransitionError struct {
	Stage domain.Stage
	Event EventType
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("orchestrator: no transition from %s on %s", e.Stage, e.Event)
}

// Transition calcula el siguiente estado y el efecto a ejecutar.
func Transition(f Flow, ev Event) (Flow, Effect, error) {
	invalid := &InvalidTransitionError{Stage: f.Stage, Event: ev.Type}
	next := f

	switch f.Stage {
	case domain.StageIdle:
		if ev.Type != EvStart {
			return f, "", invalid
		}
		switch f.Kind {
		case domain.ActionBuy, domain.ActionApprove:
			next.Stage = domain.StageCheckingAllowance
			return next, EffCheckAllowance, nil
		case domain.ActionSell, domain.ActionJoinQueue:
			next.Stage = domain.StageExecuting
			return next, EffExecute, nil
		}
		return f, "", invalid

	case domain.StageCheckingAllowance:
		switch ev.Type {
		case EvAllowanceSufficient:
			if f.Kind == domain.ActionApprove {
				next.Stage = domain.StageConfirmed
				return next, EffRefresh, nil
			}
			next.Stage = domain.StageExecuting
			return next, EffExecute, nil
		case EvAllowanceShort:
			next.Stage = domain.StageApproving
			return next, EffApprove, nil
		case EvFailed:
			next.Stage = domain.StageFailed
			return next, EffReport, nil
		}

	case domain.StageApproving:
		switch ev.Type {
		case EvConfirmed:
			next.Approved = true
			if f.Kind == domain.ActionApprove {
				next.Stage = domain.StageConfirmed
				return next, EffRefresh, nil
			}
			next.Stage = domain.StageExecuting
			return next, EffExecute, nil
		case EvFailed:
			next.Stage = domain.StageFailed
			return next, EffReport, nil
		}

	case domain.StageExecuting:
		switch ev.Type {
		case EvConfirmed:
			next.Stage = domain.StageConfirmed
			return next, EffRefresh, nil
		case EvFailed:
			if allowanceDrift(f, ev) {
				next.Stage = domain.StageCheckingAllowance
				next.Retried = true
				next.Approved = false
				return next, EffCheckAllowance, nil
			}
			next.Stage = domain.StageFailed
			return next, EffReport, nil
		}
	}

	return f, "", invalid
}

// allowanceDrift: el precio subió entre la aprobación y el trade. Se
// reintenta una sola vez y sólo si la aprobación ocurrió en esta invocación.
func allowanceDrift(f Flow, ev Event) bool {
	return f.Kind == domain.ActionBuy &&
		ev.Category == domain.ErrAllowanceExceeded &&
		f.Approved &&
		!f.Retried
}

// RequiredAmount es el allowance necesario para comprar count tokens de kind
// a price. Hi usa el precio exacto porque sólo baja; Lo suma margin porque
// sólo sube.
func RequiredAmount(kind domain.TokenKind, price, count uint64, margin decimal.Decimal) decimal.Decimal {
	total := decimal.NewFromUint64(price).Mul(decimal.NewFromUint64(count))
	if kind == domain.TokenLow {
		return total.Add(margin)
	}
	return total
}
