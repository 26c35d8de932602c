package orchestrator

// orchestrator.go — ejecuta acciones del usuario contra el contrato.
//
// Cada acción (comprar, vender, entrar a la cola, pre-aprobar) ocupa un slot:
// uno por token y uno para la pre-aprobación. Acciones sobre tokens
// distintos corren en paralelo; sobre el mismo token se rechazan con
// ErrActionInFlight. El runner avanza la máquina de machine.go hasta un
// estado terminal y devuelve un único Outcome.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/hilo/internal/application/classify"
	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/metrics"
	"github.com/alejandrodnm/hilo/internal/ports"
)

// Errores de validación: la acción nunca arrancó.
var (
	ErrActionInFlight = errors.New("orchestrator: an action is already in flight for this token")
	ErrInvalidToken   = errors.New("orchestrator: unknown token")
	ErrInvalidCount   = errors.New("orchestrator: buy count must be 1 or 3")
	ErrGameConcluded  = errors.New("orchestrator: the game is over")
	ErrNothingToSell  = errors.New("orchestrator: no tokens to sell")
	ErrNothingPending = errors.New("orchestrator: no pending action")
	ErrWrongAccount   = errors.New("orchestrator: session does not match the loaded state")
)

// Session es lo que el orquestador necesita de una sesión de wallet.
type Session interface {
	ID() string
	Account() common.Address
	Signer() ports.Signer
}

// StateStore es el Game State Store visto desde el orquestador.
type StateStore interface {
	Refresh(ctx context.Context) (domain.GameState, error)
	Snapshot() (domain.GameState, bool)
	TrackQueue(kind domain.TokenKind)
	Account() common.Address
}

// Config son los parámetros de trading.
type Config struct {
	LowBuyMargin      decimal.Decimal // se suma al precio de Lo; mínimo 1
	MaxApprovalAmount decimal.Decimal // monto de la pre-aprobación
}

// DefaultConfig usa los valores del juego en Mumbai: precios iniciales 5 y 1,
// pre-aprobación 5 × (5 + 1) × 3 / 2 = 45.
func DefaultConfig() Config {
	return Config{
		LowBuyMargin:      decimal.NewFromInt(1),
		MaxApprovalAmount: decimal.NewFromInt(45),
	}
}

type slot int

const approveSlot slot = 2

type entry struct {
	action domain.PendingAction
	epoch  uint64
}

// Orchestrator secuencia las transacciones de cada acción.
type Orchestrator struct {
	ledger     ports.Ledger
	store      StateStore
	notifier   ports.Notifier
	journal    ports.Journal
	classifier classify.Classifier
	cfg        Config
	now        func() time.Time

	mu    sync.Mutex
	slots map[slot]*entry
	epoch uint64 // sube con cada Reset

	// approving serializa chequeo de allowance y aprobación entre slots:
	// approve fija el allowance, no lo suma.
	approving chan struct{}
}

// New crea un orquestador. notifier y journal pueden ser nil.
func New(ledger ports.Ledger, store StateStore, notifier ports.Notifier, journal ports.Journal, cfg Config) *Orchestrator {
	one := decimal.NewFromInt(1)
	if cfg.LowBuyMargin.LessThan(one) {
		cfg.LowBuyMargin = one
	}
	if cfg.MaxApprovalAmount.Sign() <= 0 {
		cfg.MaxApprovalAmount = DefaultConfig().MaxApprovalAmount
	}
	return &Orchestrator{
		ledger:     ledger,
		store:      store,
		notifier:   notifier,
		journal:    journal,
		classifier: classify.Default,
		cfg:        cfg,
		now:        time.Now,
		slots:      make(map[slot]*entry),
		approving:  make(chan struct{}, 1),
	}
}

// WithClassifier reemplaza el clasificador (nombre de red distinto).
func (o *Orchestrator) WithClassifier(c classify.Classifier) *Orchestrator {
	o.classifier = c
	return o
}

// Buy compra count (1 o 3) tokens de kind.
func (o *Orchestrator) Buy(ctx context.Context, sess Session, kind domain.TokenKind, count uint64) (domain.Outcome, error) {
	if count != domain.BuyOne && count != domain.BuyThree {
		return domain.Outcome{}, ErrInvalidCount
	}
	if _, err := o.eligible(ctx, sess, kind, false); err != nil {
		return domain.Outcome{}, err
	}
	return o.start(ctx, sess, slot(kind), domain.PendingAction{Kind: domain.ActionBuy, Token: kind, Count: count})
}

// Sell vende un token de kind. Si la venta está bloqueada el Outcome trae
// un error SaleLocked y la UI puede ofrecer JoinQueue.
func (o *Orchestrator) Sell(ctx context.Context, sess Session, kind domain.TokenKind) (domain.Outcome, error) {
	if _, err := o.eligible(ctx, sess, kind, true); err != nil {
		return domain.Outcome{}, err
	}
	return o.start(ctx, sess, slot(kind), domain.PendingAction{Kind: domain.ActionSell, Token: kind})
}

// JoinQueue pide vender kind apenas se pueda. Si la venta ya está abierta
// vende directamente en lugar de encolar.
func (o *Orchestrator) JoinQueue(ctx context.Context, sess Session, kind domain.TokenKind) (domain.Outcome, error) {
	if _, err := o.eligible(ctx, sess, kind, true); err != nil {
		return domain.Outcome{}, err
	}
	return o.start(ctx, sess, slot(kind), domain.PendingAction{Kind: domain.ActionJoinQueue, Token: kind})
}

// PreApprove aprueba MaxApprovalAmount de una vez. No hace nada si el
// allowance ya alcanza.
func (o *Orchestrator) PreApprove(ctx context.Context, sess Session) (domain.Outcome, error) {
	snap, err := o.loaded(ctx, sess)
	if err != nil {
		return domain.Outcome{}, err
	}
	if snap.Concluded() {
		return domain.Outcome{}, ErrGameConcluded
	}
	return o.start(ctx, sess, approveSlot, domain.PendingAction{Kind: domain.ActionApprove, Amount: o.cfg.MaxApprovalAmount})
}

// NeedsApproval indica si el allowance no cubre ni una compra de Lo.
func (o *Orchestrator) NeedsApproval() bool {
	snap, ok := o.store.Snapshot()
	if !ok || snap.Concluded() {
		return false
	}
	return snap.ApprovedSpend.LessThan(RequiredAmount(domain.TokenLow, snap.PriceLow, domain.BuyOne, o.cfg.LowBuyMargin))
}

// Dismiss oculta la acción pendiente de kind. La transacción que ya salió a
// la red no se cancela y puede confirmarse igual.
func (o *Orchestrator) Dismiss(ctx context.Context, kind domain.TokenKind) (string, error) {
	if !kind.Valid() {
		return "", ErrInvalidToken
	}
	o.mu.Lock()
	e, ok := o.slots[slot(kind)]
	if !ok || e.action.Dismissed {
		o.mu.Unlock()
		return "", ErrNothingPending
	}
	e.action.Dismissed = true
	action := e.action
	o.mu.Unlock()

	slog.Info("orchestrator: pending action dismissed", "action", action.Label(), "id", action.ID)
	if o.notifier != nil {
		o.notifier.PendingChanged(ctx, action)
	}
	return domain.DismissNotice, nil
}

// Pending devuelve las acciones en vuelo que siguen visibles.
func (o *Orchestrator) Pending() []domain.PendingAction {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []domain.PendingAction
	for _, s := range []slot{slot(domain.TokenHigh), slot(domain.TokenLow), approveSlot} {
		if e, ok := o.slots[s]; ok && !e.action.Dismissed && e.epoch == o.epoch {
			out = append(out, e.action)
		}
	}
	return out
}

// Reset invalida todas las acciones pendientes (cambio de cuenta o red).
// Las transacciones ya enviadas siguen su curso pero su resultado no se
// presenta a la nueva sesión.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.epoch++
	for _, e := range o.slots {
		e.action.Dismissed = true
	}
}

// loaded devuelve el snapshot de la sesión, refrescando si hace falta.
func (o *Orchestrator) loaded(ctx context.Context, sess Session) (domain.GameState, error) {
	if o.store.Account() != sess.Account() {
		return domain.GameState{}, ErrWrongAccount
	}
	if snap, ok := o.store.Snapshot(); ok {
		return snap, nil
	}
	snap, err := o.store.Refresh(ctx)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("orchestrator: load state: %w", err)
	}
	return snap, nil
}

// eligible aplica las validaciones del lado del cliente.
func (o *Orchestrator) eligible(ctx context.Context, sess Session, kind domain.TokenKind, selling bool) (domain.GameState, error) {
	if !kind.Valid() {
		return domain.GameState{}, ErrInvalidToken
	}
	snap, err := o.loaded(ctx, sess)
	if err != nil {
		return domain.GameState{}, err
	}
	if snap.Concluded() {
		return snap, ErrGameConcluded
	}
	if selling && !snap.CanSell(kind) {
		return snap, ErrNothingToSell
	}
	return snap, nil
}

// start reserva el slot y corre la acción hasta el final.
func (o *Orchestrator) start(ctx context.Context, sess Session, s slot, action domain.PendingAction) (domain.Outcome, error) {
	action.ID = uuid.NewString()
	action.Stage = domain.StageIdle
	action.StartedAt = o.now().UTC()

	o.mu.Lock()
	if _, busy := o.slots[s]; busy {
		o.mu.Unlock()
		return domain.Outcome{}, ErrActionInFlight
	}
	e := &entry{action: action, epoch: o.epoch}
	o.slots[s] = e
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.slots, s)
		o.mu.Unlock()
	}()

	slog.Info("orchestrator: action started", "action", action.Label(), "id", action.ID, "session", sess.ID())
	out := o.run(ctx, sess, e)
	o.finish(ctx, sess, e, out)
	return out, nil
}

// run avanza la máquina de estados ejecutando cada efecto.
func (o *Orchestrator) run(ctx context.Context, sess Session, e *entry) domain.Outcome {
	action := e.action
	flow := NewFlow(action.Kind)
	out := domain.Outcome{Action: action, Transitions: []domain.Stage{flow.Stage}}

	var (
		required decimal.Decimal
		holding  bool
	)
	release := func() {
		if holding {
			holding = false
			<-o.approving
		}
	}
	defer release()

	ev := Event{Type: EvStart}
	for {
		next, effect, err := Transition(flow, ev)
		if err != nil {
			// No debería pasar: la máquina y el runner están desincronizados.
			slog.Error("orchestrator: state machine rejected event", "err", err, "id", action.ID)
			out.Stage = domain.StageFailed
			out.Err = o.classifier.Classify(err)
			break
		}
		if next.Retried && !flow.Retried {
			out.Retried = true
			out.Err = nil
			metrics.RecordAllowanceRetry()
			slog.Warn("orchestrator: allowance fell short after approval, retrying once", "id", action.ID)
		}
		flow = next
		out.Stage = flow.Stage
		out.Transitions = append(out.Transitions, flow.Stage)
		o.setStage(ctx, e, flow.Stage)

		switch effect {
		case EffCheckAllowance:
			if !holding {
				select {
				case o.approving <- struct{}{}:
					holding = true
				case <-ctx.Done():
					ev = o.failed(&out, ctx.Err())
					continue
				}
			}
			ev, required = o.checkAllowance(ctx, action, &out)
			if ev.Type != EvAllowanceShort {
				release()
			}
		case EffApprove:
			ev = o.approve(ctx, sess, action, required, &out)
			release()
		case EffExecute:
			ev = o.execute(ctx, sess, action, &out)
		case EffRefresh:
			o.confirm(ctx, sess, action, &out)
			return out
		case EffReport:
			return out
		}
	}
	return out
}

// checkAllowance refresca el estado y compara allowance con lo requerido.
func (o *Orchestrator) checkAllowance(ctx context.Context, action domain.PendingAction, out *domain.Outcome) (Event, decimal.Decimal) {
	snap, err := o.store.Refresh(ctx)
	if err != nil {
		return o.failed(out, fmt.Errorf("refresh before allowance check: %w", err)), decimal.Zero
	}
	if snap.Concluded() {
		return o.failed(out, domain.NewClassifiedError(domain.ErrGamePaused, "The game is over, someone won!", ErrGameConcluded)), decimal.Zero
	}

	required := o.cfg.MaxApprovalAmount
	if action.Kind == domain.ActionBuy {
		required = RequiredAmount(action.Token, snap.Price(action.Token), action.Count, o.cfg.LowBuyMargin)
	}
	slog.Debug("orchestrator: allowance check", "id", action.ID, "approved", snap.ApprovedSpend, "required", required)

	if snap.ApprovedSpend.GreaterThanOrEqual(required) {
		return Event{Type: EvAllowanceSufficient}, required
	}
	return Event{Type: EvAllowanceShort}, required
}

func (o *Orchestrator) approve(ctx context.Context, sess Session, action domain.PendingAction, amount decimal.Decimal, out *domain.Outcome) Event {
	r, err := o.ledger.ApproveSpend(ctx, sess.Signer(), amount)
	if err != nil {
		return o.failed(out, err)
	}
	slog.Info("orchestrator: spend approved", "id", action.ID, "amount", amount, "tx", r.TxHash.Hex())
	out.Receipt = &r
	return Event{Type: EvConfirmed}
}

func (o *Orchestrator) execute(ctx context.Context, sess Session, action domain.PendingAction, out *domain.Outcome) Event {
	var (
		r   domain.Receipt
		err error
	)
	switch action.Kind {
	case domain.ActionBuy:
		r, err = o.ledger.Buy(ctx, sess.Signer(), action.Token, action.Count)
	case domain.ActionSell:
		r, err = o.ledger.Sell(ctx, sess.Signer(), action.Token)
	case domain.ActionJoinQueue:
		var open bool
		open, err = o.ledger.CanSell(ctx, action.Token)
		if err != nil {
			break
		}
		if open {
			slog.Info("orchestrator: sale is open, selling instead of queueing", "id", action.ID, "token", action.Token)
			out.SoldDirect = true
			r, err = o.ledger.Sell(ctx, sess.Signer(), action.Token)
		} else {
			r, err = o.ledger.JoinQueue(ctx, sess.Signer(), action.Token)
		}
	default:
		err = fmt.Errorf("orchestrator: %s has no execute step", action.Kind)
	}
	if err != nil {
		return o.failed(out, err)
	}
	out.Receipt = &r
	return Event{Type: EvConfirmed}
}

// confirm refresca el estado antes de reportar el éxito.
func (o *Orchestrator) confirm(ctx context.Context, sess Session, action domain.PendingAction, out *domain.Outcome) {
	if action.Kind == domain.ActionJoinQueue && !out.SoldDirect {
		o.store.TrackQueue(action.Token)
		pos, err := o.ledger.QueuePosition(ctx, action.Token, sess.Account())
		if err != nil {
			slog.Warn("orchestrator: queue position unavailable", "id", action.ID, "err", err)
		} else {
			out.Ticket = &domain.QueueTicket{Kind: action.Token, Position: pos}
		}
	}
	if _, err := o.store.Refresh(ctx); err != nil {
		slog.Warn("orchestrator: refresh after confirmation failed", "id", action.ID, "err", err)
	}
}

// failed clasifica err y lo convierte en evento.
func (o *Orchestrator) failed(out *domain.Outcome, err error) Event {
	ce := o.classifier.Classify(err)
	out.Err = ce
	return Event{Type: EvFailed, Category: ce.Category}
}

func (o *Orchestrator) setStage(ctx context.Context, e *entry, stage domain.Stage) {
	o.mu.Lock()
	e.action.Stage = stage
	action := e.action
	visible := !action.Dismissed && e.epoch == o.epoch
	o.mu.Unlock()

	if visible && o.notifier != nil {
		o.notifier.PendingChanged(ctx, action)
	}
}

// finish registra y publica el resultado.
func (o *Orchestrator) finish(ctx context.Context, sess Session, e *entry, out domain.Outcome) {
	out.FinishedAt = o.now().UTC()
	o.mu.Lock()
	out.Action = e.action
	current := e.epoch == o.epoch
	o.mu.Unlock()

	category := ""
	if out.Err != nil {
		category = string(out.Err.Category)
	}
	metrics.RecordAction(string(out.Action.Kind), string(out.Stage), category, out.FinishedAt.Sub(out.Action.StartedAt))

	logArgs := []any{"action", out.Action.Label(), "id", out.Action.ID, "stage", out.Stage, "retried", out.Retried}
	if out.Err != nil {
		slog.Warn("orchestrator: action failed", append(logArgs, "category", out.Err.Category, "err", out.Err.Unwrap())...)
	} else {
		slog.Info("orchestrator: action finished", logArgs...)
	}

	if o.journal != nil {
		je := domain.JournalEntry{
			ID:         out.Action.ID,
			SessionID:  sess.ID(),
			Account:    sess.Account(),
			Action:     out.Action.Kind,
			Token:      out.Action.Token,
			Count:      out.Action.Count,
			Stage:      out.Stage,
			Category:   domain.ErrorCategory(category),
			FinishedAt: out.FinishedAt,
		}
		if out.Receipt != nil {
			je.TxHash = out.Receipt.TxHash.Hex()
		}
		if err := o.journal.RecordOutcome(ctx, je); err != nil {
			slog.Warn("orchestrator: journal write failed", "id", out.Action.ID, "err", err)
		}
	}

	if current && o.notifier != nil {
		o.notifier.Outcome(ctx, out)
	}
}
