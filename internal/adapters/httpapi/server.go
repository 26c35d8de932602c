package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alejandrodnm/hilo/internal/application/orchestrator"
	"github.com/alejandrodnm/hilo/internal/application/session"
	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/metrics"
)

const (
	defaultActionTimeout = 10 * time.Minute
	historyLimit         = 20
)

// Sessions is the Wallet Session Manager as seen by the API.
type Sessions interface {
	Connect(ctx context.Context) (*session.Session, error)
	Disconnect(ctx context.Context) error
	Current() (*session.Session, error)
	PageState(snap *domain.GameState) domain.PageState
}

// State is the read side of the Game State Store.
type State interface {
	Snapshot() (domain.GameState, bool)
	Tickets() []domain.QueueTicket
	Refresh(ctx context.Context) (domain.GameState, error)
}

// Actions is the Transaction Orchestrator.
type Actions interface {
	Buy(ctx context.Context, sess orchestrator.Session, kind domain.TokenKind, count uint64) (domain.Outcome, error)
	Sell(ctx context.Context, sess orchestrator.Session, kind domain.TokenKind) (domain.Outcome, error)
	JoinQueue(ctx context.Context, sess orchestrator.Session, kind domain.TokenKind) (domain.Outcome, error)
	PreApprove(ctx context.Context, sess orchestrator.Session) (domain.Outcome, error)
	NeedsApproval() bool
	Dismiss(ctx context.Context, kind domain.TokenKind) (string, error)
	Pending() []domain.PendingAction
}

// History reads the action journal.
type History interface {
	RecentOutcomes(ctx context.Context, limit int) ([]domain.JournalEntry, error)
}

// Server holds the handlers of the local UI API.
type Server struct {
	sessions      Sessions
	state         State
	actions       Actions
	history       History
	hub           *Hub
	actionTimeout time.Duration
}

// NewServer wires the handlers. history may be nil.
func NewServer(sessions Sessions, state State, actions Actions, history History, hub *Hub) *Server {
	return &Server{
		sessions:      sessions,
		state:         state,
		actions:       actions,
		history:       history,
		hub:           hub,
		actionTimeout: defaultActionTimeout,
	}
}

// WithActionTimeout bounds how long a single action may run.
func (s *Server) WithActionTimeout(d time.Duration) *Server {
	if d > 0 {
		s.actionTimeout = d
	}
	return s
}

// Router builds the chi router with every endpoint registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return metrics.InstrumentHandler(next, routePattern)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/ws", s.hub.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/history", s.handleHistory)
		r.Post("/connect", s.handleConnect)
		r.Post("/disconnect", s.handleDisconnect)
		r.Post("/approve", s.handleApprove)

		r.Get("/tokens/{id}", s.handleTokenMetadata)
		r.Post("/tokens/{id}/buy", s.handleBuy)
		r.Post("/tokens/{id}/sell", s.handleSell)
		r.Post("/tokens/{id}/queue", s.handleQueue)
		r.Delete("/tokens/{id}/pending", s.handleDismiss)
	})
	return r
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// --- Handlers ---

type sessionView struct {
	ID        string `json:"id"`
	Account   string `json:"account"`
	Short     string `json:"short"`
	ChainID   int64  `json:"chain_id"`
	Explorer  string `json:"explorer,omitempty"`
	CreatedAt string `json:"created_at"`
}

type stateView struct {
	Page          domain.PageState       `json:"page"`
	Session       *sessionView           `json:"session,omitempty"`
	Game          *domain.GameState      `json:"game,omitempty"`
	Pending       []domain.PendingAction `json:"pending"`
	Tickets       []domain.QueueTicket   `json:"tickets"`
	NeedsApproval bool                   `json:"needs_approval"`
}

func viewSession(sess *session.Session) *sessionView {
	return &sessionView{
		ID:        sess.ID(),
		Account:   sess.Account().Hex(),
		Short:     domain.TruncateAddress(sess.Account()),
		ChainID:   sess.ChainID(),
		Explorer:  sess.ExplorerURL(),
		CreatedAt: sess.CreatedAt().Format(time.RFC3339),
	}
}

// handleState devuelve todo lo que la UI necesita para pintarse.
// ?refresh=1 fuerza una lectura del contrato antes de responder.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	view := stateView{Pending: []domain.PendingAction{}, Tickets: []domain.QueueTicket{}}

	sess, err := s.sessions.Current()
	if err == nil {
		view.Session = viewSession(sess)
		if r.URL.Query().Get("refresh") == "1" {
			if _, err := s.state.Refresh(r.Context()); err != nil {
				slog.Warn("httpapi: refresh failed", "err", err)
			}
		}
		if snap, ok := s.state.Snapshot(); ok {
			view.Game = &snap
		}
		view.Pending = append(view.Pending, s.actions.Pending()...)
		view.Tickets = append(view.Tickets, s.state.Tickets()...)
		view.NeedsApproval = s.actions.NeedsApproval()
	}
	view.Page = s.sessions.PageState(view.Game)
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []domain.JournalEntry{})
		return
	}
	entries, err := s.history.RecentOutcomes(r.Context(), historyLimit)
	if err != nil {
		slog.Error("httpapi: read history", "err", err)
		writeError(w, http.StatusInternalServerError, "could not read history")
		return
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.detached(r)
	defer cancel()

	sess, err := s.sessions.Connect(ctx)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if _, err := s.state.Refresh(ctx); err != nil {
		slog.Warn("httpapi: initial refresh failed", "err", err)
	}
	writeJSON(w, http.StatusOK, viewSession(sess))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Disconnect(r.Context()); err != nil {
		slog.Error("httpapi: disconnect", "err", err)
		writeError(w, http.StatusInternalServerError, "could not disconnect")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.current(w)
	if !ok {
		return
	}
	ctx, cancel := s.detached(r)
	defer cancel()
	out, err := s.actions.PreApprove(ctx, sess)
	writeOutcome(w, out, err)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	kind, ok := tokenParam(w, r)
	if !ok {
		return
	}
	count := domain.BuyOne
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "count must be 1 or 3")
			return
		}
		count = n
	}
	sess, ok := s.current(w)
	if !ok {
		return
	}
	ctx, cancel := s.detached(r)
	defer cancel()
	out, err := s.actions.Buy(ctx, sess, kind, count)
	writeOutcome(w, out, err)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	kind, ok := tokenParam(w, r)
	if !ok {
		return
	}
	sess, ok := s.current(w)
	if !ok {
		return
	}
	ctx, cancel := s.detached(r)
	defer cancel()
	out, err := s.actions.Sell(ctx, sess, kind)
	writeOutcome(w, out, err)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	kind, ok := tokenParam(w, r)
	if !ok {
		return
	}
	sess, ok := s.current(w)
	if !ok {
		return
	}
	ctx, cancel := s.detached(r)
	defer cancel()
	out, err := s.actions.JoinQueue(ctx, sess, kind)
	writeOutcome(w, out, err)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	kind, ok := tokenParam(w, r)
	if !ok {
		return
	}
	notice, err := s.actions.Dismiss(r.Context(), kind)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"notice": notice})
}

// handleTokenMetadata sirve el documento ERC-1155 del token. IDs
// desconocidos reciben un documento vacío, no un error.
func (s *Server) handleTokenMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		id = -1
	}
	writeJSON(w, http.StatusOK, domain.MetadataFor(id))
}

// --- Helpers ---

// detached runs the action past the life of the request: a transaction
// already handed to the wallet must be followed to the end even if the
// browser goes away.
func (s *Server) detached(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.actionTimeout)
}

func (s *Server) current(w http.ResponseWriter) (*session.Session, bool) {
	sess, err := s.sessions.Current()
	if err != nil {
		writeFailure(w, err)
		return nil, false
	}
	return sess, true
}

func tokenParam(w http.ResponseWriter, r *http.Request) (domain.TokenKind, bool) {
	kind, err := domain.ParseTokenKind(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return kind, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, failure{Category: categoryInvalid, Message: msg})
}

// Categories for failures that never reached the classifier.
const (
	categoryInvalid   = "INVALID_REQUEST"
	categoryNoSession = "NO_SESSION"
	categoryBusy      = "ACTION_IN_FLIGHT"
)

type failure struct {
	Category   string          `json:"category"`
	Message    string          `json:"message"`
	Actionable bool            `json:"actionable"`
	Outcome    *domain.Outcome `json:"outcome,omitempty"`
}

// writeOutcome answers 200 for a confirmed action and 422 with the
// classified failure otherwise.
func writeOutcome(w http.ResponseWriter, out domain.Outcome, err error) {
	if err != nil {
		writeFailure(w, err)
		return
	}
	if out.Succeeded() {
		writeJSON(w, http.StatusOK, out)
		return
	}
	f := failure{Category: string(domain.ErrUnknown), Message: "Something went wrong. Try again?", Outcome: &out}
	if out.Err != nil {
		f.Category = string(out.Err.Category)
		f.Message = out.Err.Message
		f.Actionable = out.Err.Actionable()
	}
	writeJSON(w, http.StatusUnprocessableEntity, f)
}

func writeFailure(w http.ResponseWriter, err error) {
	var ce *domain.ClassifiedError
	switch {
	case errors.As(err, &ce):
		writeJSON(w, statusFor(ce.Category), failure{
			Category:   string(ce.Category),
			Message:    ce.Message,
			Actionable: ce.Actionable(),
		})
	case errors.Is(err, session.ErrNoSession), errors.Is(err, orchestrator.ErrWrongAccount):
		writeJSON(w, http.StatusUnauthorized, failure{Category: categoryNoSession, Message: "Connect your wallet to play."})
	case errors.Is(err, orchestrator.ErrActionInFlight):
		writeJSON(w, http.StatusConflict, failure{Category: categoryBusy, Message: "Wait for your last transaction to finish."})
	case errors.Is(err, orchestrator.ErrNothingPending):
		writeJSON(w, http.StatusNotFound, failure{Category: categoryInvalid, Message: "Nothing is pending for this token."})
	case errors.Is(err, orchestrator.ErrGameConcluded):
		writeJSON(w, http.StatusConflict, failure{Category: string(domain.ErrGamePaused), Message: "The game is over, someone won!"})
	case errors.Is(err, orchestrator.ErrInvalidToken),
		errors.Is(err, orchestrator.ErrInvalidCount),
		errors.Is(err, orchestrator.ErrNothingToSell):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("httpapi: request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, failure{Category: string(domain.ErrUnknown), Message: "Something went wrong. Try again?"})
	}
}

func statusFor(cat domain.ErrorCategory) int {
	switch cat {
	case domain.ErrUserRejected:
		return http.StatusForbidden
	case domain.ErrNetworkMismatch, domain.ErrGamePaused:
		return http.StatusConflict
	case domain.ErrAllowanceExceeded, domain.ErrBalanceExceeded, domain.ErrSaleLocked:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
