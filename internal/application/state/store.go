package state

// store.go — único snapshot en memoria del estado del juego.
//
// Reglas:
//   - Refresh es el único camino de escritura. Lo usan el orquestador tras
//     cada confirmación y el subscriber de eventos.
//   - Las lecturas al contrato corren en paralelo (errgroup); el snapshot se
//     publica entero o no se publica.
//   - Cada invalidación (cambio de cuenta o de red) sube la generación. Un
//     refresh que empezó en una generación anterior se descarta al terminar,
//     así nunca se muestra el estado de otra cuenta.
//   - Entre refreshes de la misma generación gana el último en completar.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/metrics"
	"github.com/alejandrodnm/hilo/internal/ports"
)

var (
	// ErrNoAccount se devuelve si se refresca sin sesión activa.
	ErrNoAccount = errors.New("state: no account bound")

	// ErrStale indica que el refresh terminó después de una invalidación y
	// su resultado se descartó.
	ErrStale = errors.New("state: refresh discarded after invalidation")
)

// snapshot es lo que se publica de forma atómica.
type snapshot struct {
	state   domain.GameState
	tickets []domain.QueueTicket
}

// Store guarda el último GameState de la cuenta activa.
type Store struct {
	ledger   ports.LedgerReader
	notifier ports.Notifier
	now      func() time.Time

	mu         sync.Mutex // protege account, generation, queued y la publicación
	account    common.Address
	generation uint64
	queued     [2]bool // tokens con entrada en la cola de venta

	current atomic.Pointer[snapshot]
}

// NewStore crea un store vacío. notifier puede ser nil.
func NewStore(ledger ports.LedgerReader, notifier ports.Notifier) *Store {
	return &Store{ledger: ledger, notifier: notifier, now: time.Now}
}

// WithClock reemplaza el reloj usado para RefreshedAt (tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Bind asocia el store a una cuenta y descarta todo lo anterior.
func (s *Store) Bind(account common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.account = account
}

// Invalidate descarta el snapshot y cualquier refresh en vuelo. Hasta el
// próximo Bind + Refresh no hay estado que mostrar.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.account = common.Address{}
}

func (s *Store) resetLocked() {
	s.generation++
	s.queued = [2]bool{}
	s.current.Store(nil)
}

// Account devuelve la cuenta asociada (cero si no hay sesión).
func (s *Store) Account() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// TrackQueue marca que la cuenta entró a la cola de venta de kind. La
// posición se vuelve a leer del contrato en cada refresh.
func (s *Store) TrackQueue(kind domain.TokenKind) {
	if !kind.Valid() {
		return
	}
	s.mu.Lock()
	s.queued[kind] = true
	s.mu.Unlock()
}

// Snapshot devuelve el último estado publicado.
func (s *Store) Snapshot() (domain.GameState, bool) {
	snap := s.current.Load()
	if snap == nil {
		return domain.GameState{}, false
	}
	return snap.state, true
}

// Tickets devuelve las entradas de cola derivadas en el último refresh.
func (s *Store) Tickets() []domain.QueueTicket {
	snap := s.current.Load()
	if snap == nil {
		return nil
	}
	out := make([]domain.QueueTicket, len(snap.tickets))
	copy(out, snap.tickets)
	return out
}

// Refresh relee todo el estado de la cuenta y lo publica si nada lo
// invalidó mientras tanto.
func (s *Store) Refresh(ctx context.Context) (domain.GameState, error) {
	s.mu.Lock()
	account := s.account
	gen := s.generation
	queued := s.queued
	s.mu.Unlock()

	if account == (common.Address{}) {
		return domain.GameState{}, ErrNoAccount
	}

	next, tickets, err := s.read(ctx, account, queued)
	if err != nil {
		metrics.RecordRefresh("error")
		return domain.GameState{}, fmt.Errorf("state.Refresh: %w", err)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		metrics.RecordRefresh("stale")
		slog.Debug("state: discarding stale refresh", "account", account.Hex())
		return domain.GameState{}, ErrStale
	}
	// Un token vendido por completo sale de la cola.
	for _, k := range domain.TokenKinds {
		if queued[k] && next.Balance(k) == 0 {
			s.queued[k] = false
		}
	}
	s.current.Store(&snapshot{state: next, tickets: tickets})
	s.mu.Unlock()

	metrics.RecordRefresh("applied")
	if s.notifier != nil {
		s.notifier.StateChanged(ctx, next)
	}
	return next, nil
}

// read hace todas las lecturas en paralelo.
func (s *Store) read(ctx context.Context, account common.Address, queued [2]bool) (domain.GameState, []domain.QueueTicket, error) {
	var (
		prices    [2]uint64
		balances  [2]uint64
		totals    [2]uint64
		winners   []common.Address
		allowance decimal.Decimal
		positions [2]uint64
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, k := range domain.TokenKinds {
		g.Go(func() error {
			p, err := s.ledger.Price(gctx, k)
			prices[k] = p
			return err
		})
		g.Go(func() error {
			b, err := s.ledger.Balance(gctx, k, account)
			balances[k] = b
			return err
		})
		if queued[k] {
			g.Go(func() error {
				pos, err := s.ledger.QueuePosition(gctx, k, account)
				positions[k] = pos
				return err
			})
		}
	}
	g.Go(func() error {
		var err error
		totals, err = s.ledger.PlayerTotals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		winners, err = s.ledger.Winners(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		allowance, err = s.ledger.Allowance(gctx, account)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.GameState{}, nil, err
	}

	if winners == nil {
		winners = []common.Address{}
	}
	state := domain.GameState{
		Account:       account,
		PriceHigh:     prices[domain.TokenHigh],
		PriceLow:      prices[domain.TokenLow],
		Winners:       winners,
		PlayerTotals:  totals,
		TokenBalances: balances,
		ApprovedSpend: allowance,
		RefreshedAt:   s.now().UTC(),
	}

	var tickets []domain.QueueTicket
	for _, k := range domain.TokenKinds {
		if queued[k] && balances[k] > 0 {
			tickets = append(tickets, domain.QueueTicket{Kind: k, Position: positions[k]})
		}
	}
	return state, tickets, nil
}
