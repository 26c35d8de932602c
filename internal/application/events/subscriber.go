package events

// subscriber.go — suscripción a los eventos del contrato.
//
// Vive lo que vive la sesión: Start al conectar, Stop en cada cambio de
// cuenta o red. Cada evento dispara el mismo Refresh que usa el
// orquestador; los banners son pasivos y nunca tocan la acción en vuelo.
// Si la suscripción se cae se reintenta con backoff exponencial y se
// refresca al volver, por si se perdió algún evento.

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/metrics"
	"github.com/alejandrodnm/hilo/internal/ports"
)

const (
	baseRetryWait = 500 * time.Millisecond
	maxRetryWait  = 30 * time.Second
	sinkSize      = 16
)

// Refresher es el punto único de refresco del estado.
type Refresher interface {
	Refresh(ctx context.Context) (domain.GameState, error)
}

// Subscriber escucha PriceUpdated y PricesConverged para una cuenta.
type Subscriber struct {
	feed     ports.EventFeed
	store    Refresher
	notifier ports.Notifier
	now      func() time.Time
	minWait  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	account common.Address
}

// New crea un subscriber detenido. notifier puede ser nil.
func New(feed ports.EventFeed, store Refresher, notifier ports.Notifier) *Subscriber {
	return &Subscriber{
		feed:     feed,
		store:    store,
		notifier: notifier,
		now:      time.Now,
		minWait:  baseRetryWait,
	}
}

// WithRetryWait cambia la espera inicial entre reintentos (tests).
func (s *Subscriber) WithRetryWait(d time.Duration) *Subscriber {
	s.minWait = d
	return s
}

// Start abre la suscripción para account. Si había una abierta la cierra
// antes, así nunca queda una colgada contra una cuenta vieja.
func (s *Subscriber) Start(ctx context.Context, account common.Address) {
	s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.account = account
	s.mu.Unlock()

	slog.Info("events: subscribing", "account", account.Hex())
	go s.loop(ctx, account, done)
}

// Stop cierra la suscripción y espera a que termine.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.account = common.Address{}
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Debug("events: subscription stopped")
}

// Account devuelve la cuenta suscrita (cero si está detenido).
func (s *Subscriber) Account() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

func (s *Subscriber) loop(ctx context.Context, account common.Address, done chan struct{}) {
	defer close(done)

	wait := s.minWait
	first := true
	for {
		sink := make(chan domain.ChainEvent, sinkSize)
		sub, err := s.feed.SubscribeGameEvents(ctx, sink)
		if err == nil {
			if !first {
				metrics.RecordResubscribe()
				s.refresh(ctx)
			}
			first = false
			wait = s.minWait
			err = s.consume(ctx, account, sub, sink)
			sub.Unsubscribe()
		}
		if ctx.Err() != nil {
			return
		}

		slog.Warn("events: subscription lost, retrying", "err", err, "wait", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxRetryWait {
			wait = maxRetryWait
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, account common.Address, sub event.Subscription, sink <-chan domain.ChainEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case ev := <-sink:
			s.handle(ctx, account, ev)
		}
	}
}

// handle refresca siempre y decide qué banner mostrar.
func (s *Subscriber) handle(ctx context.Context, account common.Address, ev domain.ChainEvent) {
	switch {
	case ev.PriceUpdated != nil:
		pu := ev.PriceUpdated
		metrics.RecordEvent("PriceUpdated")
		slog.Debug("events: price updated", "token", pu.Kind, "player", pu.Player.Hex(), "tx", pu.TxHash.Hex())

		s.refresh(ctx)
		if pu.Player == account {
			// La acción propia ya se reporta por el orquestador.
			return
		}
		kind := pu.Kind
		tx := pu.TxHash
		s.banner(ctx, domain.Banner{
			Kind:    domain.BannerPriceChanged,
			Token:   &kind,
			Message: "The " + kind.String() + " token price has " + kind.PriceDirection() + "!",
			TxHash:  &tx,
		})

	case ev.Converged != nil:
		pc := ev.Converged
		metrics.RecordEvent("PricesConverged")
		won := false
		for _, w := range pc.Winners {
			if w == account {
				won = true
				break
			}
		}
		slog.Info("events: prices converged", "winners", len(pc.Winners), "price", pc.Price, "caller_won", won)

		s.refresh(ctx)
		msg := "The game is over, someone won!"
		if won {
			msg = "The game is over and you are one of the winners!"
		}
		tx := pc.TxHash
		s.banner(ctx, domain.Banner{
			Kind:      domain.BannerGameOver,
			Message:   msg,
			Winners:   pc.Winners,
			CallerWon: won,
			TxHash:    &tx,
		})
	}
}

func (s *Subscriber) refresh(ctx context.Context) {
	if _, err := s.store.Refresh(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("events: refresh failed", "err", err)
	}
}

func (s *Subscriber) banner(ctx context.Context, b domain.Banner) {
	if s.notifier == nil || ctx.Err() != nil {
		return
	}
	b.At = s.now().UTC()
	s.notifier.Banner(ctx, b)
}
