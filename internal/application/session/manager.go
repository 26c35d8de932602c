package session

// manager.go — dueño de la conexión con el agente de firma.
//
// Connect valida la red y sólo entonces crea la sesión y guarda la pista de
// reconexión. Cualquier fallo borra la pista. Un cambio de cuenta o de red
// descarta la sesión, invalida el estado y las acciones pendientes, avisa a
// los hooks de reset y reconecta desde cero. Una lista de cuentas vacía es
// una desconexión: no se reconecta.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alejandrodnm/hilo/internal/application/classify"
	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/ports"
)

const reconnectTimeout = 2 * time.Minute

// ErrNoHint indica que no hay conexión previa para retomar.
var ErrNoHint = ports.ErrNoHint

// ErrNoSession se devuelve cuando se pide la sesión sin estar conectado.
var ErrNoSession = errors.New("session: not connected")

// Binder es la parte del Game State Store que depende de la cuenta.
type Binder interface {
	Bind(account common.Address)
	Invalidate()
}

// Config son los parámetros de red.
type Config struct {
	ChainID     int64
	NetworkName string // para los mensajes de error
	ExplorerURL string // prefijo de la URL de cuenta en el explorador
}

// Manager crea y descarta sesiones.
type Manager struct {
	wallet     ports.WalletProvider
	hints      ports.HintStore
	store      Binder
	notifier   ports.Notifier
	classifier classify.Classifier
	cfg        Config

	mu        sync.Mutex
	current   *Session
	onReset   []func()
	onConnect []func(ctx context.Context, s *Session)
	remove    []func()
}

// NewManager crea el manager y se suscribe a los cambios del wallet.
// notifier puede ser nil.
func NewManager(wallet ports.WalletProvider, hints ports.HintStore, store Binder, notifier ports.Notifier, cfg Config) *Manager {
	m := &Manager{
		wallet:     wallet,
		hints:      hints,
		store:      store,
		notifier:   notifier,
		classifier: classify.Classifier{NetworkName: cfg.NetworkName},
		cfg:        cfg,
	}
	m.remove = []func(){
		wallet.OnAccountsChanged(m.accountsChanged),
		wallet.OnChainChanged(m.chainChanged),
	}
	return m
}

// OnReset registra fn para cada descarte de sesión (cambio de cuenta, red
// o desconexión).
func (m *Manager) OnReset(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReset = append(m.onReset, fn)
}

// OnConnect registra fn para cada sesión nueva.
func (m *Manager) OnConnect(fn func(ctx context.Context, s *Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = append(m.onConnect, fn)
}

// Current devuelve la sesión activa.
func (m *Manager) Current() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	return m.current, nil
}

// Connected indica si hay sesión activa.
func (m *Manager) Connected() bool {
	_, err := m.Current()
	return err == nil
}

// PageState deriva la pantalla a mostrar del estado de la sesión y del
// último snapshot.
func (m *Manager) PageState(snap *domain.GameState) domain.PageState {
	return domain.PageStateFor(m.Connected(), snap)
}

// Connect pide acceso al wallet. Los fallos vuelven como
// *domain.ClassifiedError (UserRejected, NetworkMismatch, Unknown).
func (m *Manager) Connect(ctx context.Context) (*Session, error) {
	sess, err := m.connect(ctx)
	if err != nil {
		if cerr := m.hints.ClearHint(ctx); cerr != nil {
			slog.Warn("session: clear hint failed", "err", cerr)
		}
		ce := m.classifier.ClassifyConnect(err)
		slog.Warn("session: connect failed", "category", ce.Category, "err", err)
		return nil, ce
	}
	return sess, nil
}

// Resume reconecta en silencio si hay una pista guardada. Sin pista
// devuelve ErrNoHint y la UI queda en NoWallet.
func (m *Manager) Resume(ctx context.Context) (*Session, error) {
	hint, err := m.hints.LoadHint(ctx)
	if err != nil {
		if errors.Is(err, ports.ErrNoHint) {
			return nil, ErrNoHint
		}
		return nil, fmt.Errorf("session.Resume: load hint: %w", err)
	}
	if hint.ChainID != m.cfg.ChainID {
		if cerr := m.hints.ClearHint(ctx); cerr != nil {
			slog.Warn("session: clear hint failed", "err", cerr)
		}
		return nil, ErrNoHint
	}
	slog.Info("session: resuming", "account", hint.Account.Hex())
	return m.Connect(ctx)
}

// Disconnect cierra la sesión y olvida la pista.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.reset("disconnected")
	if err := m.hints.ClearHint(ctx); err != nil {
		return fmt.Errorf("session.Disconnect: clear hint: %w", err)
	}
	if err := m.wallet.Disconnect(); err != nil {
		return fmt.Errorf("session.Disconnect: %w", err)
	}
	return nil
}

// Close deja de escuchar al wallet y descarta la sesión.
func (m *Manager) Close() {
	m.mu.Lock()
	remove := m.remove
	m.remove = nil
	m.mu.Unlock()
	for _, fn := range remove {
		fn()
	}
	m.reset("")
}

func (m *Manager) connect(ctx context.Context) (*Session, error) {
	accounts, err := m.wallet.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, errors.New("wallet returned no accounts")
	}

	chainID, err := m.wallet.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	if chainID.Cmp(big.NewInt(m.cfg.ChainID)) != 0 {
		return nil, fmt.Errorf("chain %s, want %d: %w", chainID, m.cfg.ChainID, ports.ErrWrongNetwork)
	}

	// Reconectar a la misma cuenta reutiliza la sesión viva; otra cuenta
	// pasa por el reset completo.
	m.mu.Lock()
	live := m.current
	m.mu.Unlock()
	if live != nil {
		if live.account == accounts[0] {
			return live, nil
		}
		m.reset("switched accounts")
	}

	signer, err := m.wallet.Signer(accounts[0])
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	sess := &Session{
		id:        uuid.NewString(),
		account:   accounts[0],
		chainID:   m.cfg.ChainID,
		signer:    signer,
		explorer:  m.cfg.ExplorerURL,
		createdAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.current = sess
	hooks := append(([]func(context.Context, *Session))(nil), m.onConnect...)
	m.mu.Unlock()

	m.store.Bind(sess.account)

	hint := domain.ConnectionHint{Account: sess.account, ChainID: sess.chainID, SavedAt: sess.createdAt}
	if err := m.hints.SaveHint(ctx, hint); err != nil {
		slog.Warn("session: save hint failed", "err", err)
	}

	slog.Info("session: connected", "id", sess.id, "account", domain.TruncateAddress(sess.account), "chain", sess.chainID)
	for _, fn := range hooks {
		fn(ctx, sess)
	}
	return sess, nil
}

// reset descarta la sesión actual y avisa a los hooks. Devuelve false si no
// había sesión.
func (m *Manager) reset(reason string) bool {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	hooks := append([]func(){}, m.onReset...)
	m.mu.Unlock()

	if prev == nil {
		return false
	}
	prev.Dispose()
	m.store.Invalidate()
	for _, fn := range hooks {
		fn()
	}

	if reason != "" {
		slog.Info("session: reset", "id", prev.id, "reason", reason)
		if m.notifier != nil {
			m.notifier.Banner(context.Background(), domain.Banner{
				Kind:    domain.BannerSessionReset,
				Message: resetMessage(reason),
				At:      time.Now().UTC(),
			})
		}
	}
	return true
}

func (m *Manager) accountsChanged(accounts []common.Address) {
	if len(accounts) == 0 {
		if m.reset("disconnected") {
			if err := m.hints.ClearHint(context.Background()); err != nil {
				slog.Warn("session: clear hint failed", "err", err)
			}
		}
		return
	}
	if !m.reset("switched accounts") {
		return
	}
	m.reconnect()
}

func (m *Manager) chainChanged(chainID *big.Int) {
	if !m.reset("switched networks") {
		return
	}
	slog.Info("session: chain changed", "chain", chainID)
	m.reconnect()
}

func (m *Manager) reconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
	defer cancel()
	if _, err := m.Connect(ctx); err != nil {
		slog.Warn("session: reconnect failed", "err", err)
	}
}

func resetMessage(reason string) string {
	if reason == "disconnected" {
		return "Your wallet disconnected. Connect again to keep playing."
	}
	return "Your wallet " + reason + ". Reloading the game."
}
