package wallet

// agent.go — agente de firma local.
//
// Hace de wallet de navegador para el cliente: guarda una o más claves
// privadas, pide confirmación antes de conectar y antes de cada firma, y
// avisa a los listeners cuando cambia la cuenta activa o la red del nodo.
// Un rechazo del operador vuelve como ErrUserRejected (código 4001).

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/hilo/internal/ports"
)

// CodeUserRejected es el código estándar de rechazo de un wallet.
const CodeUserRejected = 4001

type rejectedError struct{}

func (rejectedError) Error() string  { return "wallet: user rejected the request" }
func (rejectedError) ErrorCode() int { return CodeUserRejected }

// ErrUserRejected se devuelve cuando el operador no confirma.
var ErrUserRejected error = rejectedError{}

var (
	ErrNoKeys       = errors.New("wallet: no private keys configured")
	ErrNotConnected = errors.New("wallet: not connected")
	ErrUnknownKey   = errors.New("wallet: account not held by this agent")
)

// ChainIDReader lee la red del nodo. *ethclient.Client lo implementa.
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// KeyAgent implementa ports.WalletProvider con claves locales.
type KeyAgent struct {
	chain    ChainIDReader
	prompter Prompter

	mu         sync.Mutex
	keys       []*ecdsa.PrivateKey
	active     int
	connected  bool
	lastChain  *big.Int
	nextID     int
	accountsFn map[int]func([]common.Address)
	chainFn    map[int]func(*big.Int)
}

var _ ports.WalletProvider = (*KeyAgent)(nil)

// NewKeyAgent carga las claves hex (con o sin 0x). La primera es la activa.
func NewKeyAgent(hexKeys []string, chain ChainIDReader, prompter Prompter) (*KeyAgent, error) {
	if prompter == nil {
		prompter = AutoApprove{}
	}
	a := &KeyAgent{
		chain:      chain,
		prompter:   prompter,
		accountsFn: make(map[int]func([]common.Address)),
		chainFn:    make(map[int]func(*big.Int)),
	}
	for i, h := range hexKeys {
		h = strings.TrimPrefix(strings.TrimSpace(h), "0x")
		if h == "" {
			continue
		}
		key, err := crypto.HexToECDSA(h)
		if err != nil {
			return nil, fmt.Errorf("wallet: key %d: invalid private key: %w", i, err)
		}
		a.keys = append(a.keys, key)
	}
	if len(a.keys) == 0 {
		return nil, ErrNoKeys
	}
	return a, nil
}

// Accounts devuelve las direcciones de todas las claves cargadas.
func (a *KeyAgent) Accounts() []common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]common.Address, len(a.keys))
	for i, k := range a.keys {
		out[i] = crypto.PubkeyToAddress(k.PublicKey)
	}
	return out
}

// Connect pide permiso para exponer la cuenta activa.
func (a *KeyAgent) Connect(ctx context.Context) ([]common.Address, error) {
	a.mu.Lock()
	addr := crypto.PubkeyToAddress(a.keys[a.active].PublicKey)
	a.mu.Unlock()

	ok, err := a.prompter.Confirm(ctx, fmt.Sprintf("Connect account %s to HILO?", addr.Hex()))
	if err != nil {
		return nil, fmt.Errorf("wallet: connect: %w", err)
	}
	if !ok {
		return nil, ErrUserRejected
	}

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return []common.Address{addr}, nil
}

func (a *KeyAgent) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := a.chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("wallet: chain id: %w", err)
	}
	a.mu.Lock()
	if a.lastChain == nil {
		a.lastChain = new(big.Int).Set(id)
	}
	a.mu.Unlock()
	return id, nil
}

// Signer devuelve la capacidad de firma de account. Sólo la cuenta activa
// de un agente conectado firma.
func (a *KeyAgent) Signer(account common.Address) (ports.Signer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, ErrNotConnected
	}
	for _, k := range a.keys {
		if crypto.PubkeyToAddress(k.PublicKey) == account {
			return &keySigner{agent: a, key: k, addr: account}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, account.Hex())
}

func (a *KeyAgent) OnAccountsChanged(fn func([]common.Address)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.accountsFn[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.accountsFn, id)
	}
}

func (a *KeyAgent) OnChainChanged(fn func(*big.Int)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.chainFn[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.chainFn, id)
	}
}

// SwitchAccount activa la clave i y avisa a los listeners si el agente
// estaba conectado.
func (a *KeyAgent) SwitchAccount(i int) error {
	a.mu.Lock()
	if i < 0 || i >= len(a.keys) {
		a.mu.Unlock()
		return fmt.Errorf("wallet: account index %d out of range (have %d)", i, len(a.keys))
	}
	if i == a.active {
		a.mu.Unlock()
		return nil
	}
	a.active = i
	addr := crypto.PubkeyToAddress(a.keys[i].PublicKey)
	connected := a.connected
	fns := a.accountListenersLocked()
	a.mu.Unlock()

	slog.Info("wallet: account switched", "account", addr.Hex())
	if connected {
		for _, fn := range fns {
			fn([]common.Address{addr})
		}
	}
	return nil
}

// Disconnect revoca el acceso. Los listeners reciben una lista vacía.
func (a *KeyAgent) Disconnect() error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil
	}
	a.connected = false
	fns := a.accountListenersLocked()
	a.mu.Unlock()

	for _, fn := range fns {
		fn(nil)
	}
	return nil
}

// WatchChain consulta la red del nodo cada interval y avisa a los listeners
// cuando cambia. Bloquea hasta que ctx se cancela.
func (a *KeyAgent) WatchChain(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pollChain(ctx)
		}
	}
}

func (a *KeyAgent) pollChain(ctx context.Context) {
	id, err := a.chain.ChainID(ctx)
	if err != nil {
		slog.Debug("wallet: chain poll failed", "err", err)
		return
	}

	a.mu.Lock()
	prev := a.lastChain
	a.lastChain = new(big.Int).Set(id)
	changed := prev != nil && prev.Cmp(id) != 0
	fns := make([]func(*big.Int), 0, len(a.chainFn))
	for _, fn := range a.chainFn {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	if !changed {
		return
	}
	slog.Info("wallet: chain changed", "from", prev, "to", id)
	for _, fn := range fns {
		fn(new(big.Int).Set(id))
	}
}

func (a *KeyAgent) accountListenersLocked() []func([]common.Address) {
	fns := make([]func([]common.Address), 0, len(a.accountsFn))
	for _, fn := range a.accountsFn {
		fns = append(fns, fn)
	}
	return fns
}

type keySigner struct {
	agent *KeyAgent
	key   *ecdsa.PrivateKey
	addr  common.Address
}

func (s *keySigner) Account() common.Address { return s.addr }

// SignTx muestra la transacción y firma sólo si el operador confirma.
func (s *keySigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	ok, err := s.agent.prompter.Confirm(ctx, describeTx(s.addr, tx))
	if err != nil {
		return nil, fmt.Errorf("wallet: sign: %w", err)
	}
	if !ok {
		return nil, ErrUserRejected
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign: %w", err)
	}
	return signed, nil
}

func describeTx(from common.Address, tx *types.Transaction) string {
	to := "contract creation"
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	selector := ""
	if data := tx.Data(); len(data) >= 4 {
		selector = fmt.Sprintf(" call 0x%x", data[:4])
	}
	return fmt.Sprintf("Sign transaction from %s to %s%s (nonce %d, gas %d)?",
		from.Hex(), to, selector, tx.Nonce(), tx.Gas())
}
