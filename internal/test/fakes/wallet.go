package fakes

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alejandrodnm/hilo/internal/ports"
)

// Rejection carries the wallet's user-rejection code.
type Rejection struct{}

func (Rejection) Error() string  { return "user rejected the request" }
func (Rejection) ErrorCode() int { return 4001 }

// Signer signs nothing; it returns the transaction unchanged.
type Signer struct {
	Addr   common.Address
	Refuse bool
}

func (s *Signer) Account() common.Address { return s.Addr }

func (s *Signer) SignTx(_ context.Context, tx *types.Transaction, _ *big.Int) (*types.Transaction, error) {
	if s.Refuse {
		return nil, Rejection{}
	}
	return tx, nil
}

// Wallet is a scriptable ports.WalletProvider.
type Wallet struct {
	mu         sync.Mutex
	accounts   []common.Address
	chainID    int64
	ConnectErr error
	connects   int

	nextID     int
	accountsFn map[int]func([]common.Address)
	chainFn    map[int]func(*big.Int)
}

var _ ports.WalletProvider = (*Wallet)(nil)

// NewWallet returns a wallet exposing account on chainID.
func NewWallet(account common.Address, chainID int64) *Wallet {
	return &Wallet{
		accounts:   []common.Address{account},
		chainID:    chainID,
		accountsFn: make(map[int]func([]common.Address)),
		chainFn:    make(map[int]func(*big.Int)),
	}
}

func (w *Wallet) Connect(context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connects++
	if w.ConnectErr != nil {
		return nil, w.ConnectErr
	}
	if len(w.accounts) == 0 {
		return nil, errors.New("no accounts")
	}
	return append([]common.Address(nil), w.accounts...), nil
}

// Connects counts Connect calls.
func (w *Wallet) Connects() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connects
}

func (w *Wallet) ChainID(context.Context) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return big.NewInt(w.chainID), nil
}

func (w *Wallet) Signer(account common.Address) (ports.Signer, error) {
	return &Signer{Addr: account}, nil
}

func (w *Wallet) OnAccountsChanged(fn func([]common.Address)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.accountsFn[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.accountsFn, id)
	}
}

func (w *Wallet) OnChainChanged(fn func(*big.Int)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.chainFn[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.chainFn, id)
	}
}

func (w *Wallet) Disconnect() error {
	w.SwitchAccounts()
	return nil
}

// SwitchAccounts changes the exposed accounts and fires the listeners.
func (w *Wallet) SwitchAccounts(accounts ...common.Address) {
	w.mu.Lock()
	w.accounts = accounts
	fns := make([]func([]common.Address), 0, len(w.accountsFn))
	for _, fn := range w.accountsFn {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(accounts)
	}
}

// SetAccounts changes the exposed accounts without notifying anyone, like a
// wallet that only reports the change on the next request.
func (w *Wallet) SetAccounts(accounts ...common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts = accounts
}

// SwitchChain changes the network and fires the listeners.
func (w *Wallet) SwitchChain(chainID int64) {
	w.mu.Lock()
	w.chainID = chainID
	fns := make([]func(*big.Int), 0, len(w.chainFn))
	for _, fn := range w.chainFn {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(big.NewInt(chainID))
	}
}

// Listeners counts registered listeners.
func (w *Wallet) Listeners() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.accountsFn) + len(w.chainFn)
}
