package session

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alejandrodnm/hilo/internal/ports"
)

// ErrSessionDisposed se devuelve al firmar con una sesión ya cerrada.
var ErrSessionDisposed = errors.New("session: disposed")

// Session es una conexión de wallet con dueño explícito: nace en Connect y
// muere en Dispose (cambio de cuenta, de red o desconexión). Su signer deja
// de firmar en cuanto se descarta.
type Session struct {
	id        string
	account   common.Address
	chainID   int64
	signer    ports.Signer
	explorer  string
	createdAt time.Time
	disposed  atomic.Bool
}

func (s *Session) ID() string              { return s.id }
func (s *Session) Account() common.Address { return s.account }
func (s *Session) ChainID() int64          { return s.chainID }
func (s *Session) CreatedAt() time.Time    { return s.createdAt }
func (s *Session) Disposed() bool          { return s.disposed.Load() }

// Signer devuelve la capacidad de firma atada a esta sesión.
func (s *Session) Signer() ports.Signer { return sessionSigner{s: s} }

// ExplorerURL es el link al explorador de bloques para la cuenta.
func (s *Session) ExplorerURL() string {
	if s.explorer == "" {
		return ""
	}
	return s.explorer + s.account.Hex()
}

// Dispose invalida la sesión. Idempotente.
func (s *Session) Dispose() { s.disposed.Store(true) }

type sessionSigner struct{ s *Session }

func (g sessionSigner) Account() common.Address { return g.s.account }

func (g sessionSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if g.s.Disposed() {
		return nil, ErrSessionDisposed
	}
	return g.s.signer.SignTx(ctx, tx, chainID)
}
