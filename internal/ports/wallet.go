package ports

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrWrongNetwork is returned when the signing agent is pointed at a network
// other than the one the client is configured for.
var ErrWrongNetwork = errors.New("wallet is connected to an unsupported network")

// Signer is the signing capability handed out by a connected wallet.
type Signer interface {
	// Account is the address transactions are signed for.
	Account() common.Address

	// SignTx asks the signing agent to sign tx. A user refusal is returned
	// as an error carrying the wallet rejection code.
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// WalletProvider is the user's signing agent.
type WalletProvider interface {
	// Connect requests access to the user's accounts.
	Connect(ctx context.Context) ([]common.Address, error)

	// ChainID is the network the agent is currently pointed at.
	ChainID(ctx context.Context) (*big.Int, error)

	// Signer returns the signing capability for one of the connected accounts.
	Signer(account common.Address) (Signer, error)

	// OnAccountsChanged registers fn for account switches. An empty slice
	// means the user disconnected. The returned func removes the listener.
	OnAccountsChanged(fn func(accounts []common.Address)) (remove func())

	// OnChainChanged registers fn for network switches.
	OnChainChanged(fn func(chainID *big.Int)) (remove func())

	Disconnect() error
}
