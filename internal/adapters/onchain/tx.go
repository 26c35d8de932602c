package onchain

// tx.go — signing, broadcast and finalization of contract writes.
//
// Every write follows the same path:
//   - estimate gas from the signer's address (a revert here is forwarded
//     without broadcasting anything)
//   - sign through the session signer (the user may refuse)
//   - broadcast and poll for the receipt until final
//   - on a failed receipt, replay the call at that block to recover the
//     program's revert reason

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/ports"
)

const gasPriceUpdateInterval = time.Minute

// ErrTxReverted is returned when a receipt reports failure and the replay
// does not reproduce a reason.
var ErrTxReverted = errors.New("transaction reverted on-chain")

func (g *Gateway) transact(ctx context.Context, signer ports.Signer, to common.Address, method string, data []byte) (domain.Receipt, error) {
	from := signer.Account()

	gasPrice, err := g.gasPrice(ctx)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("gas price: %w", err)
	}

	msg := ethereum.CallMsg{From: from, To: &to, GasPrice: gasPrice, Data: data}
	gasLimit, err := g.client.EstimateGas(ctx, msg)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("estimate gas: %w", err)
	}
	// Add 20% buffer
	gasLimit = gasLimit * 12 / 10
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}

	nonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := signer.SignTx(ctx, tx, big.NewInt(g.cfg.ChainID))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return domain.Receipt{}, fmt.Errorf("send tx: %w", err)
	}

	txHash := signed.Hash()
	slog.Info("onchain: transaction sent", "method", method, "tx", txHash.Hex(), "from", from.Hex())

	receipt, err := g.waitForReceipt(ctx, txHash)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("wait receipt %s: %w", txHash.Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.Receipt{}, g.revertReason(ctx, msg, receipt)
	}

	slog.Info("onchain: confirmed", "method", method, "tx", txHash.Hex(), "block", receipt.BlockNumber, "gas_used", receipt.GasUsed)

	r := domain.Receipt{TxHash: txHash, GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		r.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return r, nil
}

// revertReason replays a failed transaction at its block so the node
// returns the revert data.
func (g *Gateway) revertReason(ctx context.Context, msg ethereum.CallMsg, receipt *types.Receipt) error {
	msg.Gas = receipt.GasUsed
	_, err := g.client.CallContract(ctx, msg, receipt.BlockNumber)
	if err != nil {
		return fmt.Errorf("tx %s reverted: %w", receipt.TxHash.Hex(), err)
	}
	return fmt.Errorf("tx %s: %w", receipt.TxHash.Hex(), ErrTxReverted)
}

// gasPrice returns the current gas price, with caching to avoid excessive RPC calls.
func (g *Gateway) gasPrice(ctx context.Context) (*big.Int, error) {
	g.gasMu.Lock()
	cached := g.cachedGas
	updatedAt := g.gasUpdatedAt
	g.gasMu.Unlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached, nil
	}

	price, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}

	// Add 10% buffer for faster inclusion (copy to avoid mutating SuggestGasPrice return)
	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	g.gasMu.Lock()
	g.cachedGas = buffered
	g.gasUpdatedAt = time.Now()
	g.gasMu.Unlock()

	return buffered, nil
}

// waitForReceipt polls until the transaction is mined or ctx ends. There is
// no client-side deadline: a slow transaction is reported once to the
// observer and waiting continues.
func (g *Gateway) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	started := time.Now()
	warned := false

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := g.client.TransactionReceipt(ctx, txHash)
			if err == nil && receipt != nil {
				return receipt, nil
			}
			if err != nil && !errors.Is(err, ethereum.NotFound) {
				slog.Debug("onchain: receipt poll failed", "tx", txHash.Hex(), "err", err)
			}
			if waited := time.Since(started); !warned && waited >= g.cfg.StillPending {
				warned = true
				slog.Warn("onchain: transaction still pending", "tx", txHash.Hex(), "waited", waited.Truncate(time.Second))
				if g.observer != nil {
					g.observer.StillPending(ctx, txHash, waited)
				}
			}
		}
	}
}
