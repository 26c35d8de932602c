package onchain

// gateway.go — request/response wrapper around the HILO contract.
//
// Reads go through eth_call and are rate limited. Writes are signed by the
// session's signer, broadcast, and awaited until final (see tx.go). Failures
// are wrapped and forwarded as-is; classification happens elsewhere.

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/ports"
)

const (
	// Reads: a full refresh is ~9 calls, keep well under public RPC limits.
	readRatePerSec = 25
	readBurst      = 10

	defaultGasLimit     = uint64(300_000)
	defaultPollInterval = 3 * time.Second
	defaultStillPending = 45 * time.Second
)

// ChainClient is the subset of *ethclient.Client the gateway uses.
type ChainClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// GatewayConfig holds the addresses and tuning for a Gateway.
type GatewayConfig struct {
	ChainID        int64
	Contract       common.Address
	PaymentAsset   common.Address
	AssetDecimals  int32
	PollInterval   time.Duration
	StillPending   time.Duration // when to tell the observer a tx is slow
	ReadRatePerSec float64
}

// Gateway implements ports.Ledger against a deployed HILO contract.
type Gateway struct {
	client   ChainClient
	cfg      GatewayConfig
	fp       FixedPoint
	limiter  *rate.Limiter
	observer ports.TxObserver

	gasMu        sync.Mutex
	cachedGas    *big.Int
	gasUpdatedAt time.Time
}

// NewGateway creates a gateway. observer may be nil.
func NewGateway(client ChainClient, cfg GatewayConfig, observer ports.TxObserver) *Gateway {
	if cfg.AssetDecimals <= 0 {
		cfg.AssetDecimals = DefaultAssetDecimals
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StillPending <= 0 {
		cfg.StillPending = defaultStillPending
	}
	if cfg.ReadRatePerSec <= 0 {
		cfg.ReadRatePerSec = readRatePerSec
	}
	return &Gateway{
		client:   client,
		cfg:      cfg,
		fp:       FixedPoint{Decimals: cfg.AssetDecimals},
		limiter:  rate.NewLimiter(rate.Limit(cfg.ReadRatePerSec), readBurst),
		observer: observer,
	}
}

// FixedPoint exposes the gateway's unit conversion.
func (g *Gateway) FixedPoint() FixedPoint { return g.fp }

// Price returns the current unit price of a token.
func (g *Gateway) Price(ctx context.Context, kind domain.TokenKind) (uint64, error) {
	v, err := g.callUint(ctx, common.Address{}, "getPrice", tokenID(kind))
	if err != nil {
		return 0, fmt.Errorf("onchain: getPrice(%s): %w", kind, err)
	}
	return v, nil
}

// Balance returns how many tokens of kind account holds.
func (g *Gateway) Balance(ctx context.Context, kind domain.TokenKind, account common.Address) (uint64, error) {
	v, err := g.callUint(ctx, common.Address{}, "balanceOf", account, tokenID(kind))
	if err != nil {
		return 0, fmt.Errorf("onchain: balanceOf(%s, %s): %w", account.Hex(), kind, err)
	}
	return v, nil
}

// PlayerTotals returns the holder count per token kind.
func (g *Gateway) PlayerTotals(ctx context.Context) ([2]uint64, error) {
	var totals [2]uint64
	for _, k := range domain.TokenKinds {
		v, err := g.callUint(ctx, common.Address{}, "totalSupply", tokenID(k))
		if err != nil {
			return totals, fmt.Errorf("onchain: totalSupply(%s): %w", k, err)
		}
		totals[k] = v
	}
	return totals, nil
}

// Winners returns the jackpot winners, empty while the game runs.
func (g *Gateway) Winners(ctx context.Context) ([]common.Address, error) {
	out, err := g.call(ctx, hiloABI, g.cfg.Contract, common.Address{}, "getWinners")
	if err != nil {
		return nil, fmt.Errorf("onchain: getWinners: %w", err)
	}
	winners, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("onchain: getWinners: unexpected type %T", out[0])
	}
	return winners, nil
}

// GameWon reports whether the contract considers the game over.
func (g *Gateway) GameWon(ctx context.Context) (bool, error) {
	v, err := g.callBool(ctx, "gameWon")
	if err != nil {
		return false, fmt.Errorf("onchain: gameWon: %w", err)
	}
	return v, nil
}

// Allowance returns the payment-asset allowance account granted the contract.
func (g *Gateway) Allowance(ctx context.Context, account common.Address) (decimal.Decimal, error) {
	out, err := g.call(ctx, erc20ABI, g.cfg.PaymentAsset, common.Address{}, "allowance", account, g.cfg.Contract)
	if err != nil {
		return decimal.Zero, fmt.Errorf("onchain: allowance(%s): %w", account.Hex(), err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("onchain: allowance: unexpected type %T", out[0])
	}
	return g.fp.ToDecimal(v), nil
}

// QueuePosition returns account's place in the sell queue for kind.
// checkInQueue reads msg.sender, so the call is made from account.
func (g *Gateway) QueuePosition(ctx context.Context, kind domain.TokenKind, account common.Address) (uint64, error) {
	v, err := g.callUint(ctx, account, "checkInQueue", tokenID(kind))
	if err != nil {
		return 0, fmt.Errorf("onchain: checkInQueue(%s): %w", kind, err)
	}
	return v, nil
}

// CanSell reports whether a sale of kind would execute right now.
func (g *Gateway) CanSell(ctx context.Context, kind domain.TokenKind) (bool, error) {
	v, err := g.callBool(ctx, "canSell", tokenID(kind))
	if err != nil {
		return false, fmt.Errorf("onchain: canSell(%s): %w", kind, err)
	}
	return v, nil
}

// ApproveSpend grants the contract an allowance of amount payment-asset units.
func (g *Gateway) ApproveSpend(ctx context.Context, signer ports.Signer, amount decimal.Decimal) (domain.Receipt, error) {
	data, err := erc20ABI.Pack("approve", g.cfg.Contract, g.fp.FromDecimal(amount))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain: pack approve: %w", err)
	}
	r, err := g.transact(ctx, signer, g.cfg.PaymentAsset, "approve", data)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain: approve %s: %w", amount, err)
	}
	return r, nil
}

// Buy purchases count tokens of kind.
func (g *Gateway) Buy(ctx context.Context, signer ports.Signer, kind domain.TokenKind, count uint64) (domain.Receipt, error) {
	data, err := hiloABI.Pack("buy", tokenID(kind), new(big.Int).SetUint64(count))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain: pack buy: %w", err)
	}
	r, err := g.transact(ctx, signer, g.cfg.Contract, "buy", data)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain: buy(%s, %d): %w", kind, count, err)
	}
	return r, nil
}

// Sell sells one token of kind.
func (g *Gateway) Sell(ctx context.Context, signer ports.Signer, kind domain.TokenKind) (domain.Receipt, error) {
	data, err := hiloABI.Pack("sell", tokenID(kind))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain: pack sell: %w", err)
	}
	r, err := g.transact(ctx, signer, g.cfg.Contract, "sell", data)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain: sell(%s): %w", kind, err)
	}
	return r, nil
}

// JoinQueue enters the sell queue for kind.
func (g *Gateway) JoinQueue(ctx context.Context, signer ports.Signer, kind domain.TokenKind) (domain.Receipt, error) {
	data, err := hiloABI.Pack("addToQueue", tokenID(kind))
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain: pack addToQueue: %w", err)
	}
	r, err := g.transact(ctx, signer, g.cfg.Contract, "addToQueue", data)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("onchain: addToQueue(%s): %w", kind, err)
	}
	return r, nil
}

// call packs, executes and unpacks a read-only method.
func (g *Gateway) call(ctx context.Context, contractABI abi.ABI, to, from common.Address, method string, args ...any) ([]any, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}

	msg := ethereum.CallMsg{From: from, To: &to, Data: data}
	raw, err := g.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}

	vals, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack: %w", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	return vals, nil
}

func (g *Gateway) callUint(ctx context.Context, from common.Address, method string, args ...any) (uint64, error) {
	out, err := g.call(ctx, hiloABI, g.cfg.Contract, from, method, args...)
	if err != nil {
		return 0, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T", out[0])
	}
	return toUint64(v)
}

func (g *Gateway) callBool(ctx context.Context, method string, args ...any) (bool, error) {
	out, err := g.call(ctx, hiloABI, g.cfg.Contract, common.Address{}, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected type %T", out[0])
	}
	return v, nil
}

func tokenID(kind domain.TokenKind) *big.Int {
	return big.NewInt(int64(kind))
}
