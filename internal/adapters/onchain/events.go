package onchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/alejandrodnm/hilo/internal/domain"
)

// LogSubscriber is the subset of *ethclient.Client needed for push
// notifications. Only websocket/IPC connections support it.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// EventFeed implements ports.EventFeed over contract logs.
type EventFeed struct {
	client   LogSubscriber
	contract common.Address
}

// NewEventFeed creates a feed for the given contract.
func NewEventFeed(client LogSubscriber, contract common.Address) *EventFeed {
	return &EventFeed{client: client, contract: contract}
}

// SubscribeGameEvents streams decoded PriceUpdated and PricesConverged
// events into sink. Undecodable logs are skipped with a warning.
func (f *EventFeed) SubscribeGameEvents(ctx context.Context, sink chan<- domain.ChainEvent) (event.Subscription, error) {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{f.contract},
		Topics: [][]common.Hash{{
			hiloABI.Events["PriceUpdated"].ID,
			hiloABI.Events["PricesConverged"].ID,
		}},
	}

	logs := make(chan types.Log, 16)
	sub, err := f.client.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return nil, fmt.Errorf("onchain: subscribe logs: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				if l.Removed {
					continue
				}
				ev, err := decodeLog(l)
				if err != nil {
					slog.Warn("onchain: skipping undecodable log", "tx", l.TxHash.Hex(), "err", err)
					continue
				}
				select {
				case sink <- ev:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// decodeLog turns a raw contract log into a ChainEvent.
func decodeLog(l types.Log) (domain.ChainEvent, error) {
	if len(l.Topics) == 0 {
		return domain.ChainEvent{}, fmt.Errorf("log without topics")
	}

	switch l.Topics[0] {
	case hiloABI.Events["PriceUpdated"].ID:
		if len(l.Topics) < 2 {
			return domain.ChainEvent{}, fmt.Errorf("PriceUpdated: missing player topic")
		}
		vals, err := hiloABI.Unpack("PriceUpdated", l.Data)
		if err != nil {
			return domain.ChainEvent{}, fmt.Errorf("PriceUpdated: %w", err)
		}
		if len(vals) != 1 {
			return domain.ChainEvent{}, fmt.Errorf("PriceUpdated: got %d values, want 1", len(vals))
		}
		id, ok := vals[0].(*big.Int)
		if !ok || !id.IsUint64() || id.Uint64() > 1 {
			return domain.ChainEvent{}, fmt.Errorf("PriceUpdated: bad token id %v", vals[0])
		}
		return domain.ChainEvent{PriceUpdated: &domain.PriceUpdated{
			Player: common.BytesToAddress(l.Topics[1].Bytes()),
			Kind:   domain.TokenKind(id.Uint64()),
			TxHash: l.TxHash,
			Block:  l.BlockNumber,
		}}, nil

	case hiloABI.Events["PricesConverged"].ID:
		vals, err := hiloABI.Unpack("PricesConverged", l.Data)
		if err != nil {
			return domain.ChainEvent{}, fmt.Errorf("PricesConverged: %w", err)
		}
		if len(vals) != 2 {
			return domain.ChainEvent{}, fmt.Errorf("PricesConverged: got %d values, want 2", len(vals))
		}
		winners, ok := vals[0].([]common.Address)
		if !ok {
			return domain.ChainEvent{}, fmt.Errorf("PricesConverged: unexpected winners type %T", vals[0])
		}
		raw, ok := vals[1].(*big.Int)
		if !ok {
			return domain.ChainEvent{}, fmt.Errorf("PricesConverged: unexpected price type %T", vals[1])
		}
		price, err := toUint64(raw)
		if err != nil {
			return domain.ChainEvent{}, fmt.Errorf("PricesConverged: %w", err)
		}
		return domain.ChainEvent{Converged: &domain.PricesConverged{
			Winners: winners,
			Price:   price,
			TxHash:  l.TxHash,
			Block:   l.BlockNumber,
		}}, nil
	}

	return domain.ChainEvent{}, fmt.Errorf("unknown event topic %s", l.Topics[0].Hex())
}
