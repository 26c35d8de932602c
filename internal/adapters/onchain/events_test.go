package onchain

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/hilo/internal/domain"
)

type fakeLogSub struct {
	errc chan error
	once sync.Once
}

func (s *fakeLogSub) Err() <-chan error { return s.errc }
func (s *fakeLogSub) Unsubscribe()      { s.once.Do(func() { close(s.errc) }) }

type fakeLogs struct {
	query ethereum.FilterQuery
	ch    chan<- types.Log
	sub   *fakeLogSub
}

func (f *fakeLogs) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.query = q
	f.ch = ch
	f.sub = &fakeLogSub{errc: make(chan error, 1)}
	return f.sub, nil
}

func priceUpdatedLog(t *testing.T, player common.Address, id int64) types.Log {
	t.Helper()
	ev := hiloABI.Events["PriceUpdated"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(id))
	require.NoError(t, err)
	return types.Log{
		Address: testContract,
		Topics:  []common.Hash{ev.ID, common.BytesToHash(player.Bytes())},
		Data:    data,
		TxHash:  common.HexToHash("0x01"),
	}
}

func convergedLog(t *testing.T, winners []common.Address, price int64) types.Log {
	t.Helper()
	ev := hiloABI.Events["PricesConverged"]
	data, err := ev.Inputs.NonIndexed().Pack(winners, big.NewInt(price))
	require.NoError(t, err)
	return types.Log{Address: testContract, Topics: []common.Hash{ev.ID}, Data: data}
}

func receiveEvent(t *testing.T, sink <-chan domain.ChainEvent) domain.ChainEvent {
	t.Helper()
	select {
	case ev := <-sink:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return domain.ChainEvent{}
	}
}

func TestEventFeed_DecodesGameEvents(t *testing.T) {
	logs := &fakeLogs{}
	feed := NewEventFeed(logs, testContract)
	sink := make(chan domain.ChainEvent, 4)

	sub, err := feed.SubscribeGameEvents(context.Background(), sink)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Equal(t, []common.Address{testContract}, logs.query.Addresses)

	player := common.HexToAddress("0xA11CE")
	winner := common.HexToAddress("0xB0B")

	logs.ch <- priceUpdatedLog(t, player, 1)
	ev := receiveEvent(t, sink)
	require.NotNil(t, ev.PriceUpdated)
	assert.Equal(t, player, ev.PriceUpdated.Player)
	assert.Equal(t, domain.TokenLow, ev.PriceUpdated.Kind)

	// Logs removed by a reorg and unknown token IDs are dropped.
	removed := priceUpdatedLog(t, player, 0)
	removed.Removed = true
	logs.ch <- removed
	logs.ch <- priceUpdatedLog(t, player, 7)

	logs.ch <- convergedLog(t, []common.Address{winner}, 3)
	ev = receiveEvent(t, sink)
	require.NotNil(t, ev.Converged)
	assert.Equal(t, []common.Address{winner}, ev.Converged.Winners)
	assert.Equal(t, uint64(3), ev.Converged.Price)
}

func TestEventFeed_ForwardsSubscriptionError(t *testing.T) {
	logs := &fakeLogs{}
	feed := NewEventFeed(logs, testContract)

	sub, err := feed.SubscribeGameEvents(context.Background(), make(chan domain.ChainEvent))
	require.NoError(t, err)

	logs.sub.errc <- assert.AnError
	select {
	case got := <-sub.Err():
		assert.ErrorIs(t, got, assert.AnError)
	case <-time.After(time.Second):
		t.Fatal("subscription error not forwarded")
	}
}

func TestDecodeLog_MalformedLogsAreErrors(t *testing.T) {
	winner := common.HexToAddress("0xB0B")

	short := convergedLog(t, []common.Address{winner}, 3)
	short.Data = short.Data[:40]

	ev := hiloABI.Events["PricesConverged"]
	huge, ok := new(big.Int).SetString("100000000000000000000", 10)
	require.True(t, ok)
	data, err := ev.Inputs.NonIndexed().Pack([]common.Address{winner}, huge)
	require.NoError(t, err)
	overflow := types.Log{Address: testContract, Topics: []common.Hash{ev.ID}, Data: data}

	noPlayer := priceUpdatedLog(t, winner, 0)
	noPlayer.Topics = noPlayer.Topics[:1]

	for name, l := range map[string]types.Log{
		"truncated data": short,
		"price overflow": overflow,
		"missing player": noPlayer,
		"no topics":      {Address: testContract},
	} {
		t.Run(name, func(t *testing.T) {
			var err error
			assert.NotPanics(t, func() { _, err = decodeLog(l) })
			assert.Error(t, err)
		})
	}
}
