package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/event"

	"github.com/alejandrodnm/hilo/internal/domain"
)

// EventFeed streams decoded contract notifications.
type EventFeed interface {
	// SubscribeGameEvents delivers PriceUpdated and PricesConverged events
	// to sink until the subscription is cancelled or fails.
	SubscribeGameEvents(ctx context.Context, sink chan<- domain.ChainEvent) (event.Subscription, error)
}
