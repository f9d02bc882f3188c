package ingest

import (
	"context"
	"fmt"

	"marketIndexer/internal/model"
	"marketIndexer/internal/storage"
)

// Notification event types pushed to subscribers.
const (
	EventMarketCreated   = "market:created"
	EventSharesBought    = "trade:shares_bought"
	EventSharesSold      = "trade:shares_sold"
	EventLiquidityAdded  = "liquidity:added"
	EventLiquidityRemove = "liquidity:removed"
	EventMarketResolved  = "market:resolved"
	EventWinningsClaimed = "market:winnings_claimed"
)

// Handler applies one event kind to the store and derives its notifications.
type Handler struct {
	Apply func(ctx context.Context, store storage.StateStore, meta model.EventMeta, payload model.Payload) error
	// Topics lists where a realtime event of this kind is published.
	Topics    func(payload model.Payload) []model.Topic
	EventType string
}

// Handlers maps every event kind to its handler.
type Handlers map[model.EventKind]Handler

// Validate checks that every tracked kind has a complete handler.
func (h Handlers) Validate() error {
	for _, kind := range model.AllEventKinds {
		handler, ok := h[kind]
		if !ok {
			return fmt.Errorf("no handler for %s", kind)
		}
		if handler.Apply == nil || handler.Topics == nil || handler.EventType == "" {
			return fmt.Errorf("incomplete handler for %s", kind)
		}
	}
	return nil
}

// DefaultHandlers returns the store-backed handler set.
func DefaultHandlers() Handlers {
	trade := func(eventType string) Handler {
		return Handler{
			Apply: func(ctx context.Context, store storage.StateStore, meta model.EventMeta, payload model.Payload) error {
				p, err := payloadAs[model.ShareTrade](payload)
				if err != nil {
					return err
				}
				return store.ApplyShareTrade(ctx, meta, p)
			},
			Topics: func(payload model.Payload) []model.Topic {
				p := payload.(model.ShareTrade)
				return []model.Topic{model.MarketTopic(p.MarketID), model.UserTopic(p.Trader)}
			},
			EventType: eventType,
		}
	}
	liquidity := func(eventType string) Handler {
		return Handler{
			Apply: func(ctx context.Context, store storage.StateStore, meta model.EventMeta, payload model.Payload) error {
				p, err := payloadAs[model.LiquidityChange](payload)
				if err != nil {
					return err
				}
				return store.ApplyLiquidityChange(ctx, meta, p)
			},
			Topics: func(payload model.Payload) []model.Topic {
				p := payload.(model.LiquidityChange)
				return []model.Topic{model.MarketTopic(p.MarketID), model.UserTopic(p.Provider)}
			},
			EventType: eventType,
		}
	}

	return Handlers{
		model.KindMarketCreated: {
			Apply: func(ctx context.Context, store storage.StateStore, meta model.EventMeta, payload model.Payload) error {
				p, err := payloadAs[model.MarketCreated](payload)
				if err != nil {
					return err
				}
				return store.ApplyMarketCreated(ctx, meta, p)
			},
			Topics: func(model.Payload) []model.Topic {
				return []model.Topic{model.GlobalTopic}
			},
			EventType: EventMarketCreated,
		},
		model.KindSharesBought:     trade(EventSharesBought),
		model.KindSharesSold:       trade(EventSharesSold),
		model.KindLiquidityAdded:   liquidity(EventLiquidityAdded),
		model.KindLiquidityRemoved: liquidity(EventLiquidityRemove),
		model.KindMarketResolved: {
			Apply: func(ctx context.Context, store storage.StateStore, meta model.EventMeta, payload model.Payload) error {
				p, err := payloadAs[model.MarketResolved](payload)
				if err != nil {
					return err
				}
				return store.ApplyMarketResolved(ctx, meta, p)
			},
			Topics: func(payload model.Payload) []model.Topic {
				return []model.Topic{model.MarketTopic(payload.MarketKey()), model.GlobalTopic}
			},
			EventType: EventMarketResolved,
		},
		model.KindWinningsClaimed: {
			Apply: func(ctx context.Context, store storage.StateStore, meta model.EventMeta, payload model.Payload) error {
				p, err := payloadAs[model.WinningsClaimed](payload)
				if err != nil {
					return err
				}
				return store.ApplyWinningsClaimed(ctx, meta, p)
			},
			Topics: func(payload model.Payload) []model.Topic {
				return []model.Topic{model.UserTopic(payload.(model.WinningsClaimed).User)}
			},
			EventType: EventWinningsClaimed,
		},
	}
}

// notifications builds one notification per topic for a completed event.
func (h Handler) notifications(event model.Event, timestamp int64) []model.DomainNotification {
	body := model.EventBody{
		EventID:     event.Raw.ID(),
		TxHash:      event.Raw.TxHash,
		BlockNumber: event.Raw.BlockNumber,
		Data:        event.Payload,
	}
	topics := h.Topics(event.Payload)
	out := make([]model.DomainNotification, 0, len(topics))
	for _, topic := range topics {
		out = append(out, model.DomainNotification{
			Topic:     topic.String(),
			EventType: h.EventType,
			Payload:   body,
			Timestamp: timestamp,
		})
	}
	return out
}

func payloadAs[T model.Payload](payload model.Payload) (T, error) {
	p, ok := payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected payload %T for %T", payload, zero)
	}
	return p, nil
}
