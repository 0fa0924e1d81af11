// Package events broadcasts accounting events to WebSocket subscribers.
package events

import (
	"time"
)

// TradeAppliedEvent is sent to stream subscribers whenever a trade commits
// as applied. Amounts are 6-dp decimal strings keyed by kind.
type TradeAppliedEvent struct {
	Type       string            `json:"type"`
	TradeID    string            `json:"trade_id"`
	Chain      string            `json:"chain"`
	TraderID   int64             `json:"trader_id"`
	FeeToken   string            `json:"fee_token"`
	FeeAmount  string            `json:"fee_amount"`
	Splits     map[string]string `json:"splits"`
	ExecutedAt time.Time         `json:"executed_at"`
}

// EventTradeApplied is the Type value of TradeAppliedEvent.
const EventTradeApplied = "trade_applied"

// Publisher publishes events without depending on the WebSocket
// implementation. The no-op NopPublisher satisfies it for tests and for
// deployments without a stream surface.
type Publisher interface {
	PublishTradeApplied(event *TradeAppliedEvent)
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) PublishTradeApplied(*TradeAppliedEvent) {}
