package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/fanout"
)

// DefaultBusChannel is the signal bus channel the built-in hub listens on.
const DefaultBusChannel = "realtime:updates"

// Update is one hub message as carried on the signal bus and delivered to
// WebSocket clients (Private is not sent to clients).
type Update struct {
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
	Private bool            `json:"private,omitempty"`
}

// BusPublisher publishes updates over the signal bus so every instance's
// built-in hub can deliver them to its connected clients.
type BusPublisher struct {
	bus     domain.SignalBus
	channel string
}

// NewBusPublisher creates a BusPublisher. An empty channel uses
// DefaultBusChannel.
func NewBusPublisher(bus domain.SignalBus, channel string) *BusPublisher {
	if channel == "" {
		channel = DefaultBusChannel
	}
	return &BusPublisher{bus: bus, channel: channel}
}

// Publish implements fanout.Publisher. payload must be valid JSON.
func (p *BusPublisher) Publish(ctx context.Context, topic string, payload []byte, private bool) error {
	msg, err := json.Marshal(Update{Topic: topic, Data: payload, Private: private})
	if err != nil {
		return fmt.Errorf("realtime: encode update: %w", err)
	}
	if err := p.bus.Publish(ctx, p.channel, msg); err != nil {
		return fmt.Errorf("realtime: %w: %w", domain.ErrHubUnavailable, err)
	}
	return nil
}

var _ fanout.Publisher = (*BusPublisher)(nil)
