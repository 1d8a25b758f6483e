// Event bridge: forwards bus events to the WebSocket hub so feed clients
// see session transitions and message outcomes as they happen.
package api

import (
	"context"

	"github.com/broadcastio/wagateway/pkg/bus"
	"github.com/broadcastio/wagateway/pkg/events"
	"github.com/broadcastio/wagateway/pkg/logger"
)

// EventBridge connects the message bus to the WebSocket hub.
type EventBridge struct {
	bus *bus.MessageBus
	hub *WSHub
}

// NewEventBridge creates a bridge that forwards bus events to WebSocket clients.
func NewEventBridge(mb *bus.MessageBus, hub *WSHub) *EventBridge {
	return &EventBridge{bus: mb, hub: hub}
}

// Run subscribes to both bus streams and forwards them until ctx is done.
// It does not block.
func (eb *EventBridge) Run(ctx context.Context) {
	logger.InfoC("events", "Event bridge started")

	outboundTap := eb.bus.SubscribeOutboundTap("event-bridge")
	systemTap := eb.bus.SubscribeSystem("event-bridge")

	go eb.forward(ctx, "outbound", outboundTap)
	go eb.forward(ctx, "system", systemTap)
}

func (eb *EventBridge) forward(ctx context.Context, stream string, tap <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			logger.DebugCF("events", "Event bridge stopped", map[string]interface{}{"stream": stream})
			return
		case evt, ok := <-tap:
			if !ok {
				return
			}
			eb.hub.Broadcast(evt.Type, evt.Data)
		}
	}
}
