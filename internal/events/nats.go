package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// OriginHeader carries the id of the bridge that published a message.
const OriginHeader = "Memoryd-Origin"

type remoteCtxKey struct{}

// NATSBridge forwards bus events to NATS subjects "<prefix>.<event>". With
// relay enabled it also republishes events from other processes onto the
// local bus, skipping messages it sent itself.
type NATSBridge struct {
	conn   *nats.Conn
	bus    *Bus
	prefix string
	origin string
	logger *logging.Logger

	unsubscribe func()
	sub         *nats.Subscription
}

// NewNATSBridge wires bus to conn. Call Close to detach.
func NewNATSBridge(conn *nats.Conn, bus *Bus, prefix string, relay bool, logger *logging.Logger) (*NATSBridge, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	b := &NATSBridge{
		conn:   conn,
		bus:    bus,
		prefix: strings.TrimSuffix(prefix, "."),
		origin: uuid.NewString(),
		logger: logger,
	}

	if relay {
		sub, err := conn.Subscribe(b.prefix+".>", b.relay)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s.>: %w", b.prefix, err)
		}
		b.sub = sub
	}
	b.unsubscribe = bus.Subscribe(b.forward)
	return b, nil
}

// Subject returns the NATS subject for evt.
func (b *NATSBridge) Subject(evt Event) string {
	return b.prefix + "." + string(evt)
}

// Origin returns the id stamped on outgoing messages.
func (b *NATSBridge) Origin() string {
	return b.origin
}

func (b *NATSBridge) forward(ctx context.Context, evt Event) {
	if ctx.Value(remoteCtxKey{}) != nil {
		return
	}
	msg := nats.NewMsg(b.Subject(evt))
	msg.Header.Set(OriginHeader, b.origin)
	if err := b.conn.PublishMsg(msg); err != nil {
		b.logger.Warn(ctx, "nats publish failed", zap.String("event", string(evt)), zap.Error(err))
	}
}

func (b *NATSBridge) relay(msg *nats.Msg) {
	if msg.Header.Get(OriginHeader) == b.origin {
		return
	}
	evt := Event(strings.TrimPrefix(msg.Subject, b.prefix+"."))
	if !evt.Valid() {
		return
	}
	ctx := context.WithValue(context.Background(), remoteCtxKey{}, true)
	b.bus.Publish(ctx, evt)
}

// Close detaches the bridge from the bus and NATS. The connection stays open.
func (b *NATSBridge) Close() error {
	b.unsubscribe()
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
	}
	return nil
}
