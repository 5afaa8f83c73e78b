package events

import (
	"context"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func connect(t *testing.T, server *natsserver.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSBridge_ForwardsBusEvents(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	watcher := connect(t, server)

	sub, err := watcher.SubscribeSync("memoryd.events.>")
	require.NoError(t, err)
	require.NoError(t, watcher.Flush())

	bus := NewBus(nil)
	bridge, err := NewNATSBridge(nc, bus, "memoryd.events", false, nil)
	require.NoError(t, err)
	defer bridge.Close()

	bus.Publish(context.Background(), BrandDataUpdated)
	require.NoError(t, nc.Flush())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "memoryd.events.brand-data-updated", msg.Subject)
	assert.Empty(t, msg.Data)
	assert.Equal(t, bridge.Origin(), msg.Header.Get(OriginHeader))
}

func TestNATSBridge_RelaysRemoteEventsOnly(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	remote := connect(t, server)

	bus := NewBus(nil)
	var mu sync.Mutex
	var got []Event
	bus.Subscribe(func(_ context.Context, e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	bridge, err := NewNATSBridge(nc, bus, "memoryd.events", true, nil)
	require.NoError(t, err)
	defer bridge.Close()
	require.NoError(t, nc.Flush())

	// Local publish: delivered once locally, not echoed back from NATS.
	bus.Publish(context.Background(), MemoriesUpdated)

	// Remote publishes: one valid, one unknown.
	require.NoError(t, remote.Publish("memoryd.events.client-data-updated", nil))
	require.NoError(t, remote.Publish("memoryd.events.not-an-event", nil))
	require.NoError(t, remote.Flush())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	// Give a stray echo time to arrive.
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Event{MemoriesUpdated, ClientDataUpdated}, got)
}

func TestNATSBridge_Close(t *testing.T) {
	server := startTestNATSServer(t)
	nc := connect(t, server)
	watcher := connect(t, server)

	sub, err := watcher.SubscribeSync("memoryd.events.>")
	require.NoError(t, err)
	require.NoError(t, watcher.Flush())

	bus := NewBus(nil)
	bridge, err := NewNATSBridge(nc, bus, "memoryd.events.", true, nil)
	require.NoError(t, err)
	assert.Equal(t, "memoryd.events.memories-updated", bridge.Subject(MemoriesUpdated))
	require.NoError(t, bridge.Close())

	bus.Publish(context.Background(), MemoriesUpdated)
	require.NoError(t, nc.Flush())

	_, err = sub.NextMsg(200 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout)
}
