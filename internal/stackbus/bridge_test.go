package stackbus

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/meshgate/internal/borderrouter"
	"github.com/nerrad567/meshgate/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshgate/internal/tasklet"
)

type bridgeFixture struct {
	bridge    *Bridge
	transport *fakeTransport
	loop      *inlineLoop
	handler   *recordingHandler
	statusReq *atomic.Int32
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		transport: newFakeTransport(),
		loop:      &inlineLoop{},
		handler:   &recordingHandler{},
		statusReq: &atomic.Int32{},
	}
	b, err := NewBridge(BridgeOptions{
		Transport:       f.transport,
		Dispatcher:      f.loop,
		Handler:         f.handler,
		QoS:             1,
		OnStatusRequest: func() { f.statusReq.Add(1) },
	})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Stop)
	f.bridge = b
	return f
}

func TestNewBridge_RequiresDependencies(t *testing.T) {
	_, err := NewBridge(BridgeOptions{})
	assert.Error(t, err)
	_, err = NewBridge(BridgeOptions{Transport: newFakeTransport()})
	assert.Error(t, err)
	_, err = NewBridge(BridgeOptions{Transport: newFakeTransport(), Dispatcher: &inlineLoop{}})
	assert.Error(t, err)
}

func TestBridge_SubscribesAndUnsubscribes(t *testing.T) {
	f := newBridgeFixture(t)
	topics := mqtt.Topics{}

	for _, topic := range []string{
		topics.AllStackDriverStatus(),
		topics.AllStackInterfaceStatus(),
		topics.AllRouterCommands(),
	} {
		assert.True(t, f.transport.subscribed(topic), topic)
	}

	f.bridge.Stop()
	f.bridge.Stop()
	assert.Len(t, f.transport.unsubscribed, 3)
}

func TestBridge_DriverStatus(t *testing.T) {
	f := newBridgeFixture(t)
	topics := mqtt.Topics{}

	require.NoError(t, f.transport.deliver(topics.AllStackDriverStatus(),
		topics.StackDriverStatus(2), []byte(`{"link_up":true}`)))
	require.NoError(t, f.transport.deliver(topics.AllStackDriverStatus(),
		topics.StackDriverStatus(2), []byte(`{"link_up":false}`)))

	assert.Equal(t, []borderrouter.DriverEvent{
		{DriverID: 2, LinkUp: true},
		{DriverID: 2, LinkUp: false},
	}, f.handler.drivers)
}

func TestBridge_InterfaceStatus(t *testing.T) {
	f := newBridgeFixture(t)
	topics := mqtt.Topics{}

	require.NoError(t, f.transport.deliver(topics.AllStackInterfaceStatus(),
		topics.StackInterfaceStatus(1), []byte(`{"status":"bootstrap-ready"}`)))
	require.NoError(t, f.transport.deliver(topics.AllStackInterfaceStatus(),
		topics.StackInterfaceStatus(1), []byte(`{"status":"parent-poll-fail"}`)))

	assert.Equal(t, []borderrouter.InterfaceEvent{
		{InterfaceID: 1, Status: borderrouter.StatusBootstrapReady},
		{InterfaceID: 1, Status: borderrouter.StatusParentPollFail},
	}, f.handler.ifaces)
}

func TestBridge_RejectsBadMessages(t *testing.T) {
	topics := mqtt.Topics{}
	tests := []struct {
		name    string
		pattern string
		topic   string
		payload string
		wantErr error
	}{
		{
			name:    "driver payload",
			pattern: topics.AllStackDriverStatus(),
			topic:   topics.StackDriverStatus(1),
			payload: `{`,
			wantErr: ErrBadMessage,
		},
		{
			name:    "negative driver",
			pattern: topics.AllStackDriverStatus(),
			topic:   "meshgate/stack/driver/-1/status",
			payload: `{"link_up":true}`,
			wantErr: ErrBadMessage,
		},
		{
			name:    "driver topic",
			pattern: topics.AllStackDriverStatus(),
			topic:   "meshgate/stack/driver/eth/status",
			payload: `{"link_up":true}`,
			wantErr: mqtt.ErrInvalidTopic,
		},
		{
			name:    "interface out of range",
			pattern: topics.AllStackInterfaceStatus(),
			topic:   topics.StackInterfaceStatus(300),
			payload: `{"status":"bootstrap-ready"}`,
			wantErr: ErrBadMessage,
		},
		{
			name:    "unknown status",
			pattern: topics.AllStackInterfaceStatus(),
			topic:   topics.StackInterfaceStatus(1),
			payload: `{"status":"sleeping"}`,
			wantErr: borderrouter.ErrUnknownStatus,
		},
		{
			name:    "unknown command",
			pattern: topics.AllRouterCommands(),
			topic:   topics.RouterCommand("reboot"),
			wantErr: ErrBadMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBridgeFixture(t)
			err := f.transport.deliver(tt.pattern, tt.topic, []byte(tt.payload))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, f.loop.posted)
		})
	}
}

func TestBridge_Commands(t *testing.T) {
	f := newBridgeFixture(t)
	topics := mqtt.Topics{}

	require.NoError(t, f.transport.deliver(topics.AllRouterCommands(), topics.RouterCommand(CommandRetry), nil))
	require.NoError(t, f.transport.deliver(topics.AllRouterCommands(), topics.RouterCommand(CommandStatus), nil))

	assert.Equal(t, 1, f.handler.retries)
	assert.Equal(t, int32(1), f.statusReq.Load())
}

func TestBridge_FullQueueDropsEvent(t *testing.T) {
	f := newBridgeFixture(t)
	f.loop.err = tasklet.ErrQueueFull
	topics := mqtt.Topics{}

	err := f.transport.deliver(topics.AllStackDriverStatus(), topics.StackDriverStatus(0), []byte(`{"link_up":true}`))
	assert.ErrorIs(t, err, tasklet.ErrQueueFull)
	assert.Empty(t, f.handler.drivers)
}

func TestBridge_LoopNotRunning(t *testing.T) {
	ft := newFakeTransport()
	loop := tasklet.New(1)
	handler := &recordingHandler{}
	b, err := NewBridge(BridgeOptions{Transport: ft, Dispatcher: loop, Handler: handler})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	topics := mqtt.Topics{}
	deliver := func() error {
		return ft.deliver(topics.AllStackDriverStatus(), topics.StackDriverStatus(0), []byte(`{"link_up":true}`))
	}

	assert.ErrorIs(t, deliver(), tasklet.ErrStopped)
}
