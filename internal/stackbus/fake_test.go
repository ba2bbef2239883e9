package stackbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/meshgate/internal/borderrouter"
	"github.com/nerrad567/meshgate/internal/infrastructure/mqtt"
)

type published struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// fakeTransport records publications and lets tests deliver messages to
// subscribed handlers.
type fakeTransport struct {
	mu           sync.Mutex
	subs         map[string]mqtt.MessageHandler
	unsubscribed []string
	published    []published
	publishErr   error
	subscribeErr error

	pubCh     chan published
	onPublish func(p published)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subs:  make(map[string]mqtt.MessageHandler),
		pubCh: make(chan published, 64),
	}
}

func (f *fakeTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	p := published{Topic: topic, Payload: payload, QoS: qos, Retained: retained}
	f.mu.Lock()
	err := f.publishErr
	hook := f.onPublish
	if err == nil {
		f.published = append(f.published, p)
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case f.pubCh <- p:
	default:
	}
	if hook != nil {
		hook(p)
	}
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subs[topic] = handler
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, topic)
	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

// deliver calls the handler subscribed to pattern with a message on topic.
func (f *fakeTransport) deliver(pattern, topic string, payload []byte) error {
	f.mu.Lock()
	h, ok := f.subs[pattern]
	f.mu.Unlock()
	if !ok {
		return mqtt.ErrSubscribeFailed
	}
	return h(topic, payload)
}

func (f *fakeTransport) subscribed(pattern string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[pattern]
	return ok
}

func (f *fakeTransport) publications() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func (f *fakeTransport) waitPublish(t *testing.T) published {
	t.Helper()
	select {
	case p := <-f.pubCh:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
		return published{}
	}
}

// respond answers every stack request through the response subscription.
func (f *fakeTransport) respond(t *testing.T, answer func(req Request) Response) {
	t.Helper()
	topics := mqtt.Topics{}
	f.mu.Lock()
	f.onPublish = func(p published) {
		var req Request
		if json.Unmarshal(p.Payload, &req) != nil || req.RequestID == "" {
			return
		}
		resp := answer(req)
		if resp.RequestID == "" {
			resp.RequestID = req.RequestID
		}
		payload, err := json.Marshal(resp)
		require.NoError(t, err)
		_ = f.deliver(topics.AllStackResponses(), topics.StackResponse(req.RequestID), payload) //nolint:errcheck // Test helper
	}
	f.mu.Unlock()
}

func okResult(t *testing.T, v any) Response {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return Response{OK: true, Result: raw}
}

// inlineLoop runs posted work immediately.
type inlineLoop struct {
	mu     sync.Mutex
	posted int
	err    error
}

func (l *inlineLoop) TryPost(fn func()) error {
	l.mu.Lock()
	err := l.err
	if err == nil {
		l.posted++
	}
	l.mu.Unlock()
	if err != nil {
		return err
	}
	fn()
	return nil
}

func (l *inlineLoop) Call(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	err := l.err
	l.mu.Unlock()
	if err != nil {
		return err
	}
	fn()
	return nil
}

// recordingHandler records router events.
type recordingHandler struct {
	mu        sync.Mutex
	drivers   []borderrouter.DriverEvent
	ifaces    []borderrouter.InterfaceEvent
	retries   int
	snapshot  borderrouter.Snapshot
	routes    []borderrouter.RouteEntry
	routesErr error
}

func (h *recordingHandler) HandleDriverStatus(_ context.Context, ev borderrouter.DriverEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drivers = append(h.drivers, ev)
}

func (h *recordingHandler) HandleInterfaceStatus(_ context.Context, ev borderrouter.InterfaceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ifaces = append(h.ifaces, ev)
}

func (h *recordingHandler) RetryBootstrap(context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries++
}

func (h *recordingHandler) Snapshot() borderrouter.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot
}

func (h *recordingHandler) RoutingTable(context.Context) ([]borderrouter.RouteEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.routes, h.routesErr
}
