package stackbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/nerrad567/meshgate/internal/borderrouter"
	"github.com/nerrad567/meshgate/internal/infrastructure/mqtt"
)

// Dispatcher queues work onto the router loop without blocking.
// *tasklet.Loop implements it.
type Dispatcher interface {
	TryPost(fn func()) error
}

// EventHandler receives classified stack events. *borderrouter.Router
// implements it. Methods are only called from the Dispatcher.
type EventHandler interface {
	HandleDriverStatus(ctx context.Context, ev borderrouter.DriverEvent)
	HandleInterfaceStatus(ctx context.Context, ev borderrouter.InterfaceEvent)
	RetryBootstrap(ctx context.Context)
}

// BridgeOptions holds the dependencies for NewBridge.
type BridgeOptions struct {
	Transport  Transport
	Dispatcher Dispatcher
	Handler    EventHandler
	QoS        byte

	// OnStatusRequest runs for the "status" command. Optional.
	OnStatusRequest func()

	Logger Logger
}

// Bridge turns stack status messages and operator commands received over
// MQTT into router events posted on the router loop.
type Bridge struct {
	transport  Transport
	dispatcher Dispatcher
	handler    EventHandler
	qos        byte
	onStatus   func()
	logger     Logger
	topics     mqtt.Topics

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Transport == nil {
		return nil, errors.New("stackbus: transport is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("stackbus: dispatcher is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("stackbus: event handler is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Bridge{
		transport:  opts.Transport,
		dispatcher: opts.Dispatcher,
		handler:    opts.Handler,
		qos:        opts.QoS,
		onStatus:   opts.OnStatusRequest,
		logger:     opts.Logger,
		ctx:        context.Background(),
		cancel:     func() {},
	}, nil
}

// Start subscribes to driver status, interface status and router command
// topics. Events posted to the loop run with a context derived from ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{b.topics.AllStackDriverStatus(), b.handleDriverStatus},
		{b.topics.AllStackInterfaceStatus(), b.handleInterfaceStatus},
		{b.topics.AllRouterCommands(), b.handleCommand},
	}
	for _, s := range subs {
		if err := b.transport.Subscribe(s.topic, b.qos, s.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.topic, err)
		}
		b.logger.Info("subscribed", "topic", s.topic)
	}
	return nil
}

// Stop unsubscribes. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.cancel()
		for _, topic := range []string{
			b.topics.AllStackDriverStatus(),
			b.topics.AllStackInterfaceStatus(),
			b.topics.AllRouterCommands(),
		} {
			if err := b.transport.Unsubscribe(topic); err != nil {
				b.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
			}
		}
	})
}

func (b *Bridge) handleDriverStatus(topic string, payload []byte) error {
	id, err := mqtt.ParseDriverStatusTopic(topic)
	if err != nil {
		return err
	}
	if id < 0 {
		return fmt.Errorf("%w: driver id %d out of range", ErrBadMessage, id)
	}
	var msg DriverStatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: driver status: %w", ErrBadMessage, err)
	}

	ev := borderrouter.DriverEvent{DriverID: borderrouter.DriverID(id), LinkUp: msg.LinkUp}
	b.logger.Debug("driver status received", "driver_id", id, "link_up", msg.LinkUp)
	return b.post("driver status", func() {
		b.handler.HandleDriverStatus(b.ctx, ev)
	})
}

func (b *Bridge) handleInterfaceStatus(topic string, payload []byte) error {
	id, err := mqtt.ParseInterfaceStatusTopic(topic)
	if err != nil {
		return err
	}
	if id < 0 || id > math.MaxInt8 {
		return fmt.Errorf("%w: interface id %d out of range", ErrBadMessage, id)
	}
	var msg InterfaceStatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: interface status: %w", ErrBadMessage, err)
	}
	status, err := borderrouter.ParseInterfaceStatus(msg.Status)
	if err != nil {
		return err
	}

	ev := borderrouter.InterfaceEvent{InterfaceID: borderrouter.InterfaceID(id), Status: status}
	b.logger.Debug("interface status received", "interface_id", id, "status", status)
	return b.post("interface status", func() {
		b.handler.HandleInterfaceStatus(b.ctx, ev)
	})
}

func (b *Bridge) handleCommand(topic string, _ []byte) error {
	switch cmd := mqtt.LastSegment(topic); cmd {
	case CommandRetry:
		b.logger.Info("bootstrap retry requested")
		return b.post("retry command", func() {
			b.handler.RetryBootstrap(b.ctx)
		})
	case CommandStatus:
		if b.onStatus != nil {
			b.onStatus()
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", ErrBadMessage, cmd)
	}
}

// post never blocks: the MQTT callback goroutine must stay free to deliver
// the stack responses the loop may be waiting on.
func (b *Bridge) post(what string, fn func()) error {
	if err := b.dispatcher.TryPost(fn); err != nil {
		return fmt.Errorf("dropping %s: %w", what, err)
	}
	return nil
}
