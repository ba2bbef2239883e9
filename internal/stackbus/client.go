package stackbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/nerrad567/meshgate/internal/borderrouter"
	"github.com/nerrad567/meshgate/internal/infrastructure/mqtt"
)

// DefaultRequestTimeout bounds a stack request when no timeout is configured.
const DefaultRequestTimeout = 5 * time.Second

// Transport is the MQTT surface used by this package.
// *mqtt.Client implements it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ClientOptions configures a Client.
type ClientOptions struct {
	QoS     byte
	Timeout time.Duration

	// Optional.
	Clock  clock.Clock
	Logger Logger
	NewID  func() string
}

// Client implements borderrouter.Stack as MQTT request/response exchanges
// with the external stack daemon. Requests are correlated by request ID.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	transport Transport
	topics    mqtt.Topics
	qos       byte
	timeout   time.Duration
	clock     clock.Clock
	logger    Logger
	newID     func() string

	mu      sync.Mutex
	pending map[string]chan Response
	started bool
	closed  bool
}

var _ borderrouter.Stack = (*Client)(nil)

// NewClient creates a stack client. Call Start before issuing requests.
func NewClient(transport Transport, opts ClientOptions) *Client {
	c := &Client{
		transport: transport,
		qos:       opts.QoS,
		timeout:   opts.Timeout,
		clock:     opts.Clock,
		logger:    opts.Logger,
		newID:     opts.NewID,
		pending:   make(map[string]chan Response),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRequestTimeout
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.logger == nil {
		c.logger = noopLogger{}
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

// Start subscribes to stack responses.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	if err := c.transport.Subscribe(c.topics.AllStackResponses(), c.qos, c.handleResponse); err != nil {
		return fmt.Errorf("subscribing to stack responses: %w", err)
	}
	c.started = true
	return nil
}

// Close unsubscribes and fails every outstanding request with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !started {
		return nil
	}
	if err := c.transport.Unsubscribe(c.topics.AllStackResponses()); err != nil {
		return fmt.Errorf("unsubscribing stack responses: %w", err)
	}
	return nil
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) InterfaceBringUp(ctx context.Context, kind borderrouter.InterfaceKind, params borderrouter.BringUpParams) (borderrouter.InterfaceID, error) {
	var res interfaceResult
	if err := c.call(ctx, OpInterfaceUp, bringUpParams{Kind: kind, BringUpParams: params}, &res); err != nil {
		return borderrouter.Unset, err
	}
	if !res.InterfaceID.Valid() {
		return borderrouter.Unset, fmt.Errorf("%w: %s returned no interface", ErrBadMessage, OpInterfaceUp)
	}
	return res.InterfaceID, nil
}

func (c *Client) InterfaceBringDown(ctx context.Context, id borderrouter.InterfaceID) error {
	return c.call(ctx, OpInterfaceDown, interfaceParams{InterfaceID: id}, nil)
}

func (c *Client) GlobalAddress(ctx context.Context, id borderrouter.InterfaceID) (netip.Addr, error) {
	var res addressResult
	if err := c.call(ctx, OpGlobalAddress, interfaceParams{InterfaceID: id}, &res); err != nil {
		return netip.Addr{}, err
	}
	return res.Address, nil
}

func (c *Client) DHCPPrefixDelegationStart(ctx context.Context, id borderrouter.InterfaceID, prefix netip.Prefix, lease time.Duration) error {
	return c.call(ctx, OpDHCPStart, dhcpParams{
		InterfaceID:  id,
		Prefix:       prefix.Masked(),
		LeaseSeconds: int64(lease / time.Second),
	}, nil)
}

func (c *Client) DHCPPrefixDelegationStop(ctx context.Context, id borderrouter.InterfaceID, prefix netip.Prefix) error {
	return c.call(ctx, OpDHCPStop, dhcpParams{InterfaceID: id, Prefix: prefix.Masked()}, nil)
}

func (c *Client) PublishPrefix(ctx context.Context, id borderrouter.InterfaceID, prefix netip.Prefix, flags borderrouter.PrefixFlags) error {
	return c.call(ctx, OpPublishPrefix, publishParams{InterfaceID: id, Prefix: prefix.Masked(), Flags: flags}, nil)
}

func (c *Client) SetInterfaceMetric(ctx context.Context, id borderrouter.InterfaceID, metric int) error {
	return c.call(ctx, OpSetMetric, metricParams{InterfaceID: id, Metric: metric}, nil)
}

func (c *Client) AddRoute(ctx context.Context, id borderrouter.InterfaceID, route borderrouter.Route) error {
	return c.call(ctx, OpAddRoute, routeParams{
		InterfaceID:     id,
		Prefix:          route.Prefix,
		NextHop:         route.NextHop,
		LifetimeSeconds: int64(route.Lifetime / time.Second),
	}, nil)
}

func (c *Client) StartBackbone(ctx context.Context, mesh, backhaul borderrouter.InterfaceID) error {
	return c.call(ctx, OpStartBackbone, backboneParams{Mesh: mesh, Backhaul: backhaul}, nil)
}

func (c *Client) RoutingTable(ctx context.Context) ([]borderrouter.RouteEntry, error) {
	var res routesResult
	if err := c.call(ctx, OpRoutingTable, nil, &res); err != nil {
		return nil, err
	}
	return res.Routes, nil
}

// call publishes a request and waits for the matching response, the
// request timeout or ctx, whichever comes first.
func (c *Client) call(ctx context.Context, op string, params, result any) error {
	req := Request{
		RequestID: c.newID(),
		Op:        op,
		Timestamp: c.clock.Now().UTC(),
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding %s params: %w", op, err)
		}
		req.Params = raw
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case !c.started:
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.pending[req.RequestID] = ch
	c.mu.Unlock()
	defer c.forget(req.RequestID)

	timer := c.clock.Timer(c.timeout)
	defer timer.Stop()

	if err := c.transport.Publish(c.topics.StackRequest(op), payload, c.qos, false); err != nil {
		return fmt.Errorf("publishing %s request: %w", op, err)
	}
	c.logger.Debug("stack request sent", "op", op, "request_id", req.RequestID)

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		return decodeResponse(op, resp, result)
	case <-timer.C:
		return fmt.Errorf("%w: %s after %s", ErrTimeout, op, c.timeout)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func decodeResponse(op string, resp Response, result any) error {
	if !resp.OK {
		rerr := &RemoteError{Op: op, Code: "unknown", Message: "request failed"}
		if resp.Error != nil {
			rerr.Code = resp.Error.Code
			rerr.Message = resp.Error.Message
		}
		return rerr
	}
	if result == nil {
		return nil
	}
	if len(resp.Result) == 0 {
		return fmt.Errorf("%w: %s response has no result", ErrBadMessage, op)
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("%w: %s result: %w", ErrBadMessage, op, err)
	}
	return nil
}

// handleResponse delivers a response to its waiting request. It never
// blocks the MQTT callback goroutine.
func (c *Client) handleResponse(topic string, payload []byte) error {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	if resp.RequestID == "" {
		resp.RequestID = mqtt.LastSegment(topic)
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("stack response without pending request", "request_id", resp.RequestID)
		return nil
	}
	ch <- resp
	return nil
}
