package stackbus

import (
	"encoding/json"

	"github.com/nerrad567/meshgate/internal/borderrouter"
	"github.com/nerrad567/meshgate/internal/infrastructure/mqtt"
)

// Publisher is a borderrouter.Observer that publishes every router
// transition on meshgate/router/event/{kind}.
type Publisher struct {
	transport Transport
	qos       byte
	logger    Logger
	topics    mqtt.Topics
}

var _ borderrouter.Observer = (*Publisher)(nil)

// NewPublisher creates an event publisher.
func NewPublisher(transport Transport, qos byte, logger Logger) *Publisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Publisher{transport: transport, qos: qos, logger: logger}
}

func (p *Publisher) ConnectionChanged(ev borderrouter.ConnectionEvent) {
	state := ev.State
	p.publish(EventMessage{
		Kind:       EventConnection,
		Timestamp:  ev.At.UTC(),
		Reason:     string(ev.Reason),
		Connection: &state,
	})
}

func (p *Publisher) RetryChanged(ev borderrouter.RetryEvent) {
	kind := EventRetry
	if ev.GaveUp {
		kind = EventGiveUp
	}
	status := ev.Status
	p.publish(EventMessage{
		Kind:      kind,
		Timestamp: ev.At.UTC(),
		Reason:    ev.Status.State.String(),
		Retry:     &status,
		DelayMS:   ev.Delay.Milliseconds(),
	})
}

func (p *Publisher) publish(msg EventMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("encoding router event", "kind", msg.Kind, "error", err)
		return
	}
	if err := p.transport.Publish(p.topics.RouterEvent(msg.Kind), payload, p.qos, false); err != nil {
		p.logger.Warn("publishing router event failed", "kind", msg.Kind, "error", err)
	}
}
