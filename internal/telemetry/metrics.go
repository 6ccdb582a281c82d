package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the bridge instruments. A nil *Metrics records nothing.
type Metrics struct {
	messages     metric.Int64Counter
	sendFailures metric.Int64Counter
	malformed    metric.Int64Counter
	superseded   metric.Int64Counter
	live         metric.Int64ObservableGauge
}

// NewMetrics registers the bridge instruments on meter. live, if non-nil, is observed
// for the connections gauge.
func NewMetrics(meter metric.Meter, live func() int64) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.messages, err = meter.Int64Counter("bridge.messages",
		metric.WithDescription("Messages handled by the router, by sender and outcome.")); err != nil {
		return nil, err
	}
	if m.sendFailures, err = meter.Int64Counter("bridge.operator.send_failures",
		metric.WithDescription("Failed sends to the operator channel.")); err != nil {
		return nil, err
	}
	if m.malformed, err = meter.Int64Counter("bridge.store.malformed_records",
		metric.WithDescription("Stored history records skipped because they could not be decoded.")); err != nil {
		return nil, err
	}
	if m.superseded, err = meter.Int64Counter("bridge.connections.superseded",
		metric.WithDescription("Connections closed because the session reconnected elsewhere.")); err != nil {
		return nil, err
	}
	if live != nil {
		if m.live, err = meter.Int64ObservableGauge("bridge.connections.live",
			metric.WithDescription("Sessions with a registered connection."),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(live())
				return nil
			})); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Message counts one routed message.
func (m *Metrics) Message(ctx context.Context, from, outcome string) {
	if m == nil {
		return
	}
	m.messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) SendFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.sendFailures.Add(ctx, 1)
}

func (m *Metrics) Malformed(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.malformed.Add(ctx, int64(n))
}

func (m *Metrics) Superseded(ctx context.Context) {
	if m == nil {
		return
	}
	m.superseded.Add(ctx, 1)
}
