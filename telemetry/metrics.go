package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/yeremiapane/qr-table-ordering/models"
)

const meterName = "github.com/yeremiapane/qr-table-ordering"

// Metrics counts order flow transitions, print outcomes and cart conflicts.
// It observes flows and print dispatches; a nil *Metrics records nothing.
type Metrics struct {
	orders        otelmetric.Int64Counter
	prints        otelmetric.Int64Counter
	cartConflicts otelmetric.Int64Counter
}

func NewMetrics(mp otelmetric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	orders, err := meter.Int64Counter("qr_orders_transitions_total",
		otelmetric.WithDescription("Order flow transitions by event type"))
	if err != nil {
		return nil, err
	}
	prints, err := meter.Int64Counter("qr_print_dispatch_total",
		otelmetric.WithDescription("Print dispatches by outcome"))
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("qr_cart_conflicts_total",
		otelmetric.WithDescription("Cart pushes that overwrote a newer version"))
	if err != nil {
		return nil, err
	}

	return &Metrics{orders: orders, prints: prints, cartConflicts: conflicts}, nil
}

// OnFlowEvent counts every transition except countdown ticks.
func (m *Metrics) OnFlowEvent(ctx context.Context, ev models.FlowEvent) {
	if m == nil || ev.Type == models.FlowEventTick {
		return
	}
	m.orders.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("event", string(ev.Type)),
		attribute.String("restaurant_id", ev.RestaurantID),
	))
}

func (m *Metrics) RecordPrint(ctx context.Context, result models.PrintResult) {
	if m == nil {
		return
	}
	m.prints.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("outcome", string(result.Outcome)),
	))
}

func (m *Metrics) RecordCartConflict(ctx context.Context, sessionKey string) {
	if m == nil {
		return
	}
	m.cartConflicts.Add(ctx, 1)
}
