package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "formation-booking/internal/services"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)
)

var (
	couponAppliedCounter      metric.Int64Counter
	transactionCreatedCounter metric.Int64Counter
	transitionCounter         metric.Int64Counter
)

func init() {
	couponAppliedCounter, _ = meter.Int64Counter("booking.coupon.applied",
		metric.WithDescription("Successful coupon applications"))
	transactionCreatedCounter, _ = meter.Int64Counter("booking.transaction.created",
		metric.WithDescription("Transactions created at checkout"))
	transitionCounter, _ = meter.Int64Counter("booking.transaction.transition",
		metric.WithDescription("Transaction status transitions"))
}

// startSpan открывает span операции сервиса.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan фиксирует ошибку операции, если она есть, и закрывает span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func addCounter(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
