package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestNoop_NeverPanics(t *testing.T) {
	logger := NewNoopLogger()
	logger.Debug(context.Background(), "msg", "k", "v")
	logger.Info(context.Background(), "msg")
	logger.Warn(context.Background(), "msg")
	logger.Error(context.Background(), "msg")

	metrics := NewNoopMetrics()
	metrics.IncCounter("c", 1, "tag", "v")
	metrics.RecordTimer("t", time.Second)
	metrics.RecordGauge("g", 1.0)

	tracer := NewNoopTracer()
	ctx, span := tracer.Start(context.Background(), "op")
	span.AddEvent("e")
	span.RecordError(nil)
	span.End()
	_ = ctx

	_, span2 := tracer.Start(context.Background(), "op2")
	span2.End()
}
