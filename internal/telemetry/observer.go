package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/BaSui01/cadflow/pipeline"

// Observer 把 pipeline 观测数据记录为 OTel 指标，与 Prometheus 采集器并行使用
type Observer struct {
	generation metric.Float64Histogram
	conversion metric.Float64Histogram
	dedup      metric.Int64Counter
	meshBytes  metric.Int64Histogram
	triangles  metric.Int64Histogram
}

// NewObserver 在给定 MeterProvider 上创建全部仪表
func NewObserver(mp metric.MeterProvider) (*Observer, error) {
	m := mp.Meter(meterName)
	var (
		o   Observer
		err error
	)
	if o.generation, err = m.Float64Histogram("cadflow.generation.duration",
		metric.WithUnit("s"), metric.WithDescription("Script generation latency")); err != nil {
		return nil, fmt.Errorf("generation histogram: %w", err)
	}
	if o.conversion, err = m.Float64Histogram("cadflow.conversion.duration",
		metric.WithUnit("s"), metric.WithDescription("Kernel conversion latency")); err != nil {
		return nil, fmt.Errorf("conversion histogram: %w", err)
	}
	if o.dedup, err = m.Int64Counter("cadflow.dedup.requests",
		metric.WithDescription("Conversion requests by dedup origin")); err != nil {
		return nil, fmt.Errorf("dedup counter: %w", err)
	}
	if o.meshBytes, err = m.Int64Histogram("cadflow.mesh.size",
		metric.WithUnit("By"), metric.WithDescription("Published STL size")); err != nil {
		return nil, fmt.Errorf("mesh size histogram: %w", err)
	}
	if o.triangles, err = m.Int64Histogram("cadflow.mesh.triangles",
		metric.WithDescription("Published triangle count")); err != nil {
		return nil, fmt.Errorf("triangle histogram: %w", err)
	}
	return &o, nil
}

func (o *Observer) RecordGeneration(backend, outcome string, d time.Duration) {
	o.generation.Record(context.Background(), d.Seconds(), metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	))
}

func (o *Observer) RecordConversion(kernel, outcome string, d time.Duration) {
	o.conversion.Record(context.Background(), d.Seconds(), metric.WithAttributes(
		attribute.String("kernel", kernel),
		attribute.String("outcome", outcome),
	))
}

func (o *Observer) RecordDedup(origin string) {
	o.dedup.Add(context.Background(), 1, metric.WithAttributes(attribute.String("origin", origin)))
}

func (o *Observer) RecordPublish(sizeBytes, triangles int) {
	ctx := context.Background()
	o.meshBytes.Record(ctx, int64(sizeBytes))
	o.triangles.Record(ctx, int64(triangles))
}
