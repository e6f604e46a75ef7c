package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	pipelineMetricsOnce sync.Once
	runCounter          otelmetric.Int64Counter
	stageDuration       otelmetric.Float64Histogram
	recordCounter       otelmetric.Int64Counter
	rejectedCounter     otelmetric.Int64Counter
)

func initPipelineMetrics() {
	meter := otel.Meter("incidentsync/pipeline")
	var err error
	runCounter, err = meter.Int64Counter(
		"sync_runs_total",
		otelmetric.WithDescription("Completed pipeline runs by flow and outcome"),
	)
	if err != nil {
		log.Printf("pipeline metrics init: sync_runs_total: %v", err)
	}
	stageDuration, err = meter.Float64Histogram(
		"sync_stage_duration_seconds",
		otelmetric.WithDescription("Wall time spent per pipeline stage"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("pipeline metrics init: sync_stage_duration_seconds: %v", err)
	}
	recordCounter, err = meter.Int64Counter(
		"sync_records_total",
		otelmetric.WithDescription("Feed records accepted for encoding"),
	)
	if err != nil {
		log.Printf("pipeline metrics init: sync_records_total: %v", err)
	}
	rejectedCounter, err = meter.Int64Counter(
		"sync_records_rejected_total",
		otelmetric.WithDescription("Feed records rejected during parsing"),
	)
	if err != nil {
		log.Printf("pipeline metrics init: sync_records_rejected_total: %v", err)
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func recordStage(ctx context.Context, flow Flow, stage Stage, elapsed time.Duration, err error) {
	pipelineMetricsOnce.Do(initPipelineMetrics)
	if stageDuration == nil {
		return
	}
	stageDuration.Record(ctx, elapsed.Seconds(), otelmetric.WithAttributes(
		attribute.String("flow", string(flow)),
		attribute.String("stage", string(stage)),
		attribute.String("outcome", outcome(err)),
	))
}

func recordRun(ctx context.Context, flow Flow, stage Stage, err error) {
	pipelineMetricsOnce.Do(initPipelineMetrics)
	if runCounter == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("flow", string(flow)),
		attribute.String("outcome", outcome(err)),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("stage", string(stage)))
	}
	runCounter.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
}

func recordRecords(ctx context.Context, feedType string, accepted, rejected int) {
	pipelineMetricsOnce.Do(initPipelineMetrics)
	attrs := otelmetric.WithAttributes(attribute.String("feed_type", feedType))
	if recordCounter != nil {
		recordCounter.Add(ctx, int64(accepted), attrs)
	}
	if rejectedCounter != nil && rejected > 0 {
		rejectedCounter.Add(ctx, int64(rejected), attrs)
	}
}
