// Package obs carries per-batch observability state through the pipeline.
//
// Every DetectionBatch owns exactly one Context. The Context is created on
// ingest, transitions through the pipeline stages, and ends in exactly one
// terminal call: Finalize on success or Abort with a drop reason. All metric
// and span emission for a batch happens inside those two methods; no other
// code path may emit for a batch.
package obs

import (
	"context"
	crand "crypto/rand"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pkg/obs")

// propagator handles W3C Trace Context (traceparent/tracestate) carried in
// broker message user properties.
var propagator = propagation.TraceContext{}

// Stage names one step of the pipeline. The current stage is used as the
// terminal label when a batch is dropped.
type Stage string

const (
	StageReceive  Stage = "receive"
	StageParse    Stage = "parse"
	StageBuffer   Stage = "buffer"
	StageDispatch Stage = "dispatch"
	StageTrack    Stage = "track"
	StagePublish  Stage = "publish"
)

// Reason is a drop reason from the closed set recognized by operators.
type Reason string

const (
	ReasonParseError        Reason = "parse_error"
	ReasonSchemaInvalid     Reason = "schema_invalid"
	ReasonFellBehind        Reason = "fell_behind"
	ReasonSuperseded        Reason = "superseded"
	ReasonTrackerBusy       Reason = "tracker_busy"
	ReasonBrokerUnavailable Reason = "broker_unavailable"
	ReasonShutdown          Reason = "shutdown"
)

// Context is the per-batch telemetry state. It is not safe for concurrent
// use; the pipeline hands it from thread to thread but never shares it.
type Context struct {
	logger   log.Logger
	scene    string
	category string

	ctx       context.Context
	root      trace.Span
	stageSpan trace.Span

	stage      Stage
	stamps     map[Stage]time.Time
	terminated atomic.Bool
	finalized  bool
	reason     Reason
}

// NewContext creates the telemetry state for one batch. If userProps carry a
// W3C traceparent the pipeline span continues that trace, otherwise a new
// trace is started. receivedAt stamps the receive stage.
func NewContext(userProps map[string]string, scene, category string, receivedAt time.Time, logger log.Logger) *Context {
	parent := propagator.Extract(context.Background(), propagation.MapCarrier(userProps))
	// generate identifiers ourselves when the message carries none, so log
	// correlation and outbound propagation work even without a tracer
	// provider installed
	if !trace.SpanContextFromContext(parent).IsValid() {
		parent = trace.ContextWithSpanContext(parent, newRootSpanContext())
	}

	ctx, root := tracer.Start(parent, "camera_batch",
		trace.WithAttributes(
			attribute.String("scene", scene),
			attribute.String("category", category),
		))

	c := &Context{
		logger:   logger,
		scene:    scene,
		category: category,
		ctx:      ctx,
		root:     root,
		stage:    StageReceive,
		stamps:   map[Stage]time.Time{StageReceive: receivedAt},
	}
	_, c.stageSpan = tracer.Start(ctx, string(StageReceive))
	return c
}

// Scene returns the scene ID this batch is routed to.
func (c *Context) Scene() string {
	return c.scene
}

// Category returns the object category this batch carries.
func (c *Context) Category() string {
	return c.category
}

// Enter transitions the batch to the given stage, stamping it with the
// current time.
func (c *Context) Enter(stage Stage) {
	if c.terminated.Load() {
		return
	}
	c.stageSpan.End()
	c.stage = stage
	c.stamps[stage] = time.Now()
	_, c.stageSpan = tracer.Start(c.ctx, string(stage))
}

// Stage returns the currently active stage.
func (c *Context) Stage() Stage {
	return c.stage
}

// Stamp returns the recorded timestamp of a stage, zero if never entered.
func (c *Context) Stamp(stage Stage) time.Time {
	return c.stamps[stage]
}

// Inject writes the batch's trace context into userProps so the outbound
// publish continues the trace.
func (c *Context) Inject(userProps map[string]string) {
	propagator.Inject(c.ctx, propagation.MapCarrier(userProps))
}

// Finalize ends the batch successfully: one latency observation, spans ended
// with OK status, one INFO log line. Must be called at most once and never
// after Abort.
func (c *Context) Finalize() {
	if !c.terminated.CompareAndSwap(false, true) {
		level.Error(c.logger).Log("msg", "observability context terminated twice", "scene", c.scene, "category", c.category)
		return
	}
	c.finalized = true

	c.observeStageDurations()
	endToEnd := c.stamps[StagePublish].Sub(c.stamps[StageReceive])
	metricPipelineDuration.WithLabelValues(c.scene, c.category).Observe(endToEnd.Seconds())
	metricBatchesFinalized.WithLabelValues(c.scene, c.category).Inc()

	c.stageSpan.End()
	c.root.SetStatus(codes.Ok, "")
	c.root.End()

	sc := c.root.SpanContext()
	level.Info(c.logger).Log(
		"msg", "batch finalized",
		"scene", c.scene,
		"category", c.category,
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
		"duration", endToEnd,
	)
}

// Abort ends the batch as dropped: one drop-counter increment labeled with
// the reason and the stage the drop occurred in, spans ended with Error
// status, one WARN log line. Must be called at most once and never after
// Finalize.
func (c *Context) Abort(reason Reason) {
	if !c.terminated.CompareAndSwap(false, true) {
		level.Error(c.logger).Log("msg", "observability context terminated twice", "scene", c.scene, "category", c.category, "reason", reason)
		return
	}
	c.reason = reason

	metricBatchesDropped.WithLabelValues(c.scene, c.category, string(reason), string(c.stage)).Inc()

	c.stageSpan.End()
	c.root.SetStatus(codes.Error, string(reason))
	c.root.SetAttributes(attribute.String("drop_reason", string(reason)))
	c.root.End()

	sc := c.root.SpanContext()
	level.Warn(c.logger).Log(
		"msg", "batch dropped",
		"scene", c.scene,
		"category", c.category,
		"reason", reason,
		"stage", c.stage,
		"trace_id", sc.TraceID().String(),
	)
}

// Finalized reports whether Finalize was the terminal transition.
func (c *Context) Finalized() bool {
	return c.terminated.Load() && c.finalized
}

// Aborted returns the drop reason if Abort was the terminal transition.
func (c *Context) Aborted() (Reason, bool) {
	if c.terminated.Load() && !c.finalized {
		return c.reason, true
	}
	return "", false
}

// Terminated reports whether either terminal transition has happened.
func (c *Context) Terminated() bool {
	return c.terminated.Load()
}

func newRootSpanContext() trace.SpanContext {
	var tid trace.TraceID
	var sid trace.SpanID
	_, _ = crand.Read(tid[:])
	_, _ = crand.Read(sid[:])
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	})
}

// stage order for delta observation on finalize.
var stageOrder = []Stage{StageReceive, StageParse, StageBuffer, StageDispatch, StageTrack, StagePublish}

func (c *Context) observeStageDurations() {
	prev := time.Time{}
	prevStage := Stage("")
	for _, s := range stageOrder {
		t, ok := c.stamps[s]
		if !ok {
			continue
		}
		if !prev.IsZero() {
			metricStageDuration.WithLabelValues(string(prevStage)).Observe(t.Sub(prev).Seconds())
		}
		prev = t
		prevStage = s
	}
}
