// Package instrument wraps arbitrary operations with scoped span
// acquisition, sampling, sanitized error capture, and telemetry emission —
// the engine's single point of contact between application code and the
// tracer/telemetry stack.
package instrument

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"reflect"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/telemetry"
	"github.com/agentevolve/evocore/internal/tracer"
)

// Config configures Wrap. Zero value is a usable default: SampleRate 0
// means "unset" and is normalized to 1.0.
type Config struct {
	Tracker                 *tracer.Tracker
	AutoTags                []string
	SampleRate              float64
	ExtractAttributes       func(input interface{}) map[string]string
	ExtractOutputAttributes func(output interface{}) map[string]string
	SpanName                string
	TelemetrySink           telemetry.Sink
	Component               string
	// TelemetryLimiter throttles emission independently of tracing, so a
	// noisy downstream sink (e.g. a NATS broker under load) never backs up
	// the instrumented call path. Nil disables throttling.
	TelemetryLimiter *rate.Limiter
}

func (c Config) allowTelemetry() bool {
	return c.TelemetryLimiter == nil || c.TelemetryLimiter.Allow()
}

func (c Config) sampleRate() float64 {
	if c.SampleRate <= 0 {
		return 1.0
	}
	return c.SampleRate
}

// Wrap runs fn around a span named spanName (or funcName, or
// "anonymous_function"), honoring sampling, sanitization, and telemetry
// emission per the instrumentation contract. input is passed to
// ExtractAttributes for span seeding; fn's own result/error drive the
// success/failure path.
func Wrap[T any](ctx context.Context, cfg Config, funcName string, input interface{}, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if rand.Float64() >= cfg.sampleRate() {
		return fn(ctx)
	}

	name := cfg.SpanName
	if name == "" {
		name = funcName
	}
	if name == "" {
		name = "anonymous_function"
	}

	attrs := map[string]string{
		"function.name": name,
	}
	if cfg.ExtractAttributes != nil {
		for k, v := range cfg.ExtractAttributes(input) {
			attrs[k] = v
		}
	}

	span, err := cfg.Tracker.StartSpan(tracer.SpanOptions{
		Name:       name,
		Attributes: attrs,
		Tags:       cfg.AutoTags,
	})
	if err != nil {
		return fn(ctx)
	}
	defer span.End()

	startedAt := time.Now()
	result, runErr := func() (res T, outErr error) {
		defer func() {
			if r := recover(); r != nil {
				outErr = fmt.Errorf("panic: %v", r)
				span.AddEvent("panic_recovered", map[string]string{"stack_hash": StackTraceHash(string(debug.Stack()))})
			}
		}()
		return fn(ctx)
	}()
	durationMs := time.Since(startedAt).Milliseconds()

	if runErr != nil {
		handleFailure(span, cfg, runErr)
		return zero, runErr
	}

	handleSuccess(span, cfg, result, durationMs)
	return result, nil
}

func handleSuccess[T any](span *tracer.ActiveSpan, cfg Config, result T, durationMs int64) {
	span.SetStatus(store.StatusOK, "")
	span.SetAttribute("execution.success", "true")

	if cfg.ExtractOutputAttributes != nil {
		span.SetAttributes(cfg.ExtractOutputAttributes(result))
	}

	if cfg.TelemetrySink == nil || !cfg.allowTelemetry() {
		return
	}
	var cost *float64
	event := telemetry.NewAgentExecutionEvent(cfg.Component, true, durationMs, cost)
	if err := cfg.TelemetrySink.Emit(event); err != nil {
		log.Printf("[INSTRUMENT] telemetry emit failed: %v", err)
	}
}

func handleFailure(span *tracer.ActiveSpan, cfg Config, err error) {
	sanitized := Sanitize(err.Error())
	typeName := errorTypeName(err)

	span.SetStatus(store.StatusError, sanitized)
	span.SetAttribute("error.type", typeName)
	span.SetAttribute("error.message", sanitized)

	if cfg.TelemetrySink == nil || !cfg.allowTelemetry() {
		return
	}
	stackHash := StackTraceHash(string(debug.Stack()))
	event := telemetry.NewErrorEvent(typeName, classifyError(err), cfg.Component, stackHash)
	if emitErr := cfg.TelemetrySink.Emit(event); emitErr != nil {
		log.Printf("[INSTRUMENT] telemetry emit failed: %v", emitErr)
	}
}

func errorTypeName(err error) string {
	t := reflect.TypeOf(err)
	if t == nil {
		return "error"
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "error"
	}
	return t.Name()
}

// classifyError maps an error to a telemetry category by shallow message
// inspection — the engine has no typed error taxonomy for caller errors,
// only for its own (see internal/store/errs).
func classifyError(err error) telemetry.ErrorCategory {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return telemetry.CategoryTimeout
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"), strings.Contains(msg, "dial"):
		return telemetry.CategoryNetwork
	case strings.Contains(msg, "panic"), strings.Contains(msg, "nil pointer"), strings.Contains(msg, "index out of range"):
		return telemetry.CategoryRuntime
	default:
		return telemetry.CategoryUnknown
	}
}
