package instrument

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/telemetry"
	"github.com/agentevolve/evocore/internal/tracer"
)

// ObjectConfig configures WrapObject.
type ObjectConfig struct {
	Tracker       *tracer.Tracker
	TelemetrySink telemetry.Sink
	AgentID       string
	AgentType     string
}

// ObjectProxy intercepts calls to an object's methods by name, the Go
// analogue of wrapping every non-underscore, non-constructor method: since
// Go has no runtime method interception, callers route calls through Call
// instead of calling the method directly.
type ObjectProxy struct {
	cfg    ObjectConfig
	target reflect.Value
}

// WrapObject returns a proxy around target. target must be a pointer to a
// struct (or an interface value wrapping one) so its methods are
// reflect-visible.
func WrapObject(cfg ObjectConfig, target interface{}) *ObjectProxy {
	return &ObjectProxy{cfg: cfg, target: reflect.ValueOf(target)}
}

// Callable reports whether method is eligible for interception: exported,
// not a constructor (does not start with "New"), not underscore-prefixed.
func (p *ObjectProxy) Callable(method string) bool {
	if method == "" || strings.HasPrefix(method, "_") || strings.HasPrefix(method, "New") {
		return false
	}
	if !p.target.MethodByName(method).IsValid() {
		return false
	}
	r, _ := firstRune(method)
	return r >= 'A' && r <= 'Z'
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

// Call invokes method on the wrapped object inside a span carrying
// agent.id/agent.type, extracting execution.quality_score/cost/duration_ms
// from a result struct when present.
func (p *ObjectProxy) Call(method string, args ...interface{}) (results []interface{}, err error) {
	if !p.Callable(method) {
		return nil, fmt.Errorf("method %q is not an interceptable method", method)
	}

	span, spanErr := p.cfg.Tracker.StartSpan(tracer.SpanOptions{
		Name: method,
		Attributes: map[string]string{
			"agent.id":   p.cfg.AgentID,
			"agent.type": p.cfg.AgentType,
		},
	})
	if spanErr != nil {
		return p.invoke(method, args)
	}
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			span.AddEvent("panic_recovered", map[string]string{"stack_hash": StackTraceHash(string(debug.Stack()))})
			span.SetStatus(store.StatusError, Sanitize(err.Error()))
			span.SetAttribute("error.type", "panic")
		}
	}()

	results, err = p.invoke(method, args)
	if err != nil {
		span.SetStatus(store.StatusError, Sanitize(err.Error()))
		span.SetAttribute("error.type", errorTypeName(err))
		span.SetAttribute("error.message", Sanitize(err.Error()))
		if p.cfg.TelemetrySink != nil {
			stackHash := StackTraceHash(string(debug.Stack()))
			_ = p.cfg.TelemetrySink.Emit(telemetry.NewErrorEvent(errorTypeName(err), classifyError(err), p.cfg.AgentType, stackHash))
		}
		return results, err
	}

	span.SetStatus(store.StatusOK, "")
	for _, r := range results {
		extractResultAttributes(span, r)
	}
	return results, nil
}

func (p *ObjectProxy) invoke(method string, args []interface{}) ([]interface{}, error) {
	m := p.target.MethodByName(method)
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.ValueOf(a)
	}
	out := m.Call(in)

	results := make([]interface{}, 0, len(out))
	var callErr error
	for _, o := range out {
		if o.Type().Implements(errorInterface) {
			if !o.IsNil() {
				callErr, _ = o.Interface().(error)
			}
			continue
		}
		results = append(results, o.Interface())
	}
	return results, callErr
}

var errorInterface = reflect.TypeOf((*error)(nil)).Elem()

// extractResultAttributes reads execution.quality_score/cost/duration_ms
// from a result struct's QualityScore/Cost/DurationMs fields, when present.
func extractResultAttributes(span *tracer.ActiveSpan, result interface{}) {
	v := reflect.ValueOf(result)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}

	for _, f := range []struct {
		field, attr string
	}{
		{"QualityScore", "execution.quality_score"},
		{"Cost", "execution.cost"},
		{"DurationMs", "execution.duration_ms"},
	} {
		fv := v.FieldByName(f.field)
		if fv.IsValid() && fv.CanInterface() {
			span.SetAttribute(f.attr, fmt.Sprintf("%v", fv.Interface()))
		}
	}
}
