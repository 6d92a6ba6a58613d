// Package dispatch implements the Dispatcher (C4): the stateless
// validate-locate-route-normalize-record pipeline that turns an Invocation
// into an InvocationResult, whether the target tool lives in-process or
// behind a remote connector.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/toolgated/internal/observability"
	"github.com/haasonsaas/toolgated/pkg/models"
)

// Validator is C1's narrow seam into the dispatcher: resolve+validate a
// (tool, action, parameters) triple before anything else runs.
type Validator interface {
	Validate(tool, action string, parameters map[string]any) (registryID, normalizedAction string, normalizedParams map[string]any, kind models.ErrorKind, err error)
}

// Locator is C2's narrow seam: look up a descriptor snapshot by registry_id.
type Locator interface {
	Lookup(registryID string) (*models.ToolDescriptor, bool)
}

// RemoteCaller is C3's narrow seam: acquire (lazily) and call a provider's
// Connector by registry_id and endpoint.
type RemoteCaller interface {
	Call(ctx context.Context, registryID, endpoint, action string, parameters map[string]any) models.InvocationResult
}

// Handler is an in-process LocalFunction implementation, looked up by the
// descriptor's HandlerLocator.
type Handler func(ctx context.Context, action string, parameters map[string]any) models.InvocationResult

// HandlerTable resolves a HandlerLocator to a Handler.
type HandlerTable interface {
	Handler(locator string) (Handler, bool)
}

// MapHandlerTable is the simplest HandlerTable: a static map built at
// startup from the in-process tools the gateway ships with.
type MapHandlerTable map[string]Handler

func (t MapHandlerTable) Handler(locator string) (Handler, bool) {
	h, ok := t[locator]
	return h, ok
}

// toolStats accumulates per-tool success/failure counts and latency,
// surfaced by C8's status endpoints and mirrored into Prometheus.
type toolStats struct {
	successes uint64
	failures  uint64
	totalNS   int64
}

// Dispatcher is stateless aside from its counters; Dispatch may be called
// concurrently from many goroutines.
type Dispatcher struct {
	validator Validator
	locator   Locator
	remote    RemoteCaller
	handlers  HandlerTable

	mu    sync.Mutex
	stats map[string]*toolStats

	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec

	tracer *observability.Tracer
}

// Config wires the Dispatcher's three collaborators plus the in-process
// handler table.
type Config struct {
	Validator Validator
	Locator   Locator
	Remote    RemoteCaller
	Handlers  HandlerTable
	Registry  prometheus.Registerer // nil disables metrics registration
	Tracer    *observability.Tracer // nil disables span creation
}

// New constructs a Dispatcher. Passing a nil Registry skips Prometheus
// registration (used in tests that construct many Dispatchers, which would
// otherwise collide on the default registry).
func New(cfg Config) *Dispatcher {
	handlers := cfg.Handlers
	if handlers == nil {
		handlers = MapHandlerTable{}
	}
	d := &Dispatcher{
		validator: cfg.Validator,
		locator:   cfg.Locator,
		remote:    cfg.Remote,
		handlers:  handlers,
		stats:     make(map[string]*toolStats),
		tracer:    cfg.Tracer,
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolgated_dispatch_calls_total",
			Help: "Total tool invocations by registry_id and outcome.",
		}, []string{"registry_id", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toolgated_dispatch_duration_seconds",
			Help:    "Tool invocation latency by registry_id.",
			Buckets: prometheus.DefBuckets,
		}, []string{"registry_id"}),
	}
	if cfg.Registry != nil {
		cfg.Registry.MustRegister(d.callsTotal, d.callDuration)
	}
	return d
}

// Dispatch runs the full validate-locate-route-normalize-record pipeline
// for one invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, tool, action string, parameters map[string]any) models.InvocationResult {
	start := time.Now()

	var span trace.Span
	if d.tracer != nil {
		ctx, span = d.tracer.StartToolExecution(ctx, tool, action)
	}
	result := d.dispatch(ctx, tool, action, parameters, start)
	if span != nil {
		observability.RecordOutcome(span, result.Success, string(result.ErrorKind), result.ErrorMessage)
	}
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, tool, action string, parameters map[string]any, start time.Time) models.InvocationResult {
	registryID, normalizedAction, normalizedParams, kind, err := d.validator.Validate(tool, action, parameters)
	if err != nil {
		return d.record(registryID, models.Fail(kind, err.Error(), start))
	}

	descriptor, ok := d.locator.Lookup(registryID)
	if !ok {
		return d.record(registryID, models.Fail(models.ErrorToolNotFound, fmt.Sprintf("registry_id %q vanished between validate and locate", registryID), start))
	}
	if !descriptor.Enabled {
		return d.record(registryID, models.Fail(models.ErrorDisabled, fmt.Sprintf("tool %q is disabled", registryID), start))
	}

	var result models.InvocationResult
	switch descriptor.Kind {
	case models.KindLocalFunction:
		handler, ok := d.handlers.Handler(descriptor.HandlerLocator)
		if !ok {
			result = models.Fail(models.ErrorInternalError, fmt.Sprintf("no handler registered for locator %q", descriptor.HandlerLocator), start)
			break
		}
		result = func() (res models.InvocationResult) {
			defer func() {
				if r := recover(); r != nil {
					res = models.Fail(models.ErrorInternalError, fmt.Sprintf("handler panic: %v", r), start)
				}
			}()
			return handler(ctx, normalizedAction, normalizedParams)
		}()

	case models.KindRemoteServer:
		if d.remote == nil {
			result = models.Fail(models.ErrorProviderUnavailable, "no connector pool configured", start)
			break
		}
		result = d.remote.Call(ctx, registryID, descriptor.Endpoint, normalizedAction, normalizedParams)

	default:
		result = models.Fail(models.ErrorInternalError, fmt.Sprintf("unknown kind %q", descriptor.Kind), start)
	}

	return d.record(registryID, result)
}

func (d *Dispatcher) record(registryID string, result models.InvocationResult) models.InvocationResult {
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	d.callsTotal.WithLabelValues(registryID, outcome).Inc()
	d.callDuration.WithLabelValues(registryID).Observe(time.Duration(result.ElapsedNS).Seconds())

	d.mu.Lock()
	s, ok := d.stats[registryID]
	if !ok {
		s = &toolStats{}
		d.stats[registryID] = s
	}
	if result.Success {
		s.successes++
	} else {
		s.failures++
	}
	s.totalNS += result.ElapsedNS
	d.mu.Unlock()

	return result
}

// ToolStats is the exported, copied-out snapshot of one tool's counters,
// read by C8's /status endpoint.
type ToolStats struct {
	Successes     uint64        `json:"successes"`
	Failures      uint64        `json:"failures"`
	AverageLatency time.Duration `json:"average_latency"`
}

// Stats returns a snapshot of every tool's accumulated counters.
func (d *Dispatcher) Stats() map[string]ToolStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]ToolStats, len(d.stats))
	for id, s := range d.stats {
		total := s.successes + s.failures
		var avg time.Duration
		if total > 0 {
			avg = time.Duration(s.totalNS / int64(total))
		}
		out[id] = ToolStats{Successes: s.successes, Failures: s.failures, AverageLatency: avg}
	}
	return out
}

// BatchCall is one invocation within a DispatchBatch request.
type BatchCall struct {
	Tool       string
	Action     string
	Parameters map[string]any
}

// DispatchBatch runs every call concurrently, capturing a panic from any
// single call as a failed InvocationResult in that call's slot instead of
// letting it take down the batch.
func (d *Dispatcher) DispatchBatch(ctx context.Context, calls []BatchCall) []models.InvocationResult {
	results := make([]models.InvocationResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call BatchCall) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = models.Fail(models.ErrorInternalError, fmt.Sprintf("panic: %v", r), time.Now())
				}
			}()
			results[i] = d.Dispatch(ctx, call.Tool, call.Action, call.Parameters)
		}(i, call)
	}
	wg.Wait()
	return results
}
