package trigger

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Status classifies one handler invocation.
type Status int

const (
	// StatusSuccess - the handler returned normally.
	StatusSuccess Status = iota

	// StatusHandlerError - the handler raised an error.
	StatusHandlerError

	// StatusTimeout - the handler exceeded its time budget.
	StatusTimeout
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusHandlerError:
		return "handler_error"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Outcome records one subscriber's invocation during a Fire call.
type Outcome struct {
	Extension string
	Trigger   string
	Status    Status
	Err       error
	Start     time.Time
	End       time.Time
}

// Duration returns how long the invocation ran.
func (o Outcome) Duration() time.Duration {
	return o.End.Sub(o.Start)
}

// DispatchResult aggregates the outcomes of one Fire call. Hosts may
// inspect it for audit but must not gate control flow on it; all current
// triggers are informational.
type DispatchResult struct {
	Trigger  string
	Outcomes []Outcome
}

// Succeeded reports whether every subscriber completed normally.
func (r DispatchResult) Succeeded() bool {
	for _, o := range r.Outcomes {
		if o.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// Failed returns the outcomes that did not succeed.
func (r DispatchResult) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Status != StatusSuccess {
			failed = append(failed, o)
		}
	}
	return failed
}

// Sink receives dispatch results for observability. Implementations must
// not call back into the dispatcher.
type Sink interface {
	Record(res DispatchResult)
}

// DefaultTimeBudget bounds a handler invocation when no budget is
// configured.
const DefaultTimeBudget = 5 * time.Second

// Dispatcher drives trigger firing. It only reads the registry; all
// registration changes go through the lifecycle manager.
type Dispatcher struct {
	registry *Registry
	budget   time.Duration
	logger   *slog.Logger
	sink     Sink
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeBudget sets the per-handler time budget.
func WithTimeBudget(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.budget = d
	}
}

// WithLogger sets the logger used for handler failures.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.logger = logger
	}
}

// WithSink sets an audit sink that receives every dispatch result.
func WithSink(sink Sink) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.sink = sink
	}
}

// NewDispatcher creates a dispatcher reading from the given registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		budget:   DefaultTimeBudget,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fire invokes every subscriber of the trigger in registration order.
//
// Continue-on-error is mandatory: a throwing or hanging extension never
// prevents the remaining subscribers from running, and Fire never returns
// an error for handler failures. Each subscriber runs under the configured
// time budget; outcomes are tagged, logged, and handed to the sink.
//
// Separate Fire calls may run concurrently; within one call dispatch is
// strictly sequential so handlers observe shared side effects in a
// deterministic order.
func (d *Dispatcher) Fire(ctx context.Context, trigger string, payload map[string]any) DispatchResult {
	subscribers := d.registry.SubscribersOf(trigger)

	res := DispatchResult{
		Trigger:  trigger,
		Outcomes: make([]Outcome, 0, len(subscribers)),
	}

	for _, h := range subscribers {
		out := Outcome{
			Extension: h.Name(),
			Trigger:   trigger,
			Start:     time.Now(),
		}

		err := h.Invoke(ctx, trigger, payload, d.budget)
		out.End = time.Now()

		switch {
		case err == nil:
			out.Status = StatusSuccess
		case errors.Is(err, context.DeadlineExceeded):
			out.Status = StatusTimeout
			out.Err = err
			d.logger.Warn("extension handler timed out",
				"extension", h.Name(),
				"trigger", trigger,
				"budget", d.budget)
		default:
			out.Status = StatusHandlerError
			out.Err = err
			d.logger.Warn("extension handler failed",
				"extension", h.Name(),
				"trigger", trigger,
				"error", err)
		}

		res.Outcomes = append(res.Outcomes, out)
	}

	if d.sink != nil {
		d.sink.Record(res)
	}
	return res
}

// Budget returns the configured per-handler time budget.
func (d *Dispatcher) Budget() time.Duration {
	return d.budget
}
