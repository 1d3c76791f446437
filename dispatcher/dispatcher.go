// Package dispatcher routes delivered bus events to the workflow step
// registered for their detail type. The bus-to-queue wiring itself is
// infrastructure configuration; this package only owns the routing table.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	migration "github.com/girishfury/migration"
)

// HandlerFunc handles one routed event.
type HandlerFunc func(ctx context.Context, ev migration.Event) error

// route binds a handler to a detail type, optionally narrowed to the
// workflow step named in the event.
type route struct {
	step string
	fn   HandlerFunc
}

// Dispatcher routes events by detail type and, for status events, by the
// step that published them.
type Dispatcher struct {
	routes map[string][]route
	logger *slog.Logger
}

// New creates an empty dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		routes: make(map[string][]route),
		logger: logger,
	}
}

// Register binds fn to events of the given detail type. A non-empty step
// narrows the binding to status events published by that workflow step.
func (d *Dispatcher) Register(detailType, step string, fn HandlerFunc) {
	d.routes[detailType] = append(d.routes[detailType], route{step: step, fn: fn})
}

// Dispatch routes ev to every matching handler. An event with no matching
// route is dropped with a log line, not an error: the bus carries detail
// types this service does not consume.
func (d *Dispatcher) Dispatch(ctx context.Context, ev migration.Event) error {
	routes := d.routes[ev.DetailType]
	currentStep := ev.String("currentStep")

	matched := 0
	for _, r := range routes {
		if r.step != "" && r.step != currentStep {
			continue
		}
		matched++
		if err := r.fn(ctx, ev); err != nil {
			return fmt.Errorf("dispatcher: handle %q (step %q): %w", ev.DetailType, currentStep, err)
		}
	}
	if matched == 0 {
		d.logger.Debug("no route for event",
			"detail_type", ev.DetailType,
			"current_step", currentStep,
		)
	}
	return nil
}
