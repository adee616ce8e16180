package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-opsdesk/internal/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// Dispatcher hands audit events to a Sink on a background worker so that the
// approval path never waits on, or fails because of, audit logging.
type Dispatcher struct {
	sink   Sink
	log    *zap.Logger
	events chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the worker immediately.
func NewDispatcher(sink Sink, log *zap.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	d := &Dispatcher{
		sink:   sink,
		log:    log.Named("audit"),
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go d.process()
	return d
}

// ProvideDispatcher wires the dispatcher into the fx lifecycle; OnStop drains
// whatever is still buffered.
func ProvideDispatcher(lc fx.Lifecycle, sink Sink, log *zap.Logger, cfg *config.Config) *Dispatcher {
	d := NewDispatcher(sink, log, cfg.AuditBuffer)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return d.Close(ctx)
		},
	})
	return d
}

// Record enqueues the event. It never blocks: a full buffer drops the event.
func (d *Dispatcher) Record(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("Audit dispatcher closed, dropping event", zap.String("entity_id", e.EntityID))
		return
	}

	select {
	case d.events <- e:
	default:
		d.log.Warn("Audit buffer full, dropping event",
			zap.String("action", string(e.ActionType)),
			zap.String("entity_type", e.EntityType),
			zap.String("entity_id", e.EntityID),
		)
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) process() {
	defer close(d.done)
	for e := range d.events {
		if err := d.write(e); err != nil {
			d.log.Warn("Failed to write audit event",
				zap.Error(err),
				zap.String("action", string(e.ActionType)),
				zap.String("entity_type", e.EntityType),
				zap.String("entity_id", e.EntityID),
			)
		}
	}
}

func (d *Dispatcher) write(e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return d.sink.Record(ctx, e)
}
