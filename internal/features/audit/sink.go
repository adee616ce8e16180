package audit

import (
	"context"

	"go.uber.org/zap"
)

// Sink is the external audit log consumed by the approval engine. Writes are
// best-effort: callers never wait on them and never see their errors.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// Recorder is what services depend on: a non-blocking Record with no error.
type Recorder interface {
	Record(event Event)
}

// LogSink writes audit events to the service log. Used with the memory store.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) Sink {
	return &LogSink{log: log.Named("audit")}
}

func (s *LogSink) Record(_ context.Context, e Event) error {
	s.log.Info(e.Description,
		zap.String("actor_id", e.ActorID),
		zap.String("action", string(e.ActionType)),
		zap.String("entity_type", e.EntityType),
		zap.String("entity_id", e.EntityID),
		zap.Any("previous_state", e.PreviousState),
		zap.Any("new_state", e.NewState),
	)
	return nil
}
