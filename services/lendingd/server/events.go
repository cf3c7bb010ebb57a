package server

import (
	"log/slog"

	"openlend/core/events"
	coretypes "openlend/core/types"
	"openlend/observability"
)

// attributed is implemented by every concrete protocol event; it exposes the
// flattened attribute form used for logging and indexing.
type attributed interface {
	Event() *coretypes.Event
}

// EventSink logs every emitted protocol event and feeds the event metrics.
// It satisfies events.Emitter.
type EventSink struct {
	logger *slog.Logger
}

func NewEventSink(logger *slog.Logger) *EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{logger: logger}
}

func (s *EventSink) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())
	switch typed := evt.(type) {
	case events.LendingLiquidation:
		observability.Lending().RecordSeizure(typed.CollateralAsset)
	case events.LendingFlashLoan:
		observability.Lending().RecordFlashLoan(typed.Asset, nil)
	}

	args := []any{"type", evt.EventType()}
	if flat, ok := evt.(attributed); ok {
		if event := flat.Event(); event != nil {
			for key, value := range event.Attributes {
				args = append(args, key, value)
			}
		}
	}
	s.logger.Info("protocol event", args...)
}
