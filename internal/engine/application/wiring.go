package application

import (
	"context"
	"fmt"

	"restroom-cloud/internal/engine/application/events"
	"restroom-cloud/internal/eventing"
)

// NoticeSink receives incident and routine notices.
type NoticeSink interface {
	HandleNotice(ctx context.Context, notice events.DeviceNotice) error
}

// LivenessSink receives liveness flips.
type LivenessSink interface {
	HandleLiveness(ctx context.Context, evt events.LivenessChanged) error
}

// RegisterEvents registers every engine event type for outbox decoding.
func RegisterEvents(registry *eventing.Registry) {
	if registry == nil {
		return
	}
	eventing.Register[events.DeviceNotice](registry)
	eventing.Register[events.HistoryDue](registry)
	eventing.Register[events.LivenessChanged](registry)
}

// WireEngineEventBus registers the engine's asynchronous handlers on the bus.
// Each notice sink runs at most once per event.
func WireEngineEventBus(bus eventing.Subscriber, reporter *Reporter, notices []NoticeSink, liveness []LivenessSink, processed eventing.ProcessedStore) {
	if bus == nil {
		return
	}
	if reporter != nil {
		eventing.Subscribe(bus, eventing.EventTypeOf[events.HistoryDue](), "engine.history",
			eventing.Handle(reporter.HandleHistoryDue), nil)
		eventing.Subscribe(bus, eventing.EventTypeOf[events.LivenessChanged](), "engine.liveness",
			eventing.Handle(reporter.HandleLivenessChanged), nil)
	}
	for i, sink := range notices {
		if sink == nil {
			continue
		}
		eventing.Subscribe(bus, eventing.EventTypeOf[events.DeviceNotice](), fmt.Sprintf("engine.notice.%d", i),
			eventing.Handle(sink.HandleNotice), processed)
	}
	for _, sink := range liveness {
		if sink == nil {
			continue
		}
		eventing.Subscribe(bus, eventing.EventTypeOf[events.LivenessChanged](), "engine.liveness.sink",
			eventing.Handle(sink.HandleLiveness), nil)
	}
}
