package metrics

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const depthQueryTimeout = 2 * time.Second

// QueueDepth reports how many records wait in a queue.
type QueueDepth interface {
	Depth(ctx context.Context) (int64, error)
}

var queueOnce sync.Once

// RegisterQueueGauges exposes the outbox backlog and the dead letter count.
// Either source may be nil. Only the first call registers.
func RegisterQueueGauges(outbox, deadLetters QueueDepth, logger *log.Logger) {
	queueOnce.Do(func() {
		if outbox != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: metricPrefix + "outbox_pending",
					Help: "Engine events waiting for dispatch",
				},
				depthFunc("outbox", outbox, logger),
			))
		}
		if deadLetters != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: metricPrefix + "dead_letters",
					Help: "Engine events that failed dispatch",
				},
				depthFunc("dead letters", deadLetters, logger),
			))
		}
	})
}

func depthFunc(name string, source QueueDepth, logger *log.Logger) func() float64 {
	return func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), depthQueryTimeout)
		defer cancel()
		depth, err := source.Depth(ctx)
		if err != nil {
			if logger != nil {
				logger.Printf("metrics: %s depth failed: %v", name, err)
			}
			return 0
		}
		if depth < 0 {
			return 0
		}
		return float64(depth)
	}
}
