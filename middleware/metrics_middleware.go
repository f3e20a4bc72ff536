package middleware

import (
	"context"
	"time"

	"fs-rpc/message"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts commands and their latency per method and result.
type Metrics struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fsrpc",
				Subsystem: "server",
				Name:      "commands_total",
				Help:      "Total number of commands handled, by method and result kind.",
			},
			[]string{"method", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fsrpc",
				Subsystem: "server",
				Name:      "command_duration_seconds",
				Help:      "Command handling duration in seconds.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method"},
		),
	}
	for _, c := range []prometheus.Collector{m.commands, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, cmd *message.Command) *message.Outcome {
			start := time.Now()
			out := next(ctx, cmd)

			method, result := cmd.Method, "ok"
			if out.Error != nil {
				result = string(out.Error.Kind)
				if out.Error.Kind == message.MethodNotFound {
					// Keep label cardinality bounded by the real method set
					method = "unknown"
				}
			}
			m.commands.WithLabelValues(method, result).Inc()
			m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			return out
		}
	}
}
