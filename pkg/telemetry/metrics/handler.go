package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the collector's registry in the Prometheus exposition
// format.
func (c *Collector) Handler() http.Handler {
	return Handler(c.registry, nil)
}

// Handler serves g in the Prometheus exposition format. Collection errors
// are logged to logger (if set) and the remaining metrics are still served.
func Handler(g prometheus.Gatherer, logger *slog.Logger) http.Handler {
	opts := promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}
	if logger != nil {
		opts.ErrorLog = slogErrorLog{logger.With("component", "metrics")}
	}
	return promhttp.HandlerFor(g, opts)
}

type slogErrorLog struct{ logger *slog.Logger }

func (l slogErrorLog) Println(v ...interface{}) {
	l.logger.Error("Metrics collection failed", "error", v)
}
