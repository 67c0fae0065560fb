package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rgbdtrain/pkg/logger"
)

// PrometheusSink exposes the latest value and index of every scalar as
// gauges on a private registry. Safe for concurrent record and scrape.
type PrometheusSink struct {
	registry *prometheus.Registry
	value    *prometheus.GaugeVec
	index    *prometheus.GaugeVec
	records  prometheus.Counter
}

// NewPrometheusSink creates the sink and registers its collectors along with
// the Go runtime and process collectors
func NewPrometheusSink() *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rgbdtrain_scalar",
			Help: "Latest recorded value of a training scalar.",
		}, []string{"name"}),
		index: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rgbdtrain_scalar_index",
			Help: "Step or epoch index of the latest recorded value.",
		}, []string{"name"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rgbdtrain_scalar_records_total",
			Help: "Number of scalars recorded.",
		}),
	}
	s.registry.MustRegister(
		s.value,
		s.index,
		s.records,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

func (s *PrometheusSink) Record(name string, value float64, index int) error {
	s.value.WithLabelValues(name).Set(value)
	s.index.WithLabelValues(name).Set(float64(index))
	s.records.Inc()
	return nil
}

// Registry returns the registry the sink's collectors live in
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve runs an HTTP server exposing /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, handler http.Handler, log logger.Logger) error {
	if log == nil {
		log = logger.GetLogger()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("Metrics server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Debug("Metrics server stopped")
		return nil
	}
}
