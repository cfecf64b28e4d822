package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type key struct {
	namespace string
	name      string
}

// Prometheus registers collectors lazily on first use. Copies produced by
// WithPrefix share the same registry.
type Prometheus struct {
	registry *prometheus.Registry
	prefix   string
	entries  map[key]interface{}
	mu       *sync.Mutex
}

func NewPrometheus() *Prometheus {
	return &Prometheus{
		registry: prometheus.NewRegistry(),
		entries:  make(map[key]interface{}),
		mu:       new(sync.Mutex),
	}
}

func (p *Prometheus) WithPrefix(prefix string) Metrics {
	child := *p
	if child.prefix != "" {
		child.prefix += "_" + prefix
	} else {
		child.prefix = prefix
	}

	return &child
}

func (p *Prometheus) Counter(name string, labels Labels) Counter {
	entry := p.entry(name, func() prometheus.Collector {
		opts := prometheus.CounterOpts{Namespace: p.prefix, Name: name}
		if labels == nil {
			return prometheus.NewCounter(opts)
		}

		return prometheus.NewCounterVec(opts, labels.Keys())
	})

	if vec, ok := entry.(*prometheus.CounterVec); ok {
		return vec.With(prometheus.Labels(labels))
	}

	return entry.(Counter)
}

func (p *Prometheus) Gauge(name string, labels Labels) Gauge {
	entry := p.entry(name, func() prometheus.Collector {
		opts := prometheus.GaugeOpts{Namespace: p.prefix, Name: name}
		if labels == nil {
			return prometheus.NewGauge(opts)
		}

		return prometheus.NewGaugeVec(opts, labels.Keys())
	})

	if vec, ok := entry.(*prometheus.GaugeVec); ok {
		return vec.With(prometheus.Labels(labels))
	}

	return entry.(Gauge)
}

func (p *Prometheus) entry(name string, create func() prometheus.Collector) interface{} {
	k := key{p.prefix, name}
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[k]; ok {
		return entry
	}

	collector := create()
	p.registry.MustRegister(collector)
	p.entries[k] = collector
	return collector
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on address until ctx is done.
func (p *Prometheus) Serve(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.WithField("address", address).Warnf("shutdown metrics server: %s", err)
		}
	}()

	logrus.WithField("address", address).Info("serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve metrics")
	}

	return nil
}
