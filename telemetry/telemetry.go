package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted while talking to a device.
//
// Hooks run inline with register reads and writes, so implementations must be
// cheap to call.
type Collector interface {
	IncHotReload(file string)
	ObservePage(table string, registers int, duration time.Duration)
	IncTransportError(table string)
	IncWrite(table string)
	IncRejectedWrite(reason string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)                    {}
func (noopCollector) ObservePage(string, int, time.Duration) {}
func (noopCollector) IncTransportError(string)               {}
func (noopCollector) IncWrite(string)                        {}
func (noopCollector) IncRejectedWrite(string)                {}

// PrometheusCollector exposes telemetry via Prometheus.
type PrometheusCollector struct {
	hotReloads     *prometheus.CounterVec
	pages          *prometheus.CounterVec
	pageRegisters  *prometheus.CounterVec
	pageDuration   *prometheus.HistogramVec
	transportErrs  *prometheus.CounterVec
	writes         *prometheus.CounterVec
	rejectedWrites *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg, reusing collectors
// that are already registered under the same name.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var err error
	c := &PrometheusCollector{}
	if c.hotReloads, err = registerCounter(reg, prometheus.CounterOpts{
		Name: "modspec_hot_reload_total",
		Help: "Number of re-binds triggered per changed source file.",
	}, "file"); err != nil {
		return nil, err
	}
	if c.pages, err = registerCounter(reg, prometheus.CounterOpts{
		Name: "modspec_transport_pages_total",
		Help: "Number of page requests issued per register table.",
	}, "table"); err != nil {
		return nil, err
	}
	if c.pageRegisters, err = registerCounter(reg, prometheus.CounterOpts{
		Name: "modspec_transport_registers_total",
		Help: "Number of registers or bits transferred per register table.",
	}, "table"); err != nil {
		return nil, err
	}
	if c.pageDuration, err = registerHistogram(reg, prometheus.HistogramOpts{
		Name:    "modspec_transport_page_duration_seconds",
		Help:    "Latency of single page requests.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, "table"); err != nil {
		return nil, err
	}
	if c.transportErrs, err = registerCounter(reg, prometheus.CounterOpts{
		Name: "modspec_transport_errors_total",
		Help: "Number of failed page requests per register table.",
	}, "table"); err != nil {
		return nil, err
	}
	if c.writes, err = registerCounter(reg, prometheus.CounterOpts{
		Name: "modspec_value_writes_total",
		Help: "Number of committed value writes per register table.",
	}, "table"); err != nil {
		return nil, err
	}
	if c.rejectedWrites, err = registerCounter(reg, prometheus.CounterOpts{
		Name: "modspec_value_writes_rejected_total",
		Help: "Number of value writes rejected before reaching the device.",
	}, "reason"); err != nil {
		return nil, err
	}
	return c, nil
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, opts prometheus.HistogramOpts, labels ...string) (*prometheus.HistogramVec, error) {
	histogram := prometheus.NewHistogramVec(opts, labels)
	if err := reg.Register(histogram); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return histogram, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// ObservePage records one completed page request.
func (p *PrometheusCollector) ObservePage(table string, registers int, duration time.Duration) {
	if p == nil || p.pages == nil {
		return
	}
	p.pages.WithLabelValues(table).Inc()
	p.pageRegisters.WithLabelValues(table).Add(float64(registers))
	p.pageDuration.WithLabelValues(table).Observe(duration.Seconds())
}

func (p *PrometheusCollector) IncTransportError(table string) {
	if p == nil || p.transportErrs == nil {
		return
	}
	p.transportErrs.WithLabelValues(table).Inc()
}

func (p *PrometheusCollector) IncWrite(table string) {
	if p == nil || p.writes == nil {
		return
	}
	p.writes.WithLabelValues(table).Inc()
}

// IncRejectedWrite counts writes refused by validation, labelled by cause.
func (p *PrometheusCollector) IncRejectedWrite(reason string) {
	if p == nil || p.rejectedWrites == nil {
		return
	}
	p.rejectedWrites.WithLabelValues(reason).Inc()
}
