package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is the service name used when none is provided
	DefaultServiceName = "authguard"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// MetricsExporterNone disables built-in metric exporters
	MetricsExporterNone = "none"

	// MetricsExporterPrometheus exposes metrics through a Prometheus registerer
	MetricsExporterPrometheus = "prometheus"

	// scopePrefix prefixes every meter and tracer name
	scopePrefix = "github.com/giantswarm/authguard/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, uses no-op providers (zero overhead).
	Enabled bool

	// LogClientIPs controls whether client addresses are attached to spans.
	// Client addresses may be considered PII under GDPR and similar regulations.
	LogClientIPs bool

	// MetricsExporter selects a built-in exporter: "none" (default) or "prometheus"
	MetricsExporter string

	// PrometheusRegisterer receives the Prometheus collector.
	// Defaults to prometheus.DefaultRegisterer.
	PrometheusRegisterer prometheus.Registerer

	// MetricReader is an additional reader, e.g. sdkmetric.NewManualReader in tests
	MetricReader sdkmetric.Reader

	// SpanExporter receives finished spans. Nil disables tracing.
	SpanExporter sdktrace.SpanExporter

	// Resource allows custom resource attributes.
	// If nil, a resource is created with service name and version.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// registered during New() only
	shutdownFuncs []func(context.Context) error
	flushFuncs    []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}
	if config.MetricsExporter == "" {
		config.MetricsExporter = MetricsExporterNone
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders builds SDK providers for the configured readers and exporters.
// Without any reader the meter provider stays no-op; without a span exporter
// the tracer provider does.
func (i *Instrumentation) initializeProviders() error {
	var readers []sdkmetric.Option

	switch i.config.MetricsExporter {
	case MetricsExporterNone:
	case MetricsExporterPrometheus:
		registerer := i.config.PrometheusRegisterer
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		exporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(exporter))
	default:
		return fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
	}

	if i.config.MetricReader != nil {
		readers = append(readers, sdkmetric.WithReader(i.config.MetricReader))
	}

	if len(readers) > 0 {
		mp := sdkmetric.NewMeterProvider(append(readers, sdkmetric.WithResource(i.resource))...)
		i.meterProvider = mp
		i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)
		i.flushFuncs = append(i.flushFuncs, mp.ForceFlush)
	} else {
		i.meterProvider = noop.NewMeterProvider()
	}

	if i.config.SpanExporter != nil {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(i.config.SpanExporter),
			sdktrace.WithResource(i.resource),
		)
		i.tracerProvider = tp
		i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)
		i.flushFuncs = append(i.flushFuncs, tp.ForceFlush)
	} else {
		i.tracerProvider = tracenoop.NewTracerProvider()
	}

	return nil
}

// ForceFlush exports everything buffered by the SDK providers
func (i *Instrumentation) ForceFlush(ctx context.Context) error {
	for _, fn := range i.flushFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown gracefully shuts down all instrumentation providers.
// This should be called when the application is terminating.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				// Keep the first error, but continue shutting down other components
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope (e.g. "gate", "security")
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope (e.g. "gate", "http")
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs returns whether client addresses should be recorded
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// TrackerSizeCallback returns the current number of entries in a tracker
type TrackerSizeCallback func() int64

// RegisterTrackerSizeCallbacks registers an observable gauge callback
// reporting each tracker's size under the "tracker" attribute.
//
// Example:
//
//	inst.RegisterTrackerSizeCallbacks(map[string]instrumentation.TrackerSizeCallback{
//	    "lockout": func() int64 { return int64(tracker.Len()) },
//	})
func (i *Instrumentation) RegisterTrackerSizeCallbacks(callbacks map[string]TrackerSizeCallback) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	_, err := i.Meter("security").RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			for name, cb := range callbacks {
				if cb != nil {
					observer.ObserveInt64(i.metrics.TrackerEntries, cb(),
						metric.WithAttributes(trackerAttr(name)))
				}
			}
			return nil
		},
		i.metrics.TrackerEntries,
	)

	return err
}
