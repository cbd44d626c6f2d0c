// Package telemetry wraps OpenTelemetry SDK initialization, giving the
// gateway a centralized TracerProvider/MeterProvider configuration. When
// telemetry is disabled, it falls back to a noop implementation that
// connects to no external service.
package telemetry
