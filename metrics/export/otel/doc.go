// Package otel publishes engine metrics through OpenTelemetry observable
// instruments.
//
// Callers own the MeterProvider and pass a Meter; a single callback reads
// [goSession.Engine.MetricsSnapshot] on every collection.
package otel
