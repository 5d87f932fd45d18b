// Package prometheus exposes engine counters and the validate-latency
// histogram as a [github.com/prometheus/client_golang/prometheus.Collector].
//
// [NewPrometheusExporter] registers the collector in a private registry and
// [PrometheusExporter.Handler] serves it; nothing is added to the global
// default registry. Counter names are prefixed gosession_ and end in _total.
package prometheus
