// Package prometheus renders goAccount engine metrics in the Prometheus text
// exposition format. [Exporter] is an http.Handler; mount it at /metrics.
//
// Counter names start with goaccount_ and end in _total. The single
// histogram is goaccount_authenticate_latency_seconds.
package prometheus
