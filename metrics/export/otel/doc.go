// Package otel exposes goAccount engine metrics as OpenTelemetry observable
// instruments.
//
// [Register] creates one Int64ObservableCounter per engine counter. The
// latency histogram becomes a _bucket gauge carrying an "le" attribute per
// upper bound plus a _count gauge. One callback reads the engine snapshot
// per collection cycle. The caller owns the MeterProvider.
package otel
