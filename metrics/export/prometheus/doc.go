// Package prometheus provides Prometheus collectors for rotauth metrics.
//
// [NewPrometheusExporter] accepts a [rotauth.Engine] and exposes an [http.Handler]
// that renders all rotauth counters and histograms in Prometheus text exposition
// format. Counter names are prefixed rotauth_*_total; the single histogram is
// rotauth_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate engine state.
package prometheus
