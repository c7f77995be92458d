// Package metrics exposes Prometheus collectors for the coordinator:
// pending/in-progress transaction gauges, a scheduler tick counter, a
// storage task latency histogram, and an error counter by kind. Register
// registers every collector with a *prometheus.Registry; Timer mirrors
// the teacher's metrics.Timer helper for measuring a unit of work.
package metrics
