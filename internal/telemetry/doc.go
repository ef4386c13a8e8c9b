// Package telemetry initializes the OpenTelemetry SDK.
//
// Init wires OTLP gRPC exporters for traces and metrics and installs
// them as the global providers; the coordinator and the HTTP middleware
// create spans against those globals. With telemetry disabled no
// exporter is built and span creation stays a noop.
package telemetry
