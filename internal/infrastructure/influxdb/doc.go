// Package influxdb ships channel levels and input events to InfluxDB
// for long-term telemetry. It is optional: when disabled in config the
// bridge runs without it. Writes use the non-blocking API so telemetry
// never backpressures the gateway session.
package influxdb
