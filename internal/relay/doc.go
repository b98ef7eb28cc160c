// Package relay mirrors bridge state changes onto MQTT and InfluxDB.
//
// It runs its own poll/diff cycle against the snapshot source, so
// external automation consumers and telemetry dashboards stay current
// independently of connected panel clients. Both sinks are optional.
package relay
