// Package influxdb writes light and motion telemetry to InfluxDB v2.
//
// The state relay feeds it changed entities; writes are batched and
// asynchronous so a slow time-series backend never stalls polling.
package influxdb
