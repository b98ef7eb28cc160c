// Package mqtt provides the broker client used by the state relay.
//
// The client publishes light and motion state changes plus a retained
// service status (with LWT for crash detection). Lumen Core never
// subscribes; consumption is left to external automation systems.
package mqtt
