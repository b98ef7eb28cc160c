package relay

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/ashgrove/lumen-core/internal/bridge"
	"github.com/ashgrove/lumen-core/internal/infrastructure/logging"
	"github.com/ashgrove/lumen-core/internal/infrastructure/mqtt"
)

// Publisher is the broker surface the relay needs.
// Implemented by mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// TelemetryWriter records numeric state for dashboards.
// Implemented by influxdb.Client.
type TelemetryWriter interface {
	WriteLightState(light bridge.Light)
	WriteMotionState(zone bridge.MotionZone)
}

// Deps holds the dependencies required by the relay.
type Deps struct {
	Source        bridge.SnapshotSource
	BridgeAddress string
	Credential    string
	Interval      time.Duration
	FetchTimeout  time.Duration
	QoS           byte
	Publisher     Publisher       // optional
	Telemetry     TelemetryWriter // optional
	Logger        *logging.Logger
}

// Relay runs one site-wide poll/diff cycle and fans changed entities out
// to MQTT (full state per entity, retained) and InfluxDB (numeric
// fields). It is independent of client connections: external consumers
// see state changes even when no panel is open.
type Relay struct {
	source        bridge.SnapshotSource
	bridgeAddress string
	cred          string
	interval      time.Duration
	fetchTimeout  time.Duration
	qos           byte
	publisher     Publisher
	telemetry     TelemetryWriter
	logger        *logging.Logger

	// last is the previous snapshot. Cycle goroutine only.
	last *bridge.Snapshot

	// busy skips a tick when the previous fetch is still in flight.
	busy atomic.Bool

	cancel context.CancelFunc
}

// New creates a relay. It is inert until Start is called.
func New(deps Deps) *Relay {
	return &Relay{
		source:        deps.Source,
		bridgeAddress: deps.BridgeAddress,
		cred:          deps.Credential,
		interval:      deps.Interval,
		fetchTimeout:  deps.FetchTimeout,
		qos:           deps.QoS,
		publisher:     deps.Publisher,
		telemetry:     deps.Telemetry,
		logger:        deps.Logger,
	}
}

// Start launches the relay loop. It runs until the context is cancelled
// or Close is called.
func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx)
}

// Close stops the relay loop. Safe to call without Start.
func (r *Relay) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

// run drives cycles on the configured cadence.
func (r *Relay) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

// cycle fetches a snapshot, diffs it against the previous one, and fans
// the changes out. Fetch failures are transient: logged and retried on
// the next tick.
func (r *Relay) cycle(ctx context.Context) {
	if !r.busy.CompareAndSwap(false, true) {
		return
	}
	defer r.busy.Store(false)

	fetchCtx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	snap, err := r.source.GetSnapshot(fetchCtx, r.bridgeAddress, r.cred)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("relay fetch failed, will retry", "bridge", r.bridgeAddress, "error", err)
		return
	}

	delta := bridge.Diff(r.last, snap)
	r.last = snap
	if delta.Empty() {
		return
	}

	for _, change := range delta.Lights {
		if !change.Removed {
			if r.telemetry != nil {
				r.telemetry.WriteLightState(change.Light)
			}
		}
		r.publishLight(change)
	}
	for _, change := range delta.MotionZones {
		if !change.Removed {
			if r.telemetry != nil {
				r.telemetry.WriteMotionState(change.MotionZone)
			}
		}
		r.publishMotion(change)
	}
}

// publishLight publishes a light change. Removed lights clear the
// retained topic with an empty payload.
func (r *Relay) publishLight(change bridge.LightChange) {
	if r.publisher == nil || !r.publisher.IsConnected() {
		return
	}

	topic := mqtt.LightStateTopic(change.ID)
	var payload []byte
	if !change.Removed {
		var err error
		payload, err = json.Marshal(change.Light)
		if err != nil {
			r.logger.Error("failed to marshal light state", "light_id", change.ID, "error", err)
			return
		}
	}
	if err := r.publisher.Publish(topic, payload, r.qos, true); err != nil {
		r.logger.Warn("light state publish failed", "light_id", change.ID, "error", err)
	}
}

// publishMotion publishes a motion zone change.
func (r *Relay) publishMotion(change bridge.MotionZoneChange) {
	if r.publisher == nil || !r.publisher.IsConnected() {
		return
	}

	topic := mqtt.MotionStateTopic(change.ID)
	var payload []byte
	if !change.Removed {
		var err error
		payload, err = json.Marshal(change.MotionZone)
		if err != nil {
			r.logger.Error("failed to marshal motion state", "zone_id", change.ID, "error", err)
			return
		}
	}
	if err := r.publisher.Publish(topic, payload, r.qos, true); err != nil {
		r.logger.Warn("motion state publish failed", "zone_id", change.ID, "error", err)
	}
}
