package push

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashgrove/lumen-core/internal/bridge"
	"github.com/ashgrove/lumen-core/internal/session"
)

// writeWait bounds a single socket write.
const writeWait = 10 * time.Second

// Conn is one live, authenticated socket connection.
//
// lastSnapshot and the poll timer are owned exclusively by the poll
// goroutine. busy guarantees at most one in-flight fetch per connection.
// close is idempotent: every teardown trigger (heartbeat timeout, socket
// error, clean close, service shutdown) funnels through it exactly once.
type Conn struct {
	id  string
	svc *Service
	ws  *websocket.Conn

	// send carries encoded outbound messages to the write pump. Closed
	// by unregister, exactly once.
	send chan []byte

	sess          *session.Session // nil for demo connections
	bridgeAddress string
	cred          string
	demo          bool
	source        bridge.SnapshotSource

	// lastSnapshot is the previous poll result. Poll goroutine only.
	lastSnapshot *bridge.Snapshot

	// busy is the overlapping-fetch guard: a tick that finds it set
	// performs no fetch.
	busy atomic.Bool

	connectedAt time.Time
	lastPong    atomic.Int64 // unix nanoseconds of the last pong

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// close tears the connection down. Safe to call from any goroutine, any
// number of times; the timer cancel, registry removal, and socket close
// each happen exactly once.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.svc.unregister(c)
		c.ws.Close() //nolint:errcheck // Best-effort close on teardown
	})
}

// readPump consumes inbound frames. Its real job is the heartbeat: the
// read deadline is PingInterval+PongTimeout and every pong (or any other
// client frame) pushes it forward. A client that stops answering blows
// the deadline, ReadMessage fails, and the connection is reaped.
func (c *Conn) readPump() {
	defer c.close()

	cfg := c.svc.cfg
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	deadline := cfg.PingInterval + cfg.PongTimeout
	//nolint:errcheck // Best-effort deadline on connection setup
	c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().UnixNano())
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.svc.logger.Debug("socket read error", "conn_id", c.id, "error", err)
			}
			return
		}
		// Any client traffic counts as liveness.
		//nolint:errcheck // Best-effort deadline reset
		c.ws.SetReadDeadline(time.Now().Add(deadline))
	}
}

// writePump drains the send channel onto the socket and emits heartbeat
// pings. It exits when the channel closes or any write fails.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.svc.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// pollLoop drives the poll/diff/push cycle until the connection closes.
func (c *Conn) pollLoop() {
	ticker := time.NewTicker(c.svc.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

// poll runs a single cycle: fetch, diff against the previous snapshot,
// push the delta if non-empty, store the new snapshot.
//
// A tick that arrives while a fetch is still in flight is skipped rather
// than queued. A fetch failure is transient: it is logged and the next
// tick retries. A fetch that completes after the connection closed is
// discarded.
func (c *Conn) poll() {
	if !c.busy.CompareAndSwap(false, true) {
		c.svc.logger.Debug("poll tick skipped, fetch in flight", "conn_id", c.id)
		return
	}
	defer c.busy.Store(false)

	fetchCtx, cancel := context.WithTimeout(c.ctx, c.svc.cfg.FetchTimeout)
	snap, err := c.source.GetSnapshot(fetchCtx, c.bridgeAddress, c.cred)
	cancel()
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.svc.logger.Warn("snapshot fetch failed, will retry",
			"conn_id", c.id,
			"bridge", c.bridgeAddress,
			"error", err,
		)
		return
	}
	if c.ctx.Err() != nil {
		// Connection closed while the fetch was in flight.
		return
	}

	delta := bridge.Diff(c.lastSnapshot, snap)
	if !delta.Empty() {
		c.sendDelta(delta)
	}
	c.lastSnapshot = snap
}

// sendDelta encodes a non-empty delta as light_update and/or
// motion_update messages and enqueues them in that order.
func (c *Conn) sendDelta(delta bridge.Delta) {
	if len(delta.Lights) > 0 {
		c.enqueueJSON(lightUpdateMessage{
			Type:    MsgTypeLightUpdate,
			Changed: delta.Lights,
		})
	}
	if len(delta.MotionZones) > 0 {
		c.enqueueJSON(motionUpdateMessage{
			Type:    MsgTypeMotionUpdate,
			Changed: delta.MotionZones,
		})
	}
}

// enqueueJSON marshals v and hands it to the write pump. A full buffer
// means the client cannot keep up; the connection is closed rather than
// silently dropping deltas out of the middle of the stream.
func (c *Conn) enqueueJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.svc.logger.Error("failed to marshal outbound message", "conn_id", c.id, "error", err)
		return
	}
	c.enqueue(data)
}

// enqueue hands encoded data to the write pump, absorbing the send-on-
// closed-channel race during teardown.
func (c *Conn) enqueue(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.svc.logger.Warn("send buffer full, closing slow connection", "conn_id", c.id)
		c.close()
	}
}

// Age returns how long the connection has been open.
func (c *Conn) Age() time.Duration {
	return time.Since(c.connectedAt)
}

// LastPongAt returns the time of the last heartbeat acknowledgment, or
// the zero time if none has arrived yet.
func (c *Conn) LastPongAt() time.Time {
	n := c.lastPong.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// isTimeout reports whether err is a read deadline expiry.
func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
