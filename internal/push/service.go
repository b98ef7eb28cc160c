package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ashgrove/lumen-core/internal/bridge"
	"github.com/ashgrove/lumen-core/internal/infrastructure/logging"
	"github.com/ashgrove/lumen-core/internal/session"
)

// SessionValidator resolves session tokens for socket authentication.
// Implemented by session.Registry.
type SessionValidator interface {
	Validate(token string) (*session.Session, error)
}

// Deps holds the dependencies required by the push service.
type Deps struct {
	Config     Config
	Logger     *logging.Logger
	Sessions   SessionValidator
	Source     bridge.SnapshotSource // real bridge; nil in demo-only deployments
	DemoSource bridge.SnapshotSource // nil when demo mode is disabled
}

// Service owns all live socket connections and their poll cycles.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Service struct {
	cfg      Config
	logger   *logging.Logger
	sessions SessionValidator
	source   bridge.SnapshotSource
	demo     bridge.SnapshotSource

	conns map[string]*Conn
	mu    sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// ConnStats is a read-only diagnostic view of one connection.
type ConnStats struct {
	ID            string    `json:"id"`
	BridgeAddress string    `json:"bridge_address,omitempty"`
	Demo          bool      `json:"demo"`
	ConnectedAt   time.Time `json:"connected_at"`
	AgeSeconds    float64   `json:"age_seconds"`
	LastPongAt    time.Time `json:"last_pong_at,omitempty"`
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// New creates a push service. It is inert until Start is called.
func New(deps Deps) (*Service, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Source == nil && deps.DemoSource == nil {
		return nil, fmt.Errorf("at least one snapshot source is required")
	}

	return &Service{
		cfg:      deps.Config,
		logger:   deps.Logger,
		sessions: deps.Sessions,
		source:   deps.Source,
		demo:     deps.DemoSource,
		conns:    make(map[string]*Conn),
	}, nil
}

// Start makes the service accept connections. Connections opened after
// Close (or parent context cancellation) are refused.
func (s *Service) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Close tears down every live connection and stops accepting new ones.
func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

// Count returns the number of live connections.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Stats returns a diagnostic view of every live connection, sorted by ID.
func (s *Service) Stats() []ConnStats {
	s.mu.RLock()
	stats := make([]ConnStats, 0, len(s.conns))
	for _, c := range s.conns {
		stats = append(stats, ConnStats{
			ID:            c.id,
			BridgeAddress: c.bridgeAddress,
			Demo:          c.demo,
			ConnectedAt:   c.connectedAt,
			AgeSeconds:    c.Age().Seconds(),
			LastPongAt:    c.LastPongAt(),
		})
	}
	s.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

// HandleSocket upgrades the HTTP connection and runs the connection
// lifecycle: bounded auth wait, initial snapshot, then polling.
func (s *Service) HandleSocket(w http.ResponseWriter, r *http.Request) {
	if s.ctx == nil || s.ctx.Err() != nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s.runConn(ws)
}

// runConn takes a freshly-upgraded socket through authentication and, on
// success, registers it and starts its pumps and poll loop.
func (s *Service) runConn(ws *websocket.Conn) {
	auth, err := s.readAuth(ws)
	if err != nil {
		if errors.Is(err, ErrAuthTimeout) {
			s.reject(ws, websocket.ClosePolicyViolation, errCodeAuthTimeout, "no auth message received in time")
		} else {
			s.reject(ws, websocket.ClosePolicyViolation, errCodeAuthFailed, err.Error())
		}
		return
	}

	c, err := s.resolveAuth(auth)
	if err != nil {
		s.logger.Info("socket authentication rejected", "error", err)
		s.reject(ws, websocket.ClosePolicyViolation, errCodeAuthFailed, "authentication failed")
		return
	}

	// Fetch and deliver the full initial snapshot before anything else.
	// The client receives a complete snapshot or none at all.
	fetchCtx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
	snap, err := c.source.GetSnapshot(fetchCtx, c.bridgeAddress, c.cred)
	cancel()
	if err != nil {
		s.logger.Warn("initial snapshot fetch failed",
			"bridge", c.bridgeAddress,
			"error", err,
		)
		if errorsIsAuthRejected(err) {
			s.reject(ws, websocket.ClosePolicyViolation, errCodeAuthFailed, "bridge rejected credential")
		} else {
			s.reject(ws, websocket.CloseInternalServerErr, errCodeUpstreamError, "bridge unavailable")
		}
		return
	}

	c.ws = ws
	c.lastSnapshot = snap
	c.ctx, c.cancel = context.WithCancel(s.ctx)
	c.send = make(chan []byte, s.cfg.SendBufferSize)
	c.connectedAt = time.Now()

	initial, err := json.Marshal(initialStateMessage{
		Type:        MsgTypeInitialState,
		Lights:      snap.LightList(),
		MotionZones: snap.MotionZoneList(),
	})
	if err != nil {
		s.logger.Error("failed to marshal initial state", "error", err)
		s.reject(ws, websocket.CloseInternalServerErr, errCodeUpstreamError, "internal error")
		return
	}
	// The buffered channel is empty here, so the initial state is always
	// first out of the write pump, ahead of any delta.
	c.send <- initial

	s.register(c)

	// Close snapshots the registry; a connection whose fetch finished
	// while that snapshot was taken registers after it and would be
	// stranded. Re-check shutdown after registering so it is torn down.
	if s.ctx.Err() != nil {
		c.close()
		return
	}

	go c.writePump()
	go c.readPump()
	go c.pollLoop()
}

// readAuth waits, bounded, for the client's auth message.
func (s *Service) readAuth(ws *websocket.Conn) (*authMessage, error) {
	ws.SetReadLimit(s.cfg.MaxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	ws.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))

	_, data, err := ws.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			return nil, ErrAuthTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	var msg authMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: malformed auth message", ErrAuthFailed)
	}
	if msg.Type != MsgTypeAuth {
		return nil, fmt.Errorf("%w: first message must be auth, got %q", ErrAuthFailed, msg.Type)
	}
	return &msg, nil
}

// resolveAuth turns an auth message into an unstarted connection.
// Exactly one of a valid session token or demo mode is accepted; the
// snapshot source is chosen here, once, and never re-branched per poll.
func (s *Service) resolveAuth(msg *authMessage) (*Conn, error) {
	if msg.DemoMode && msg.SessionToken != "" {
		return nil, fmt.Errorf("%w: session token and demo mode are mutually exclusive", ErrAuthFailed)
	}

	if msg.DemoMode {
		if s.demo == nil {
			return nil, fmt.Errorf("%w: demo mode is disabled", ErrAuthFailed)
		}
		return &Conn{
			id:     "conn-" + uuid.NewString()[:8],
			svc:    s,
			demo:   true,
			source: s.demo,
		}, nil
	}

	if msg.SessionToken == "" {
		return nil, fmt.Errorf("%w: missing session token", ErrAuthFailed)
	}
	if s.sessions == nil || s.source == nil {
		return nil, fmt.Errorf("%w: bridge sessions are not configured", ErrAuthFailed)
	}

	sess, err := s.sessions.Validate(msg.SessionToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	return &Conn{
		id:            "conn-" + uuid.NewString()[:8],
		svc:           s,
		sess:          sess,
		bridgeAddress: sess.BridgeAddress,
		cred:          sess.Credential,
		source:        s.source,
	}, nil
}

// reject sends a final error message and closes the socket.
func (s *Service) reject(ws *websocket.Conn, closeCode int, code, message string) {
	data, err := json.Marshal(errorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	})
	if err == nil {
		//nolint:errcheck // Best-effort write on reject path
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		ws.WriteMessage(websocket.TextMessage, data) //nolint:errcheck // Best-effort
	}
	//nolint:errcheck // Best-effort close message
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, code))
	ws.Close() //nolint:errcheck // Best-effort close
}

// register adds a connection to the registry.
func (s *Service) register(c *Conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.logger.Info("socket client connected",
		"conn_id", c.id,
		"demo", c.demo,
		"bridge", c.bridgeAddress,
		"clients", s.Count(),
	)
}

// unregister removes a connection from the registry.
// Only the goroutine that successfully removes the connection from the
// map closes the send channel, preventing double-close panics when
// several teardown triggers race.
func (s *Service) unregister(c *Conn) {
	s.mu.Lock()
	_, existed := s.conns[c.id]
	delete(s.conns, c.id)
	s.mu.Unlock()

	if existed {
		close(c.send)
		s.logger.Info("socket client disconnected", "conn_id", c.id, "clients", s.Count())
	}
}

// errorsIsAuthRejected reports whether a fetch error means the bridge
// rejected the credential (as opposed to being unreachable).
func errorsIsAuthRejected(err error) bool {
	return errors.Is(err, bridge.ErrAuthRejected)
}
