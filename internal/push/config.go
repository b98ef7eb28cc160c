package push

import (
	"time"

	"github.com/ashgrove/lumen-core/internal/infrastructure/config"
)

// Config holds the push service timings and limits as resolved durations.
// Keeping durations here (rather than the raw YAML ints) lets tests run
// the service at millisecond cadence.
type Config struct {
	// AuthTimeout bounds the wait for the client's auth message.
	AuthTimeout time.Duration

	// PingInterval is the server heartbeat ping cadence.
	PingInterval time.Duration

	// PongTimeout is the grace period after a ping before the connection
	// is considered dead. The effective read deadline is
	// PingInterval + PongTimeout.
	PongTimeout time.Duration

	// PollInterval is the per-connection snapshot poll cadence.
	PollInterval time.Duration

	// FetchTimeout bounds a single snapshot fetch.
	FetchTimeout time.Duration

	// MaxMessageSize limits inbound client messages in bytes.
	MaxMessageSize int64

	// SendBufferSize is the per-connection outbound buffer, in messages.
	SendBufferSize int
}

// FromConfig resolves the application websocket and bridge sections into
// a push Config.
func FromConfig(ws config.WebSocketConfig, b config.BridgeConfig) Config {
	return Config{
		AuthTimeout:    ws.GetAuthTimeout(),
		PingInterval:   ws.GetPingInterval(),
		PongTimeout:    ws.GetPongTimeout(),
		PollInterval:   b.GetPollInterval(),
		FetchTimeout:   b.GetFetchTimeout(),
		MaxMessageSize: int64(ws.MaxMessageSize),
		SendBufferSize: ws.SendBufferSize,
	}
}
