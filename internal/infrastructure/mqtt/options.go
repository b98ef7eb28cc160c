package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ashgrove/lumen-core/internal/infrastructure/config"
)

// Connection timing constants.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds

	defaultKeepAlive    = 30 * time.Second
	defaultPingTimeout  = 10 * time.Second
	defaultMaxReconnect = 60 * time.Second
)

// buildClientOptions constructs paho client options from config.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetPingTimeout(defaultPingTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(defaultMaxReconnect)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	return opts
}

// configureLWT sets the Last Will and Testament so consumers see an
// "offline" status if the service dies without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	payload := buildStatusPayload(clientID, "offline")
	opts.SetBinaryWill(TopicSystemStatus, payload, 1, true)
}

// buildStatusPayload encodes a system status message.
func buildStatusPayload(clientID, status string) []byte {
	payload, _ := json.Marshal(map[string]string{ //nolint:errcheck // fixed shape cannot fail
		"client_id": clientID,
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}
