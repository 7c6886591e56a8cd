// mqtt.go: Package mqtt provides an abstraction for the message bus the
// pipeline publishes dispatches on and receives storage events from.
package mqtt

import (
	"context"
	"log/slog"
	"time"

	"github.com/whipbird/chorus-go/internal/logging"
)

// MessageHandler is invoked for every message arriving on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Client defines the interface for message bus operations.
type Client interface {
	// Connect attempts to connect to the broker.
	// It returns an error if the connection fails.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic on the broker.
	// It returns an error if the publish operation fails.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for messages arriving on the topic.
	// Delivery is at-least-once; handlers must tolerate duplicates.
	Subscribe(topic string, handler MessageHandler) error

	// IsConnected returns true if the client is currently connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection to the broker.
	Disconnect()
}

// Config holds the configuration for the bus client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// Package-level logger for bus related events
var mqttLogger *slog.Logger

func getLogger() *slog.Logger {
	if mqttLogger == nil {
		mqttLogger = logging.ForService("mqtt")
		if mqttLogger == nil {
			panic("logging not initialized before mqtt use")
		}
	}
	return mqttLogger
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}
