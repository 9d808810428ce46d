package subscriptionclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jensneuse/abstractlogger"

	"github.com/wundergraph/federation-gateway/pkg/subscriptionclient/protocol"
)

const (
	DefaultWriteTimeout = 5 * time.Second

	// UnlimitedReconnectAttempts disables the reconnect limit.
	UnlimitedReconnectAttempts = -1

	reconnectBaseDelay = 100 * time.Millisecond
	reconnectMaxDelay  = 10 * time.Second
)

// Config configures a Client.
type Config struct {
	// Protocols are negotiated after the graphql-ws identifier.
	Protocols []string
	// Reconnect enables reconnection after an unexpected close.
	Reconnect bool
	// MaxReconnectAttempts bounds consecutive reconnect attempts. Reconnecting
	// gives up once the attempts exceed it, UnlimitedReconnectAttempts never
	// does.
	MaxReconnectAttempts int
	// ServiceName prefixes every publication topic.
	ServiceName string
	// InitPayload is sent with connection_init.
	InitPayload json.RawMessage

	ConnectionCallback      func()
	FailedReconnectCallback func()
	// ProtocolErrorCallback is invoked for frames the client cannot handle,
	// before the connection is torn down.
	ProtocolErrorCallback func(err error)

	// ForceReconnect tears down the current connection and reconnects,
	// replaying every operation, whenever a value is received.
	ForceReconnect <-chan struct{}

	Dialer       Dialer
	Logger       abstractlogger.Logger
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Dialer == nil {
		c.Dialer = &WebSocketDialer{}
	}
	if c.Logger == nil {
		c.Logger = abstractlogger.NoopLogger
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// protocols returns the subprotocols offered to the server, graphql-ws first.
func (c Config) protocols() []string {
	protocols := make([]string, 0, len(c.Protocols)+1)
	protocols = append(protocols, protocol.Subprotocol)
	return append(protocols, c.Protocols...)
}

// ReconnectDelay returns the backoff before reconnect attempt n (starting at 1).
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := reconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= reconnectMaxDelay {
			return reconnectMaxDelay
		}
	}
	return delay
}

// Publication is delivered to a PublishFunc for every event of an operation.
type Publication struct {
	Topic string
	// Payload is the data of a data frame, nil at the end of the stream.
	Payload json.RawMessage
}

func (p Publication) EndOfStream() bool {
	return p.Payload == nil
}

// PublishFunc fans a publication out to subscribers.
type PublishFunc func(ctx context.Context, publication Publication) error

// Topic returns the publication topic of an operation of a service.
func Topic(serviceName, operationID string) string {
	return serviceName + "_" + operationID
}
