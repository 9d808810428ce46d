package subscriptionclient

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

const defaultReadLimit = 16 << 20

// Conn is a message oriented connection to a subscription server.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens connections offering the given subprotocols.
type Dialer interface {
	Dial(ctx context.Context, uri string, protocols []string) (Conn, error)
}

// WebSocketDialer dials websocket connections.
type WebSocketDialer struct {
	HTTPClient *http.Client
	Header     http.Header
	// ReadLimit caps the size of a single frame, defaults to 16MiB.
	ReadLimit int64
}

func (d *WebSocketDialer) Dial(ctx context.Context, uri string, protocols []string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, uri, &websocket.DialOptions{
		HTTPClient:   d.HTTPClient,
		HTTPHeader:   d.Header,
		Subprotocols: protocols,
	})
	if err != nil {
		return nil, err
	}

	readLimit := d.ReadLimit
	if readLimit == 0 {
		readLimit = defaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
