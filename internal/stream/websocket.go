package stream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// WebsocketDialer connects to a WebSocket endpoint that pushes binary frames.
type WebsocketDialer struct {
	URL string
	// ReadLimit caps the size of a single message. Zero keeps the library default.
	ReadLimit  int64
	HTTPHeader http.Header
}

// Dial opens the WebSocket connection.
func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	if d.URL == "" {
		return nil, fmt.Errorf("websocket url is empty")
	}
	conn, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{HTTPHeader: d.HTTPHeader})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

// Read returns the next binary message. Text messages are not telemetry and are skipped.
func (c *websocketConn) Read(ctx context.Context) ([]byte, error) {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if msgType != websocket.MessageBinary {
			continue
		}
		return data, nil
	}
}

func (c *websocketConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
