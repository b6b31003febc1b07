package transport

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
)

const defaultHandshakeTimeout = 10 * time.Second

// WebSocketDialer dials real WebSocket connections via gorilla/websocket.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the opening handshake. Optional; default 10s.
	// The dial context still governs the overall attempt.
	HandshakeTimeout time.Duration
}

// Dial opens a WebSocket connection to url.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	timeout := defaultHandshakeTimeout
	if d != nil && d.HandshakeTimeout > 0 {
		timeout = d.HandshakeTimeout
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrap(err, "dial "+url+": "+resp.Status)
		}
		return nil, errors.Wrap(err, "dial "+url)
	}

	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if stderrors.As(err, &closeErr) {
				return nil, &CloseError{Code: closeErr.Code, Reason: closeErr.Text}
			}
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close(code int, reason string) error {
	c.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.writeMu.Unlock()
	return c.conn.Close()
}
