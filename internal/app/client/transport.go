package client

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the bidirectional frame channel a Session runs over. The
// production implementation wraps a gorilla WebSocket connection; tests
// substitute an in-memory pipe.
type Transport interface {
	// ReadFrame blocks until the next inbound frame or a transport failure.
	ReadFrame() ([]byte, error)

	// WriteFrame sends one outbound frame.
	WriteFrame(data []byte) error

	// Close releases the underlying connection. Safe to call more than once.
	Close() error
}

// Dialer opens a Transport to the real-time channel, authenticating with the
// caller-supplied identity token. It must return ErrReauthRequired (possibly
// wrapped) when the server rejects the token, so the Session knows not to
// retry.
type Dialer func(ctx context.Context, url string, token string) (Transport, error)

const wsWriteWait = 10 * time.Second

// wsTransport adapts a gorilla connection to the Transport interface.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteFrame(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// WebSocketDialer returns the production Dialer. An HTTP 401/403 during the
// upgrade handshake maps to ErrReauthRequired; everything else is a transient
// transport failure the Session will retry.
func WebSocketDialer() Dialer {
	return func(ctx context.Context, url string, token string) (Transport, error) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)

		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, ErrReauthRequired
			}
			return nil, err
		}

		return &wsTransport{conn: conn}, nil
	}
}
