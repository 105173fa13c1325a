package livechannel

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one established transport connection. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer establishes a Conn to url.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	// TLS is used for wss:// URLs. Nil uses the system roots.
	TLS *tls.Config
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	wd := *websocket.DefaultDialer
	if d.HandshakeTimeout > 0 {
		wd.HandshakeTimeout = d.HandshakeTimeout
	}
	if d.TLS != nil {
		wd.TLSClientConfig = d.TLS
	}
	conn, resp, err := wd.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
