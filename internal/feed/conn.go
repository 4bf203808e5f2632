package feed

import (
	"context"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
)

// Conn is one established feed connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// Dialer opens a Conn to url.
type Dialer func(ctx context.Context, url string) (Conn, error)

// HeaderProvider allows injecting handshake headers.
type HeaderProvider func() map[string]string

const readLimit = 4 << 20

// WebSocketDialer dials with nhooyr websocket.
func WebSocketDialer(headers HeaderProvider) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			CompressionMode: websocket.CompressionNoContextTakeover,
			HTTPHeader:      buildHeaders(headers),
		})
		if err != nil {
			return nil, err
		}
		c.SetReadLimit(readLimit)
		return &wsConn{c: c}, nil
	}
}

type wsConn struct{ c *websocket.Conn }

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Ping(ctx context.Context) error { return w.c.Ping(ctx) }

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}

func buildHeaders(h HeaderProvider) http.Header {
	hdr := http.Header{}
	if h == nil {
		return hdr
	}
	for k, v := range h() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
