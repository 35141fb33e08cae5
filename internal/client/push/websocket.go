package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrijs2005/eagleeye/internal/client/client"
	"github.com/dmitrijs2005/eagleeye/internal/client/models"
)

type WebsocketDialer struct {
	url    string
	dialer *websocket.Dialer
}

func NewWebsocketDialer(rawURL string) *WebsocketDialer {
	return &WebsocketDialer{
		url: rawURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial opens the socket. The token is sent both as a bearer header and as
// the token query parameter, which is what browser-style socket servers read.
func (d *WebsocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := d.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %w", ErrConnection, client.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Recv(ctx context.Context) (models.Event, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return models.Event{}, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return models.Event{}, fmt.Errorf("%w: closed by server", ErrConnection)
		}
		return models.Event{}, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return decodeFrame(data)
}

func decodeFrame(data []byte) (models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.Event{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if ev.Type == "" {
		return models.Event{}, fmt.Errorf("%w: frame without event name", ErrMalformedFrame)
	}
	return ev, nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
