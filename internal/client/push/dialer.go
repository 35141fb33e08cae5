package push

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/dmitrijs2005/eagleeye/internal/client/models"
)

var (
	// ErrConnection wraps every transport-level failure.
	ErrConnection = errors.New("push connection failed")
	// ErrMalformedFrame is returned by Recv for a frame that could not be
	// decoded. The connection is still usable.
	ErrMalformedFrame = errors.New("malformed push frame")
)

// Conn is one established push connection.
type Conn interface {
	// Recv blocks until the next event arrives, the connection fails, or
	// ctx is done.
	Recv(ctx context.Context) (models.Event, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

type DialerFunc func(ctx context.Context, token string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, token string) (Conn, error) {
	return f(ctx, token)
}

// NewDialer picks a transport from the URL scheme: ws/wss (http/https are
// rewritten to them) or grpc://host:port.
func NewDialer(rawURL string) (Dialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse push URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		return NewWebsocketDialer(u.String()), nil
	case "http":
		u.Scheme = "ws"
		return NewWebsocketDialer(u.String()), nil
	case "https":
		u.Scheme = "wss"
		return NewWebsocketDialer(u.String()), nil
	case "grpc":
		if u.Host == "" {
			return nil, fmt.Errorf("push URL %q has no host", rawURL)
		}
		return NewGRPCDialer(u.Host), nil
	}
	return nil, fmt.Errorf("unsupported push URL scheme %q", u.Scheme)
}
