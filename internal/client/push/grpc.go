package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/eagleeye/internal/client/client"
	"github.com/dmitrijs2005/eagleeye/internal/client/models"
)

// SubscribeMethod is the full name of the server-streaming push RPC. The
// request is google.protobuf.Empty and every response frame is a
// google.protobuf.Struct with "event" and "data" fields.
const SubscribeMethod = "/eagleeye.push.v1.Events/Subscribe"

var subscribeDesc = &grpc.StreamDesc{
	StreamName:    "Subscribe",
	ServerStreams: true,
}

type GRPCDialer struct {
	target string
	opts   []grpc.DialOption
}

// NewGRPCDialer dials target in plaintext unless opts are given.
func NewGRPCDialer(target string, opts ...grpc.DialOption) *GRPCDialer {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &GRPCDialer{target: target, opts: opts}
}

func (d *GRPCDialer) Dial(ctx context.Context, token string) (Conn, error) {
	cc, err := grpc.NewClient(d.target, d.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+token)

	fail := func(err error) (Conn, error) {
		cancel()
		_ = cc.Close()
		return nil, mapStreamError(err)
	}

	stream, err := cc.NewStream(streamCtx, subscribeDesc, SubscribeMethod)
	if err != nil {
		return fail(err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fail(err)
	}
	if err := stream.CloseSend(); err != nil {
		return fail(err)
	}

	conn := &grpcConn{cc: cc, stream: stream, cancel: cancel}

	// A stream rejected before any header frame reports its status on the
	// first receive.
	md, err := stream.Header()
	if err != nil {
		return fail(err)
	}
	if md == nil {
		ev, err := conn.recv()
		switch {
		case errors.Is(err, ErrMalformedFrame):
			conn.pendingErr = err
		case err != nil:
			return fail(err)
		default:
			conn.pending = &ev
		}
	}
	return conn, nil
}

type grpcConn struct {
	cc      *grpc.ClientConn
	stream  grpc.ClientStream
	cancel  context.CancelFunc
	pending *models.Event
	// pendingErr is a decode failure of the frame read during Dial.
	pendingErr error

	closeOnce sync.Once
}

func (c *grpcConn) Recv(ctx context.Context) (models.Event, error) {
	if c.pending != nil {
		ev := *c.pending
		c.pending = nil
		return ev, nil
	}
	if err := c.pendingErr; err != nil {
		c.pendingErr = nil
		return models.Event{}, err
	}

	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	ev, err := c.recv()
	if errors.Is(err, ErrMalformedFrame) {
		return models.Event{}, err
	}
	if err != nil {
		if ctx.Err() != nil {
			return models.Event{}, ctx.Err()
		}
		return models.Event{}, mapStreamError(err)
	}
	return ev, nil
}

func (c *grpcConn) recv() (models.Event, error) {
	var frame structpb.Struct
	if err := c.stream.RecvMsg(&frame); err != nil {
		return models.Event{}, err
	}
	return eventFromStruct(&frame)
}

func (c *grpcConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.cc.Close()
	})
	return err
}

func eventFromStruct(s *structpb.Struct) (models.Event, error) {
	fields := s.GetFields()
	name := fields["event"].GetStringValue()
	if name == "" {
		return models.Event{}, fmt.Errorf("%w: frame without event name", ErrMalformedFrame)
	}

	ev := models.Event{Type: models.EventType(name)}
	if data, ok := fields["data"]; ok {
		raw, err := protojson.Marshal(data)
		if err != nil {
			return models.Event{}, fmt.Errorf("%w: encode %s payload: %w", ErrMalformedFrame, name, err)
		}
		ev.Data = json.RawMessage(raw)
	}
	return ev, nil
}

func mapStreamError(err error) error {
	if err == io.EOF {
		return fmt.Errorf("%w: stream closed by server", ErrConnection)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return fmt.Errorf("%w: %w", ErrConnection, client.ErrUnauthorized)
		}
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}
