package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client subscribes to the event stream of a running algodesk server.
type Client struct {
	addr string
	log  *slog.Logger
	opts []grpc.DialOption
}

// NewClient creates a client targeting the given gRPC address. Extra dial
// options are appended after the default insecure credentials.
func NewClient(addr string, log *slog.Logger, opts ...grpc.DialOption) *Client {
	return &Client{addr: addr, log: log, opts: opts}
}

// Subscribe streams events of the given types (all types when empty) into
// fn. It blocks until ctx is cancelled or the stream ends.
func (c *Client) Subscribe(ctx context.Context, types []string, fn func(Event)) error {
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, c.opts...)
	conn, err := grpc.NewClient(c.addr, opts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	stream, err := conn.NewStream(ctx, &EventsServiceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}

	list := make([]any, len(types))
	for i, t := range types {
		list[i] = t
	}
	req, err := structpb.NewStruct(map[string]any{"types": list})
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing send: %w", err)
	}

	c.log.Info("connected to event stream", "addr", c.addr)

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving event: %w", err)
		}
		fn(StructToEvent(msg))
	}
}
