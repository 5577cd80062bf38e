package api

import (
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"algodesk/internal/live"
)

// newGRPCServer builds the gRPC server that streams bus events.
func newGRPCServer(bus *live.Bus, log *slog.Logger) *grpc.Server {
	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	)
	live.NewServer(bus, log.With("component", "grpc")).RegisterGRPC(gs)
	return gs
}
