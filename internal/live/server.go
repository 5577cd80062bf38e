package live

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method name of the event stream.
const subscribeMethod = "/algodesk.Events/Subscribe"

// EventsServer is the server API of the algodesk.Events service. Messages
// are google.protobuf.Struct values so no generated code is needed.
type EventsServer interface {
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

// EventsServiceDesc describes the algodesk.Events service.
var EventsServiceDesc = grpc.ServiceDesc{
	ServiceName: "algodesk.Events",
	HandlerType: (*EventsServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "algodesk/events",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(EventsServer).Subscribe(req, stream)
}

// Server streams bus events to gRPC clients.
type Server struct {
	bus     *Bus
	log     *slog.Logger
	bufSize int
}

// NewServer creates a gRPC server backed by the given bus.
func NewServer(bus *Bus, log *slog.Logger) *Server {
	return &Server{bus: bus, log: log, bufSize: 1024}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&EventsServiceDesc, s)
}

// Subscribe streams events until the client disconnects. The request may
// carry a "types" list restricting which event types are sent.
func (s *Server) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	filter := typeFilter(req)

	subID, ch := s.bus.Subscribe(s.bufSize)
	defer s.bus.Unsubscribe(subID)

	s.log.Info("grpc client subscribed", "subID", subID, "types", len(filter))

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if len(filter) > 0 && !filter[evt.Type] {
				continue
			}
			msg, err := EventToStruct(evt)
			if err != nil {
				s.log.Warn("skipping unencodable event", "type", evt.Type, "error", err)
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func typeFilter(req *structpb.Struct) map[string]bool {
	v, ok := req.GetFields()["types"]
	if !ok {
		return nil
	}
	filter := make(map[string]bool)
	for _, item := range v.GetListValue().GetValues() {
		if s := item.GetStringValue(); s != "" {
			filter[s] = true
		}
	}
	return filter
}

// EventToStruct encodes evt through its JSON form so the payload keeps the
// same field names as the WebSocket channel.
func EventToStruct(evt Event) (*structpb.Struct, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return structpb.NewStruct(m)
}

// StructToEvent decodes a message produced by EventToStruct. Data is left
// in its generic JSON form.
func StructToEvent(msg *structpb.Struct) Event {
	m := msg.AsMap()
	evt := Event{Data: m["data"]}
	evt.Type, _ = m["type"].(string)
	if ts, ok := m["time"].(string); ok {
		evt.Time, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return evt
}
