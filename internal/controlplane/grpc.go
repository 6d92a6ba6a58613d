package controlplane

import (
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// frameCodec marshals gRPC messages as JSON instead of protobuf, letting
// the ProviderStream RPC exchange the identical Frame shape the WebSocket
// ingress uses, without a protoc-generated .pb.go stub. Servers using this
// codec are forced onto it with grpc.ForceServerCodec, so no content-type
// negotiation with protobuf-speaking clients is attempted.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error)    { return json.Marshal(v) }
func (frameCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (frameCodec) Name() string                     { return "json" }

func init() {
	encoding.RegisterCodec(frameCodec{})
}

// providerStreamServiceDesc is the hand-constructed analogue of a
// protoc-generated ServiceDesc for the bidirectional ProviderStream RPC: a
// provider dials this service and exchanges the same Frame messages the
// control plane's WebSocket listener uses, over a long-lived gRPC stream
// instead of a raw socket.
var providerStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: "toolgated.controlplane.ProviderStream",
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       providerStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/controlplane/provider_stream",
}

func providerStreamHandler(srv any, stream grpc.ServerStream) error {
	s, ok := srv.(*Server)
	if !ok {
		return fmt.Errorf("providerStreamHandler: unexpected service type %T", srv)
	}
	return s.runGRPCStream(stream)
}

// runGRPCStream is the ProviderStream read-handle-reply loop: it shares
// ControlPlaneSession.Handle with the WebSocket transport so the two
// ingresses never diverge on message semantics, only on framing.
func (s *Server) runGRPCStream(stream grpc.ServerStream) error {
	ctx := stream.Context()
	core := &ControlPlaneSession{srv: s}
	for {
		var frame Frame
		if err := stream.RecvMsg(&frame); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		reply := core.Handle(ctx, &frame)
		if reply == nil {
			continue
		}
		if err := stream.SendMsg(reply); err != nil {
			return err
		}
	}
}
