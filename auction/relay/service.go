// Package relay mirrors one terminal's auction view to local screens over gRPC.
//
// Messages travel as JSON through a registered codec, so no generated
// protobuf code is involved.
package relay

import (
	"context"
	"encoding/json"

	"github.com/linluma/gavel/shared/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	codecName   = "json"
	serviceName = "gavel.relay.ViewRelay"

	currentMethod = "/" + serviceName + "/Current"
	watchMethod   = "/" + serviceName + "/Watch"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CurrentRequest asks for the latest update
type CurrentRequest struct{}

// WatchRequest opens an update stream
type WatchRequest struct {
	Subscriber string `json:"subscriber,omitempty"`
}

// Update is one mirrored state of the source terminal
type Update struct {
	Sequence   uint64             `json:"sequence"`
	View       models.AuctionView `json:"view"`
	Connection string             `json:"connection"`
	Display    int                `json:"display"`
	Notice     string             `json:"notice,omitempty"`
}

// ViewRelayServer is the service implementation
type ViewRelayServer interface {
	Current(context.Context, *CurrentRequest) (*Update, error)
	Watch(*WatchRequest, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ViewRelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Current", Handler: currentHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "gavel/relay",
}

func currentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CurrentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ViewRelayServer).Current(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: currentMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ViewRelayServer).Current(ctx, req.(*CurrentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ViewRelayServer).Watch(in, stream)
}
