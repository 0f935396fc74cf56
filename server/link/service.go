package link

import (
	"context"

	"google.golang.org/grpc"

	"github.com/luno/spantree/api"
)

const (
	serviceName = "spantree.Link"
	relayMethod = "/" + serviceName + "/Relay"
)

// Receiver accepts messages relayed by a linked server.
type Receiver interface {
	Receive(ctx context.Context, m api.Message) error
}

func relayHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var m api.Message
	if err := dec(&m); err != nil {
		return nil, err
	}
	handle := func(ctx context.Context, req any) (any, error) {
		err := srv.(Receiver).Receive(ctx, *req.(*api.Message))
		if err != nil {
			return nil, err
		}
		return &api.Ack{}, nil
	}
	if interceptor == nil {
		return handle(ctx, &m)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: relayMethod}
	return interceptor(ctx, &m, info, handle)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Receiver)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Relay", Handler: relayHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// NewServer returns a grpc server accepting relayed messages for r.
func NewServer(r Receiver, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ForceServerCodec(codec{}),
		grpc.UnaryInterceptor(serverReporter),
	)
	s := grpc.NewServer(opts...)
	s.RegisterService(&serviceDesc, r)
	return s
}
