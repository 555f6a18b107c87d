package stringdbserver

import (
	"context"

	"google.golang.org/grpc"
)

// The service descriptor is written by hand; the Codec in wire.go replaces the
// proto codec, so no generated code is required.

func insertHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InsertRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*StringDBServer).Insert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/Insert",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*StringDBServer).Insert(ctx, req.(*InsertRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func insertRangeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InsertRangeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*StringDBServer).InsertRange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/InsertRange",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*StringDBServer).InsertRange(ctx, req.(*InsertRangeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func scanHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(ScanRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*StringDBServer).Scan(in, stream)
}

// ScanStreamDesc is shared with the client to open the scan stream.
var ScanStreamDesc = grpc.StreamDesc{
	StreamName:    "Scan",
	Handler:       scanHandler,
	ServerStreams: true,
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Insert",
			Handler:    insertHandler,
		},
		{
			MethodName: "InsertRange",
			Handler:    insertRangeHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		ScanStreamDesc,
	},
}
