package rpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC full service name registered with the server
// and dialed by the client.
const ServiceName = "teamcollection.ClusterControlService"

// ClusterControlServer is implemented by the cluster controller side:
// it answers worker recruitment and storage initialize/remove requests,
// and streams failure-monitor updates.
type ClusterControlServer interface {
	RequestWorker(ctx context.Context, args *RequestWorkerArgs) (*RequestWorkerReply, error)
	InitializeStorage(ctx context.Context, args *InitializeStorageArgs) (*InitializeStorageReply, error)
	RemoveStorage(ctx context.Context, args *RemoveStorageArgs) (*RemoveStorageReply, error)
	WatchFailure(args *WatchFailureArgs, stream WatchFailureServer) error
}

// WatchFailureServer is the server-streaming handle passed to
// ClusterControlServer.WatchFailure.
type WatchFailureServer interface {
	Send(*WatchFailureUpdate) error
	Context() context.Context
}

type watchFailureServer struct {
	grpc.ServerStream
}

func (w *watchFailureServer) Send(u *WatchFailureUpdate) error { return w.ServerStream.SendMsg(u) }

func requestWorkerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RequestWorkerArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterControlServer).RequestWorker(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/RequestWorker"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterControlServer).RequestWorker(ctx, req.(*RequestWorkerArgs))
	}
	return interceptor(ctx, in, info, handler)
}

func initializeStorageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InitializeStorageArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterControlServer).InitializeStorage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/InitializeStorage"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterControlServer).InitializeStorage(ctx, req.(*InitializeStorageArgs))
	}
	return interceptor(ctx, in, info, handler)
}

func removeStorageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RemoveStorageArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterControlServer).RemoveStorage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/RemoveStorage"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterControlServer).RemoveStorage(ctx, req.(*RemoveStorageArgs))
	}
	return interceptor(ctx, in, info, handler)
}

func watchFailureHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(WatchFailureArgs)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ClusterControlServer).WatchFailure(in, &watchFailureServer{ServerStream: stream})
}

// ServiceDesc is registered against a *grpc.Server with
// grpc.RegisterService(s, &ServiceDesc, impl), the hand-built
// equivalent of a proto-generated _grpc.pb.go's service descriptor.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClusterControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestWorker", Handler: requestWorkerHandler},
		{MethodName: "InitializeStorage", Handler: initializeStorageHandler},
		{MethodName: "RemoveStorage", Handler: removeStorageHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchFailure", Handler: watchFailureHandler, ServerStreams: true},
	},
	Metadata: "teamcollection/rpcapi.proto",
}

// RegisterClusterControlServer binds impl to s using ServiceDesc.
func RegisterClusterControlServer(s grpc.ServiceRegistrar, impl ClusterControlServer) {
	s.RegisterService(&ServiceDesc, impl)
}
