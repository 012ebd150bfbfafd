package rpcapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/aerokv/teamcollection/internal/diag"
)

// DiagnosticsServiceName is the gRPC full service name for the
// operator-facing status/quiet-check surface: served by ddcontrold,
// dialed by ddctl.
const DiagnosticsServiceName = "teamcollection.DiagnosticsService"

// DiagArgs and QuietCheckArgs are both empty: neither query takes
// operator-supplied parameters today.
type DiagArgs struct{}
type QuietCheckArgs struct{}

// DiagnosticsServer is implemented by a running ddcontrold: it answers
// an operator's status and quiet-check queries against the live
// registry and team store.
type DiagnosticsServer interface {
	Diag(ctx context.Context, args *DiagArgs) (*diag.TeamCollectionInfo, error)
	QuietCheck(ctx context.Context, args *QuietCheckArgs) (*diag.QuietCheckResult, error)
}

func diagHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DiagArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DiagnosticsServer).Diag(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DiagnosticsServiceName + "/Diag"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DiagnosticsServer).Diag(ctx, req.(*DiagArgs))
	}
	return interceptor(ctx, in, info, handler)
}

func quietCheckHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(QuietCheckArgs)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DiagnosticsServer).QuietCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DiagnosticsServiceName + "/QuietCheck"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DiagnosticsServer).QuietCheck(ctx, req.(*QuietCheckArgs))
	}
	return interceptor(ctx, in, info, handler)
}

// DiagnosticsServiceDesc is registered against a *grpc.Server with
// grpc.RegisterService(s, &DiagnosticsServiceDesc, impl), the hand-built
// equivalent of a proto-generated _grpc.pb.go's service descriptor.
var DiagnosticsServiceDesc = grpc.ServiceDesc{
	ServiceName: DiagnosticsServiceName,
	HandlerType: (*DiagnosticsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Diag", Handler: diagHandler},
		{MethodName: "QuietCheck", Handler: quietCheckHandler},
	},
	Metadata: "teamcollection/rpcapi.proto",
}

// RegisterDiagnosticsServer binds impl to s using DiagnosticsServiceDesc.
func RegisterDiagnosticsServer(s grpc.ServiceRegistrar, impl DiagnosticsServer) {
	s.RegisterService(&DiagnosticsServiceDesc, impl)
}

// DiagnosticsClient is ddctl's thin wrapper around a *grpc.ClientConn.
type DiagnosticsClient struct {
	conn *grpc.ClientConn
}

// DialDiagnostics connects to addr with the given dial options.
func DialDiagnostics(addr string, opts ...grpc.DialOption) (*DiagnosticsClient, error) {
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &DiagnosticsClient{conn: cc}, nil
}

func (c *DiagnosticsClient) Close() error { return c.conn.Close() }

func (c *DiagnosticsClient) callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(callContentSubtype())}
}

// Diag calls the Diag RPC.
func (c *DiagnosticsClient) Diag(ctx context.Context) (*diag.TeamCollectionInfo, error) {
	reply := new(diag.TeamCollectionInfo)
	if err := c.conn.Invoke(ctx, "/"+DiagnosticsServiceName+"/Diag", &DiagArgs{}, reply, c.callOpts()...); err != nil {
		return nil, err
	}
	return reply, nil
}

// QuietCheck calls the QuietCheck RPC.
func (c *DiagnosticsClient) QuietCheck(ctx context.Context) (*diag.QuietCheckResult, error) {
	reply := new(diag.QuietCheckResult)
	if err := c.conn.Invoke(ctx, "/"+DiagnosticsServiceName+"/QuietCheck", &QuietCheckArgs{}, reply, c.callOpts()...); err != nil {
		return nil, err
	}
	return reply, nil
}
