// Package grpcserver exposes pattern analysis and tiling over gRPC.
//
// Messages are google.protobuf.Struct values so no generated stubs are
// needed; the service descriptor below is written by hand.
package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "pixgrid.v1.GridService"

const (
	methodAnalyzePattern = "/" + ServiceName + "/AnalyzePattern"
	methodSplitTiles     = "/" + ServiceName + "/SplitTiles"
)

// GridServiceServer is implemented by Server.
type GridServiceServer interface {
	AnalyzePattern(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SplitTiles(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterGridServiceServer adds srv to s.
func RegisterGridServiceServer(s grpc.ServiceRegistrar, srv GridServiceServer) {
	s.RegisterService(&gridServiceDesc, srv)
}

var gridServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GridServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AnalyzePattern", Handler: analyzePatternHandler},
		{MethodName: "SplitTiles", Handler: splitTilesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pixgrid/v1/grid.proto",
}

func analyzePatternHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GridServiceServer).AnalyzePattern(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAnalyzePattern}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GridServiceServer).AnalyzePattern(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func splitTilesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GridServiceServer).SplitTiles(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSplitTiles}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GridServiceServer).SplitTiles(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
