package main

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	geolocationServiceName = "swathgeo.v1.GeolocationService"
	geolocationProtoFile   = "swathgeo/v1/geolocation.proto"
)

var geolocationMethods = []string{"GetGeoLocation", "GetPixelLocation", "FindPixel", "LocateBatch"}

// The service has no generated code, so its descriptor is built here and
// registered for server reflection.
func init() {
	fd, err := protodesc.NewFile(geolocationFileDescriptor(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("building %s: %v", geolocationProtoFile, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("registering %s: %v", geolocationProtoFile, err))
	}
}

func geolocationFileDescriptor() *descriptorpb.FileDescriptorProto {
	const structType = ".google.protobuf.Struct"
	methods := make([]*descriptorpb.MethodDescriptorProto, len(geolocationMethods))
	for i, name := range geolocationMethods {
		methods[i] = &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		}
	}
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(geolocationProtoFile),
		Package:    proto.String("swathgeo.v1"),
		Dependency: []string{"google/protobuf/struct.proto"},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String("GeolocationService"),
			Method: methods,
		}},
		Options: &descriptorpb.FileOptions{GoPackage: proto.String("github.com/akhenakh/swathgeo")},
		Syntax:  proto.String("proto3"),
	}
}

// GeolocationServer is the gRPC lookup API. Messages are google.protobuf.Struct
// values:
//
//	GetGeoLocation   {"x", "y"}              -> {"latitude", "longitude"}
//	GetPixelLocation {"latitude", "longitude"} -> {"x", "y"}
//	FindPixel        {"latitude", "longitude"} -> {"x", "y"}
//	LocateBatch      {"points": [[lat, lon], ...]} -> {"results": [...]}
type GeolocationServer interface {
	GetGeoLocation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPixelLocation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindPixel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LocateBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(GeolocationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var geolocationServiceDesc = grpc.ServiceDesc{
	ServiceName: geolocationServiceName,
	HandlerType: (*GeolocationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetGeoLocation", Handler: unaryHandler("GetGeoLocation", GeolocationServer.GetGeoLocation)},
		{MethodName: "GetPixelLocation", Handler: unaryHandler("GetPixelLocation", GeolocationServer.GetPixelLocation)},
		{MethodName: "FindPixel", Handler: unaryHandler("FindPixel", GeolocationServer.FindPixel)},
		{MethodName: "LocateBatch", Handler: unaryHandler("LocateBatch", GeolocationServer.LocateBatch)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: geolocationProtoFile,
}

// RegisterGeolocationServer registers srv on s.
func RegisterGeolocationServer(s grpc.ServiceRegistrar, srv GeolocationServer) {
	s.RegisterService(&geolocationServiceDesc, srv)
}

func unaryHandler(name string, call unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + geolocationServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GeolocationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GeolocationServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func (s *Server) GetGeoLocation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	x, y, err := numberFields(req, "x", "y")
	if err != nil {
		return nil, err
	}
	pos, ok := s.geoLocation(x, y)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no geolocation at pixel (%g, %g)", x, y)
	}
	return newStruct(map[string]any{"latitude": pos.Lat, "longitude": pos.Lon})
}

func (s *Server) GetPixelLocation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	lat, lon, err := numberFields(req, "latitude", "longitude")
	if err != nil {
		return nil, err
	}
	pos, ok := s.pixelLocation(lat, lon)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "(%g, %g) is not covered by the swath", lat, lon)
	}
	return newStruct(map[string]any{"x": pos.X, "y": pos.Y})
}

func (s *Server) FindPixel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	lat, lon, err := numberFields(req, "latitude", "longitude")
	if err != nil {
		return nil, err
	}
	pos, ok := s.findPixel(lat, lon)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "(%g, %g) is not covered by the swath", lat, lon)
	}
	return newStruct(map[string]any{"x": pos.X, "y": pos.Y})
}

func (s *Server) LocateBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	list := req.GetFields()["points"].GetListValue()
	if list == nil {
		return nil, status.Error(codes.InvalidArgument, "points must be a list of [lat, lon] pairs")
	}
	points := make([][]float64, len(list.GetValues()))
	for i, v := range list.GetValues() {
		pair := v.GetListValue().GetValues()
		points[i] = make([]float64, len(pair))
		for j, n := range pair {
			if _, ok := n.GetKind().(*structpb.Value_NumberValue); !ok {
				return nil, status.Errorf(codes.InvalidArgument, "point %d: values must be numbers", i)
			}
			points[i][j] = n.GetNumberValue()
		}
	}

	results, err := s.locateBatch(ctx, points)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	out := make([]any, len(results))
	for i, r := range results {
		m := map[string]any{"latitude": r.Latitude, "longitude": r.Longitude, "found": r.Found}
		if r.Found {
			m["x"], m["y"] = *r.X, *r.Y
		}
		out[i] = m
	}
	return newStruct(map[string]any{"results": out})
}

func numberFields(req *structpb.Struct, a, b string) (float64, float64, error) {
	fields := req.GetFields()
	get := func(name string) (float64, error) {
		v, ok := fields[name]
		if !ok {
			return 0, status.Errorf(codes.InvalidArgument, "missing field %q", name)
		}
		if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
			return 0, status.Errorf(codes.InvalidArgument, "field %q must be a number", name)
		}
		return v.GetNumberValue(), nil
	}
	va, err := get(a)
	if err != nil {
		return 0, 0, err
	}
	vb, err := get(b)
	if err != nil {
		return 0, 0, err
	}
	return va, vb, nil
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encoding response: %v", err))
	}
	return st, nil
}
