package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

func newTestGRPCClient(t *testing.T) *grpc.ClientConn {
	t.Helper()
	s, _ := newTestServer(t)

	lis := bufconn.Listen(1 << 20)
	srv := newGRPCServer(slog.New(slog.NewTextHandler(io.Discard, nil)), s)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	require.NoError(t, err)
	out := new(structpb.Struct)
	err = conn.Invoke(t.Context(), "/"+geolocationServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPCRoundTrip(t *testing.T) {
	conn := newTestGRPCClient(t)

	geo, err := invoke(t, conn, "GetGeoLocation", map[string]any{"x": 30.5, "y": 2.25})
	require.NoError(t, err)
	lat := geo.Fields["latitude"].GetNumberValue()
	lon := geo.Fields["longitude"].GetNumberValue()

	px, err := invoke(t, conn, "GetPixelLocation", map[string]any{"latitude": lat, "longitude": lon})
	require.NoError(t, err)
	assert.InDelta(t, 30.5, px.Fields["x"].GetNumberValue(), 1e-2)
	assert.InDelta(t, 2.25, px.Fields["y"].GetNumberValue(), 1e-2)

	found, err := invoke(t, conn, "FindPixel", map[string]any{"latitude": lat, "longitude": lon})
	require.NoError(t, err)
	assert.Equal(t, 30.5, found.Fields["x"].GetNumberValue())
	assert.Equal(t, 2.5, found.Fields["y"].GetNumberValue())
}

func TestGRPCErrors(t *testing.T) {
	conn := newTestGRPCClient(t)

	testCases := []struct {
		name   string
		method string
		in     map[string]any
		code   codes.Code
	}{
		{name: "missing field", method: "GetGeoLocation", in: map[string]any{"x": 1.0}, code: codes.InvalidArgument},
		{name: "wrong type", method: "GetPixelLocation", in: map[string]any{"latitude": "45", "longitude": 10.0}, code: codes.InvalidArgument},
		{name: "outside image", method: "GetGeoLocation", in: map[string]any{"x": 400.0, "y": 1.0}, code: codes.NotFound},
		{name: "not covered", method: "GetPixelLocation", in: map[string]any{"latitude": -30.0, "longitude": 100.0}, code: codes.NotFound},
		{name: "finder not covered", method: "FindPixel", in: map[string]any{"latitude": -30.0, "longitude": 100.0}, code: codes.NotFound},
		{name: "batch without points", method: "LocateBatch", in: map[string]any{}, code: codes.InvalidArgument},
		{name: "batch short pair", method: "LocateBatch", in: map[string]any{"points": []any{[]any{45.0}}}, code: codes.InvalidArgument},
		{name: "batch non numeric", method: "LocateBatch", in: map[string]any{"points": []any{[]any{"a", 1.0}}}, code: codes.InvalidArgument},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := invoke(t, conn, tc.method, tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.code, status.Code(err))
		})
	}
}

func TestGRPCLocateBatch(t *testing.T) {
	conn := newTestGRPCClient(t)

	lon, lat := testSwath(33, 20)
	out, err := invoke(t, conn, "LocateBatch", map[string]any{
		"points": []any{[]any{lat, lon}, []any{-30.0, 100.0}},
	})
	require.NoError(t, err)

	results := out.Fields["results"].GetListValue().GetValues()
	require.Len(t, results, 2)

	first := results[0].GetStructValue().GetFields()
	assert.True(t, first["found"].GetBoolValue())
	assert.InDelta(t, 33.5, first["x"].GetNumberValue(), 1e-2)
	assert.InDelta(t, 20.5, first["y"].GetNumberValue(), 1e-2)

	second := results[1].GetStructValue().GetFields()
	assert.False(t, second["found"].GetBoolValue())
	assert.NotContains(t, second, "x")
}

func TestGRPCUnknownMethod(t *testing.T) {
	conn := newTestGRPCClient(t)

	_, err := invoke(t, conn, "GetTile", map[string]any{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestGRPCServiceDescriptor(t *testing.T) {
	d, err := protoregistry.GlobalFiles.FindDescriptorByName(geolocationServiceName)
	require.NoError(t, err)
	sd, ok := d.(protoreflect.ServiceDescriptor)
	require.True(t, ok)
	assert.Equal(t, geolocationProtoFile, sd.ParentFile().Path())

	require.Equal(t, len(geolocationServiceDesc.Methods), sd.Methods().Len())
	for _, m := range geolocationServiceDesc.Methods {
		md := sd.Methods().ByName(protoreflect.Name(m.MethodName))
		require.NotNil(t, md, m.MethodName)
		assert.Equal(t, protoreflect.FullName("google.protobuf.Struct"), md.Input().FullName())
		assert.Equal(t, protoreflect.FullName("google.protobuf.Struct"), md.Output().FullName())
	}
}

func TestGRPCReflectionDescribesService(t *testing.T) {
	conn := newTestGRPCClient(t)

	stream, err := reflectionpb.NewServerReflectionClient(conn).ServerReflectionInfo(t.Context())
	require.NoError(t, err)

	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{},
	}))
	resp, err := stream.Recv()
	require.NoError(t, err)
	var services []string
	for _, s := range resp.GetListServicesResponse().GetService() {
		services = append(services, s.GetName())
	}
	assert.Contains(t, services, geolocationServiceName)

	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: geolocationServiceName},
	}))
	resp, err = stream.Recv()
	require.NoError(t, err)
	files := resp.GetFileDescriptorResponse().GetFileDescriptorProto()
	require.NotEmpty(t, files, "reflection error: %v", resp.GetErrorResponse())

	var fdp descriptorpb.FileDescriptorProto
	require.NoError(t, proto.Unmarshal(files[0], &fdp))
	assert.Equal(t, geolocationProtoFile, fdp.GetName())
	require.Len(t, fdp.GetService(), 1)
	assert.Len(t, fdp.GetService()[0].GetMethod(), len(geolocationMethods))
	require.NoError(t, stream.CloseSend())
}
