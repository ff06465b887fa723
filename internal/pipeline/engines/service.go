package engines

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// SegmentationServiceName is the fully qualified gRPC service name. It is
// also the name reported to the standard gRPC health service.
const SegmentationServiceName = "blurcast.segmentation.v1.SegmentationService"

const segmentMethod = "/" + SegmentationServiceName + "/Segment"

// SegmentationServer is the server side of the segmentation service. The
// request carries a PNG or JPEG frame, the response a PNG mask of the same
// size.
type SegmentationServer interface {
	Segment(ctx context.Context, frame *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

var segmentationServiceDesc = grpc.ServiceDesc{
	ServiceName: SegmentationServiceName,
	HandlerType: (*SegmentationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Segment",
			Handler:    segmentHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "blurcast/segmentation/v1/segmentation.proto",
}

// RegisterSegmentationServer registers srv on a gRPC server
func RegisterSegmentationServer(s grpc.ServiceRegistrar, srv SegmentationServer) {
	s.RegisterService(&segmentationServiceDesc, srv)
}

func segmentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SegmentationServer).Segment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: segmentMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SegmentationServer).Segment(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ModelServer serves a ThresholdModel over gRPC
type ModelServer struct {
	Model ThresholdModel
}

func (s *ModelServer) Segment(ctx context.Context, frame *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	img, err := decodeImage(frame.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	data, err := encodePNG(s.Model.Mask(img))
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("mask: %v", err))
	}
	return wrapperspb.Bytes(data), nil
}

var _ SegmentationServer = (*ModelServer)(nil)
