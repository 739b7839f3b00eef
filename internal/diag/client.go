package diag

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the Diagnostics service over a client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPackets fetches packet snapshots. filter may be nil.
func (c *Client) GetPackets(ctx context.Context, filter *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetPackets, filter, opts...)
}

// GetEllipses fetches pruning regions.
func (c *Client) GetEllipses(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetEllipses, nil, opts...)
}

// GetGroups fetches virtual-root groups.
func (c *Client) GetGroups(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetGroups, nil, opts...)
}

// GetRoutes fetches planned routes.
func (c *Client) GetRoutes(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetRoutes, nil, opts...)
}

// GetOutcomes fetches outcomes of the live run, or of a stored run when
// runID is not empty.
func (c *Client) GetOutcomes(ctx context.Context, runID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if runID != "" {
		in.Fields["run_id"] = structpb.NewStringValue(runID)
	}
	return c.invoke(ctx, MethodGetOutcomes, in, opts...)
}

// Schedule asks for one packet from source to each destination.
func (c *Client) Schedule(ctx context.Context, source int64, destinations []int64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	dsts := make([]*structpb.Value, len(destinations))
	for i, d := range destinations {
		dsts[i] = structpb.NewNumberValue(float64(d))
	}
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"source":       structpb.NewNumberValue(float64(source)),
		"destinations": structpb.NewListValue(&structpb.ListValue{Values: dsts}),
	}}
	return c.invoke(ctx, MethodSchedule, in, opts...)
}

// Advance steps the simulation by rounds, or until done when rounds <= 0.
func (c *Client) Advance(ctx context.Context, rounds int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if rounds <= 0 {
		in.Fields["until_done"] = structpb.NewBoolValue(true)
	} else {
		in.Fields["rounds"] = structpb.NewNumberValue(float64(rounds))
	}
	return c.invoke(ctx, MethodAdvance, in, opts...)
}
