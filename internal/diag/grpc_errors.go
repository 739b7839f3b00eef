package diag

import (
	"context"
	"errors"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/mac"
	"github.com/signalsfoundry/uav-delivery-sim/internal/routing"
	"github.com/signalsfoundry/uav-delivery-sim/internal/sim"
	"github.com/signalsfoundry/uav-delivery-sim/internal/sim/state"
	"github.com/signalsfoundry/uav-delivery-sim/internal/store"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrNotFound is used when a requested packet or run cannot be located.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is used for malformed request payloads.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, ErrNotFound),
		errors.Is(err, state.ErrNodeNotFound),
		errors.Is(err, routing.ErrUnknownNode),
		errors.Is(err, store.ErrRunNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, state.ErrRequestInvalid),
		errors.Is(err, routing.ErrInvalidRequest),
		errors.Is(err, core.ErrDegeneratePair),
		errors.Is(err, mac.ErrInvalidPacket):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, sim.ErrNoRoutableDestination),
		errors.Is(err, routing.ErrNoRoute):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, state.ErrNodeExists),
		errors.Is(err, mac.ErrPacketExists):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
