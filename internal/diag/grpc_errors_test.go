package diag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/mac"
	"github.com/signalsfoundry/uav-delivery-sim/internal/routing"
	"github.com/signalsfoundry/uav-delivery-sim/internal/sim"
	"github.com/signalsfoundry/uav-delivery-sim/internal/sim/state"
	"github.com/signalsfoundry/uav-delivery-sim/internal/store"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	noRoute := &routing.NoRouteError{Source: 1, Destination: 2}
	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "invalid argument sentinel", err: fmt.Errorf("%w: bad", ErrInvalidArgument), code: codes.InvalidArgument},
		{name: "invalid request", err: state.ErrRequestInvalid, code: codes.InvalidArgument},
		{name: "degenerate pair", err: fmt.Errorf("pair: %w", core.ErrDegeneratePair), code: codes.InvalidArgument},
		{name: "node not found", err: fmt.Errorf("%w: %w", state.ErrRequestInvalid, state.ErrNodeNotFound), code: codes.NotFound},
		{name: "unknown routing node", err: routing.ErrUnknownNode, code: codes.NotFound},
		{name: "run not found", err: store.ErrRunNotFound, code: codes.NotFound},
		{name: "no route", err: noRoute, code: codes.FailedPrecondition},
		{name: "nothing routable", err: fmt.Errorf("%w: %w", sim.ErrNoRoutableDestination, noRoute), code: codes.FailedPrecondition},
		{name: "already exists", err: mac.ErrPacketExists, code: codes.AlreadyExists},
		{name: "cancelled", err: context.Canceled, code: codes.Canceled},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}

			if got == nil {
				t.Fatalf("ToStatusError(%v) = nil, want error", tc.err)
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
