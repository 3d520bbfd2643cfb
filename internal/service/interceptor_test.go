package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorInterceptor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{name: "ok", err: nil, want: codes.OK},
		{name: "status kept", err: status.Error(codes.InvalidArgument, "version mismatch"), want: codes.InvalidArgument},
		{name: "plain error", err: errors.New("boom"), want: codes.Internal},
		{name: "wrapped plain error", err: fmt.Errorf("lookup: %w", errors.New("boom")), want: codes.Internal},
		{name: "cancelled", err: context.Canceled, want: codes.Canceled},
		{name: "deadline", err: fmt.Errorf("slow: %w", context.DeadlineExceeded), want: codes.DeadlineExceeded},
	}

	intercept := errorInterceptor(zerolog.Nop())
	info := &grpc.UnaryServerInfo{FullMethod: "/howl.version.VersionService/Validate"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := func(ctx context.Context, req any) (any, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return "resp", nil
			}

			resp, err := intercept(context.Background(), "req", info, handler)
			assert.Equal(t, tt.want, status.Code(err))
			if tt.err == nil {
				assert.Equal(t, "resp", resp)
			} else {
				_, ok := status.FromError(err)
				assert.True(t, ok, "error must carry a status")
			}
		})
	}
}
