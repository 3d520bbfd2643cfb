package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorInterceptor logs handler errors and makes sure every one of them
// leaves the server as a gRPC status.
func errorInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}

		if s, ok := status.FromError(err); ok {
			logger.Warn().Str("method", info.FullMethod).Str("code", s.Code().String()).Msg(s.Message())
			return resp, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, status.FromContextError(err).Err()
		}
		logger.Error().Err(err).Str("method", info.FullMethod).Msg("handler failed")
		return nil, status.Error(codes.Internal, err.Error())
	}
}
