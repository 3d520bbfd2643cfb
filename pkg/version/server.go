package version

import (
	"context"

	"github.com/hamzalsheikh/howl/pkg/howlpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server answers VersionService.Validate for peers connecting to this process.
type Server struct {
	howlpb.UnimplementedVersionServiceServer
	local  string
	logger zerolog.Logger
}

func NewServer(logger zerolog.Logger) *Server {
	return &Server{local: Version(), logger: logger}
}

func (s *Server) Validate(ctx context.Context, req *howlpb.VersionRequest) (*howlpb.VersionResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "version is required")
	}
	if err := match(s.local, req.GetValue()); err != nil {
		s.logger.Debug().Str("local", s.local).Str("remote", req.GetValue()).Msg("rejected peer version")
		return nil, status.Error(codes.InvalidArgument, "version mismatch")
	}
	return howlpb.NewVersionResponse(s.local), nil
}
