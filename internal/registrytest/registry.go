// Package registrytest runs an in-process registry double for tests.
package registrytest

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hamzalsheikh/howl/pkg/howlpb"
	"github.com/hamzalsheikh/howl/pkg/registry"
	"github.com/hamzalsheikh/howl/pkg/version"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ping is one heartbeat as seen by the registry.
type Ping struct {
	ID    string
	Start time.Time
	End   time.Time
}

// Registry implements the version and discovery services and records every
// call. Set the exported fields before Start.
type Registry struct {
	howlpb.UnimplementedVersionServiceServer
	howlpb.UnimplementedDiscoveryServiceServer

	// EchoVersion, when set, is returned by Validate whatever the caller sent.
	// Otherwise Validate behaves like the real responder.
	EchoVersion string
	// RejectVersion makes Validate refuse every caller.
	RejectVersion bool
	// NextID hands out identities. Defaults to svc-1, svc-2, ...
	NextID      func() string
	RegisterErr error
	// HeartbeatFunc decides the outcome of each heartbeat.
	HeartbeatFunc  func(id string) error
	HeartbeatDelay time.Duration

	mu            sync.Mutex
	validations   []string
	registrations []registry.Registration
	pings         []Ping
	issued        int
}

func (r *Registry) Validate(ctx context.Context, req *howlpb.VersionRequest) (*howlpb.VersionResponse, error) {
	r.mu.Lock()
	r.validations = append(r.validations, req.GetValue())
	r.mu.Unlock()

	if r.RejectVersion {
		return nil, status.Error(codes.InvalidArgument, "version mismatch")
	}
	if r.EchoVersion != "" {
		return howlpb.NewVersionResponse(r.EchoVersion), nil
	}
	if err := version.Validate(req.GetValue()); err != nil {
		return nil, status.Error(codes.InvalidArgument, "version mismatch")
	}
	return howlpb.NewVersionResponse(version.Version()), nil
}

func (r *Registry) Register(ctx context.Context, req *howlpb.RegisterRequest) (*howlpb.RegisterResponse, error) {
	reg, err := registry.FromProto(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations = append(r.registrations, reg)
	if r.RegisterErr != nil {
		return nil, r.RegisterErr
	}
	r.issued++
	id := fmt.Sprintf("svc-%d", r.issued)
	if r.NextID != nil {
		id = r.NextID()
	}
	return howlpb.NewRegisterResponse(id), nil
}

func (r *Registry) Heartbeat(ctx context.Context, req *howlpb.HeartbeatPayload) (*howlpb.HeartbeatAck, error) {
	start := time.Now()
	if r.HeartbeatDelay > 0 {
		time.Sleep(r.HeartbeatDelay)
	}
	var err error
	if r.HeartbeatFunc != nil {
		err = r.HeartbeatFunc(req.GetValue())
	}

	r.mu.Lock()
	r.pings = append(r.pings, Ping{ID: req.GetValue(), Start: start, End: time.Now()})
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &howlpb.HeartbeatAck{}, nil
}

func (r *Registry) Validations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.validations...)
}

func (r *Registry) Registrations() []registry.Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.Registration(nil), r.registrations...)
}

func (r *Registry) Pings() []Ping {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Ping(nil), r.pings...)
}

// Start serves r on a loopback port until the test ends and returns the
// address.
func Start(t testing.TB, r *Registry, opts ...grpc.ServerOption) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer(opts...)
	howlpb.RegisterVersionServiceServer(srv, r)
	howlpb.RegisterDiscoveryServiceServer(srv, r)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}
