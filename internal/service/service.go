package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/hamzalsheikh/howl/pkg/discovery"
	"github.com/hamzalsheikh/howl/pkg/howlpb"
	"github.com/hamzalsheikh/howl/pkg/registry"
	"github.com/hamzalsheikh/howl/pkg/version"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Telemetry is what the agent logs and reports through.
type Telemetry struct {
	Logger zerolog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// Agent is a running service: a gRPC server answering version checks and
// health probes, a registration with the registry, and the heartbeat that
// keeps it alive.
type Agent struct {
	cfg    Config
	logger zerolog.Logger

	grpcServer *grpc.Server
	health     *health.Server
	grpcLis    net.Listener

	statusServer *http.Server
	statusLis    net.Listener

	conn      *grpc.ClientConn
	heartbeat *discovery.Heartbeat

	cancel context.CancelFunc
	done   chan struct{}
}

// Start brings the agent up: it starts serving, registers with the registry
// and spawns the heartbeat. Nothing is left running when it fails.
func Start(ctx context.Context, cfg Config, tel Telemetry) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:    cfg,
		logger: tel.Logger,
		done:   make(chan struct{}),
	}
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.serveGRPC(); err != nil {
		a.cancel()
		return nil, err
	}

	opts := []discovery.Option{
		discovery.WithConnectTimeout(cfg.ConnectTimeout),
		discovery.WithLogger(tel.Logger),
	}
	if cfg.Insecure {
		opts = append(opts, discovery.WithInsecure())
	}
	if tel.Tracer != nil {
		opts = append(opts, discovery.WithTracer(tel.Tracer))
	}

	reg := cfg.registration(a.grpcLis.Addr())
	id, conn, err := discovery.ValidateAndRegister(ctx, cfg.RegistryAddr, reg, opts...)
	if err != nil {
		a.stopServers(context.Background())
		a.cancel()
		return nil, err
	}
	a.conn = conn

	a.heartbeat, err = discovery.SpawnHeartbeat(ctx, discovery.HeartbeatConfig{
		Interval:   cfg.HeartbeatInterval,
		ID:         id,
		Conn:       conn,
		Jitter:     cfg.HeartbeatJitter,
		Policy:     cfg.HeartbeatPolicy,
		MaxRetries: cfg.MaxRetries,
		Reregister: discovery.Reregisterer(conn, reg, opts...),
		Logger:     tel.Logger,
		Meter:      tel.Meter,
		Tracer:     tel.Tracer,
	})
	if err != nil {
		_ = conn.Close()
		a.stopServers(context.Background())
		a.cancel()
		return nil, err
	}

	if err := a.serveStatus(); err != nil {
		_ = a.heartbeat.Stop()
		_ = conn.Close()
		a.stopServers(context.Background())
		a.cancel()
		return nil, err
	}

	go a.watch(ctx)

	a.logger.Info().
		Str("id", id).
		Str("grpc_addr", a.GRPCAddr()).
		Str("status_addr", a.StatusAddr()).
		Msgf("%v started", cfg.ServiceName)
	return a, nil
}

func (a *Agent) serveGRPC() error {
	lis, err := net.Listen("tcp", net.JoinHostPort(a.cfg.Host, a.cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	a.grpcLis = lis

	a.grpcServer = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(errorInterceptor(a.logger)),
	)
	howlpb.RegisterVersionServiceServer(a.grpcServer, version.NewServer(a.logger))

	a.health = health.NewServer()
	a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(howlpb.VersionServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(a.grpcServer, a.health)

	go func() {
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			a.logger.Error().Err(err).Msg("grpc server stopped")
			a.cancel()
		}
	}()
	return nil
}

func (a *Agent) serveStatus() error {
	if a.cfg.StatusAddr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", a.cfg.StatusAddr)
	if err != nil {
		return fmt.Errorf("listen status: %w", err)
	}
	a.statusLis = lis
	a.statusServer = &http.Server{Handler: a.statusHandler()}

	go func() {
		if err := a.statusServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("status server stopped")
			a.cancel()
		}
	}()
	return nil
}

// watch marks the agent unhealthy once the heartbeat gives up and closes
// Done when either the heartbeat or ctx ends.
func (a *Agent) watch(ctx context.Context) {
	defer close(a.done)
	select {
	case <-a.heartbeat.Done():
		if err := a.heartbeat.Err(); err != nil {
			a.logger.Error().Err(err).Msg("lost registration")
			a.health.Shutdown()
		}
	case <-ctx.Done():
	}
}

// Done is closed once the agent stops heartbeating.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Err returns the failure that ended the heartbeat, if any.
func (a *Agent) Err() error { return a.heartbeat.Err() }

// ID returns the identity the registry currently knows the agent by.
func (a *Agent) ID() string { return a.heartbeat.ID() }

func (a *Agent) GRPCAddr() string { return a.grpcLis.Addr().String() }

// StatusAddr is empty when the status endpoint is disabled.
func (a *Agent) StatusAddr() string {
	if a.statusLis == nil {
		return ""
	}
	return a.statusLis.Addr().String()
}

// Shutdown stops the heartbeat, closes the registry channel and drains both
// servers. It returns the heartbeat's terminal error, if any.
func (a *Agent) Shutdown(ctx context.Context) error {
	err := a.heartbeat.Stop()
	a.cancel()
	<-a.done

	a.health.Shutdown()
	if cerr := a.conn.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	a.stopServers(ctx)
	a.logger.Info().Msgf("%v stopped", a.cfg.ServiceName)
	return err
}

func (a *Agent) stopServers(ctx context.Context) {
	if a.statusServer != nil {
		if err := a.statusServer.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("status server shutdown")
		}
	}

	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		a.grpcServer.Stop()
	}
}

func (c Config) registration(addr net.Addr) registry.Registration {
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		port = c.GRPCPort
	}
	return registry.Registration{
		ServiceName:      c.ServiceName,
		ServiceURL:       fmt.Sprintf("grpc://%s", net.JoinHostPort(c.Host, port)),
		RequiredServices: c.RequiredServices,
		Metadata:         c.Metadata,
	}
}
