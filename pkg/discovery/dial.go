package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "github.com/hamzalsheikh/howl/pkg/discovery"

const defaultConnectTimeout = 10 * time.Second

type options struct {
	creds          credentials.TransportCredentials
	connectTimeout time.Duration
	dialOpts       []grpc.DialOption
	logger         zerolog.Logger
	tracer         trace.Tracer
}

// Option configures Dial and ValidateAndRegister.
type Option func(*options)

// WithInsecure disables transport security.
func WithInsecure() Option {
	return func(o *options) { o.creds = insecure.NewCredentials() }
}

// WithTLS sets the transport credentials. The default is TLS with the
// system roots.
func WithTLS(creds credentials.TransportCredentials) Option {
	return func(o *options) { o.creds = creds }
}

// WithConnectTimeout bounds how long Dial waits for the channel to be ready.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithDialOptions appends raw gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

func newOptions(opts []Option) *options {
	o := &options{
		creds:          credentials.NewClientTLSFromCert(nil, ""),
		connectTimeout: defaultConnectTimeout,
		logger:         zerolog.Nop(),
		tracer:         otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dial opens the channel to the registry and blocks until it is ready.
// Failures are returned as *ConnectError.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*grpc.ClientConn, error) {
	return dial(ctx, endpoint, newOptions(opts))
}

func dial(ctx context.Context, endpoint string, o *options) (*grpc.ClientConn, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(o.creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, o.dialOpts...)

	conn, err := grpc.NewClient(endpoint, dialOpts...)
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			o.logger.Debug().Str("endpoint", endpoint).Msg("connected to registry")
			return conn, nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			conn.Close()
			return nil, &ConnectError{Endpoint: endpoint, Err: fmt.Errorf("connection state %s", state)}
		}
		if !conn.WaitForStateChange(ctx, state) {
			conn.Close()
			return nil, &ConnectError{Endpoint: endpoint, Err: ctx.Err()}
		}
	}
}
