package discovery

import (
	"context"
	"errors"

	"github.com/hamzalsheikh/howl/pkg/howlpb"
	"github.com/hamzalsheikh/howl/pkg/registry"
	"github.com/hamzalsheikh/howl/pkg/version"
	"google.golang.org/grpc"
)

// ValidateAndRegister connects to the registry, proves protocol
// compatibility and registers reg. It returns the assigned identity with the
// open channel; the caller owns both and must close the channel.
//
// The steps run in order and the first failure ends the call: a
// *ConnectError, the negotiation error (a *version.MismatchError when the
// versions differ) or a *RegistrationError. reg is passed through as is;
// judging its contents is up to the registry.
func ValidateAndRegister(ctx context.Context, endpoint string, reg registry.Registration, opts ...Option) (string, *grpc.ClientConn, error) {
	o := newOptions(opts)
	ctx, span := o.tracer.Start(ctx, "validate-and-register")
	defer span.End()

	conn, err := dial(ctx, endpoint, o)
	if err != nil {
		span.RecordError(err)
		o.logger.Error().Err(err).Str("endpoint", endpoint).Msg("couldn't connect to registry")
		return "", nil, err
	}

	id, err := validateAndRegister(ctx, conn, reg, o)
	if err != nil {
		span.RecordError(err)
		conn.Close()
		return "", nil, err
	}
	return id, conn, nil
}

// Reregisterer returns a function that negotiates and registers reg again on
// an already open channel. It is meant for HeartbeatConfig.Reregister.
func Reregisterer(conn grpc.ClientConnInterface, reg registry.Registration, opts ...Option) func(context.Context) (string, error) {
	o := newOptions(opts)
	return func(ctx context.Context) (string, error) {
		ctx, span := o.tracer.Start(ctx, "reregister")
		defer span.End()
		id, err := validateAndRegister(ctx, conn, reg, o)
		if err != nil {
			span.RecordError(err)
		}
		return id, err
	}
}

func validateAndRegister(ctx context.Context, conn grpc.ClientConnInterface, reg registry.Registration, o *options) (string, error) {
	remote, err := version.Negotiate(ctx, conn)
	if err != nil {
		if version.IsMismatch(err) {
			o.logger.Error().Err(err).Msg("registry speaks a different protocol version")
		} else {
			o.logger.Error().Err(err).Msg("couldn't validate version with registry")
		}
		return "", err
	}
	o.logger.Debug().Str("version", remote).Msg("protocol version accepted")

	id, err := Register(ctx, conn, reg)
	if err != nil {
		o.logger.Error().Err(err).Str("service", string(reg.ServiceName)).Msg("registration failed")
		return "", err
	}
	o.logger.Info().Str("service", string(reg.ServiceName)).Str("id", id).Msg("registered with registry")
	return id, nil
}

// Register submits reg over conn and returns the identity the registry
// assigned. It does not negotiate versions; use ValidateAndRegister unless
// the channel has already been validated.
func Register(ctx context.Context, conn grpc.ClientConnInterface, reg registry.Registration) (string, error) {
	req, err := reg.ToProto()
	if err != nil {
		return "", &RegistrationError{Err: err}
	}
	res, err := howlpb.NewDiscoveryServiceClient(conn).Register(ctx, req)
	if err != nil {
		return "", &RegistrationError{Err: err}
	}
	if res.GetValue() == "" {
		return "", &RegistrationError{Err: errors.New("registry assigned an empty id")}
	}
	return res.GetValue(), nil
}
