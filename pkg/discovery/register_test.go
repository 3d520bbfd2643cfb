package discovery_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hamzalsheikh/howl/internal/registrytest"
	"github.com/hamzalsheikh/howl/pkg/discovery"
	"github.com/hamzalsheikh/howl/pkg/registry"
	"github.com/hamzalsheikh/howl/pkg/version"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func testRegistration() registry.Registration {
	return registry.Registration{
		ServiceName:      "billing",
		ServiceURL:       "http://localhost:2001",
		RequiredServices: []registry.ServiceName{"ledger"},
		HeartbeatURL:     "http://localhost:2001/heartbeat",
	}
}

func testOptions() []discovery.Option {
	return []discovery.Option{
		discovery.WithInsecure(),
		discovery.WithConnectTimeout(2 * time.Second),
		discovery.WithLogger(zerolog.Nop()),
	}
}

func TestValidateAndRegister_Success(t *testing.T) {
	reg := &registrytest.Registry{NextID: func() string { return "svc-42" }}
	addr := registrytest.Start(t, reg)

	id, conn, err := discovery.ValidateAndRegister(context.Background(), addr, testRegistration(), testOptions()...)
	require.NoError(t, err)
	require.NotNil(t, conn)
	defer conn.Close()
	assert.Equal(t, "svc-42", id)

	assert.Equal(t, []string{version.Version()}, reg.Validations())
	regs := reg.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, testRegistration(), regs[0])
}

func TestValidateAndRegister_VersionEchoMismatch(t *testing.T) {
	reg := &registrytest.Registry{EchoVersion: version.Version() + "-newer"}
	addr := registrytest.Start(t, reg)

	id, conn, err := discovery.ValidateAndRegister(context.Background(), addr, testRegistration(), testOptions()...)
	require.Error(t, err)
	assert.Empty(t, id)
	assert.Nil(t, conn)

	var mm *version.MismatchError
	require.True(t, errors.As(err, &mm))
	assert.Equal(t, version.Version()+"-newer", mm.Remote)
	assert.Empty(t, reg.Registrations(), "registration must not be attempted")
}

func TestValidateAndRegister_VersionRejected(t *testing.T) {
	reg := &registrytest.Registry{RejectVersion: true}
	addr := registrytest.Start(t, reg)

	_, conn, err := discovery.ValidateAndRegister(context.Background(), addr, testRegistration(), testOptions()...)
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.True(t, version.IsMismatch(err))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Len(t, reg.Validations(), 1)
	assert.Empty(t, reg.Registrations(), "registration must not be attempted")
}

func TestValidateAndRegister_ConnectError(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	id, conn, err := discovery.ValidateAndRegister(context.Background(), addr, testRegistration(), testOptions()...)
	require.Error(t, err)
	assert.Empty(t, id)
	assert.Nil(t, conn)

	var ce *discovery.ConnectError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, addr, ce.Endpoint)
	assert.False(t, version.IsMismatch(err))
}

func TestValidateAndRegister_RegistrationError(t *testing.T) {
	reg := &registrytest.Registry{RegisterErr: status.Error(codes.AlreadyExists, "duplicate service")}
	addr := registrytest.Start(t, reg)

	_, conn, err := discovery.ValidateAndRegister(context.Background(), addr, testRegistration(), testOptions()...)
	require.Error(t, err)
	assert.Nil(t, conn)

	var re *discovery.RegistrationError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
	assert.Len(t, reg.Validations(), 1)
}

func TestValidateAndRegister_EmptyID(t *testing.T) {
	reg := &registrytest.Registry{NextID: func() string { return "" }}
	addr := registrytest.Start(t, reg)

	_, _, err := discovery.ValidateAndRegister(context.Background(), addr, testRegistration(), testOptions()...)
	var re *discovery.RegistrationError
	require.True(t, errors.As(err, &re))
	assert.Contains(t, err.Error(), "empty id")
}

func TestValidateAndRegister_InvalidRegistration(t *testing.T) {
	reg := &registrytest.Registry{}
	addr := registrytest.Start(t, reg)

	_, conn, err := discovery.ValidateAndRegister(context.Background(), addr, registry.Registration{}, testOptions()...)
	assert.Nil(t, conn)
	var re *discovery.RegistrationError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "the registry judges the descriptor")
	assert.Len(t, reg.Validations(), 1, "connect and negotiate run before the descriptor is looked at")
	assert.Empty(t, reg.Registrations())
}

func TestRegisterThenHeartbeat_IdentityRoundTrip(t *testing.T) {
	reg := &registrytest.Registry{NextID: func() string { return "svc-42" }}
	addr := registrytest.Start(t, reg)

	id, conn, err := discovery.ValidateAndRegister(context.Background(), addr, testRegistration(), testOptions()...)
	require.NoError(t, err)
	defer conn.Close()

	h, err := discovery.SpawnHeartbeat(context.Background(), discovery.HeartbeatConfig{
		Interval: 10 * time.Millisecond,
		ID:       id,
		Conn:     conn,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(reg.Pings()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.Stop())

	for _, p := range reg.Pings() {
		assert.Equal(t, []byte(id), []byte(p.ID))
	}
}

func TestHeartbeat_SequentialAgainstRegistry(t *testing.T) {
	const interval = 25 * time.Millisecond
	reg := &registrytest.Registry{HeartbeatDelay: 15 * time.Millisecond}
	addr := registrytest.Start(t, reg)

	id, conn, err := discovery.ValidateAndRegister(context.Background(), addr, testRegistration(), testOptions()...)
	require.NoError(t, err)
	defer conn.Close()

	h, err := discovery.SpawnHeartbeat(context.Background(), discovery.HeartbeatConfig{Interval: interval, ID: id, Conn: conn})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(reg.Pings()) >= 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.Stop())

	pings := reg.Pings()
	for i := 1; i < len(pings); i++ {
		assert.GreaterOrEqual(t, pings[i].Start.Sub(pings[i-1].End), interval)
	}
}

func TestHeartbeat_AckSlowerThanInterval(t *testing.T) {
	reg := &registrytest.Registry{HeartbeatDelay: 60 * time.Millisecond}
	addr := registrytest.Start(t, reg)

	id, conn, err := discovery.ValidateAndRegister(context.Background(), addr, testRegistration(), testOptions()...)
	require.NoError(t, err)
	defer conn.Close()

	h, err := discovery.SpawnHeartbeat(context.Background(), discovery.HeartbeatConfig{Interval: 40 * time.Millisecond, ID: id, Conn: conn})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.Status().Beats >= 3 }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, h.Stop())

	st := h.Status()
	assert.Zero(t, st.Failures)
	assert.Empty(t, st.Error)
}

func TestHeartbeat_ReregisterAgainstRegistry(t *testing.T) {
	reg := &registrytest.Registry{
		HeartbeatFunc: func(id string) error {
			if id == "svc-1" {
				return status.Error(codes.NotFound, "evicted")
			}
			return nil
		},
	}
	addr := registrytest.Start(t, reg)

	id, conn, err := discovery.ValidateAndRegister(context.Background(), addr, testRegistration(), testOptions()...)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, "svc-1", id)

	h, err := discovery.SpawnHeartbeat(context.Background(), discovery.HeartbeatConfig{
		Interval:   10 * time.Millisecond,
		ID:         id,
		Conn:       conn,
		Policy:     discovery.FailReregister,
		Reregister: discovery.Reregisterer(conn, testRegistration()),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.ID() == "svc-2" && h.Status().Beats >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.Stop())

	assert.Len(t, reg.Validations(), 2, "re-registration negotiates again")
	assert.Len(t, reg.Registrations(), 2)
}
