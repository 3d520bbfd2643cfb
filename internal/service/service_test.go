package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/hamzalsheikh/howl/internal/registrytest"
	"github.com/hamzalsheikh/howl/pkg/discovery"
	"github.com/hamzalsheikh/howl/pkg/registry"
	"github.com/hamzalsheikh/howl/pkg/version"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func testConfig(registryAddr string) Config {
	cfg := DefaultConfig()
	cfg.ServiceName = registry.ServiceName("billing")
	cfg.Host = "127.0.0.1"
	cfg.GRPCPort = "0"
	cfg.StatusAddr = "127.0.0.1:0"
	cfg.RegistryAddr = registryAddr
	cfg.Insecure = true
	cfg.ConnectTimeout = 2 * time.Second
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.RequiredServices = []registry.ServiceName{"ledger"}
	return cfg
}

func startAgent(t *testing.T, cfg Config) *Agent {
	t.Helper()
	a, err := Start(context.Background(), cfg, Telemetry{Logger: zerolog.Nop()})
	require.NoError(t, err)
	return a
}

func getStatus(t *testing.T, a *Agent) (int, statusResponse) {
	t.Helper()
	resp, err := http.Get("http://" + a.StatusAddr() + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestAgent_RegistersAndHeartbeats(t *testing.T) {
	reg := &registrytest.Registry{NextID: func() string { return "svc-42" }}
	addr := registrytest.Start(t, reg)

	a := startAgent(t, testConfig(addr))
	assert.Equal(t, "svc-42", a.ID())
	require.Eventually(t, func() bool { return len(reg.Pings()) >= 3 }, 2*time.Second, 5*time.Millisecond)

	regs := reg.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, registry.ServiceName("billing"), regs[0].ServiceName)
	assert.Equal(t, "grpc://"+a.GRPCAddr(), regs[0].ServiceURL)
	assert.Equal(t, []registry.ServiceName{"ledger"}, regs[0].RequiredServices)

	code, body := getStatus(t, a)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "billing", body.Service)
	assert.Equal(t, version.Version(), body.Version)
	assert.Equal(t, addr, body.Registry)
	assert.Equal(t, "svc-42", body.Heartbeat.ID)
	assert.True(t, body.Heartbeat.Running)
	assert.GreaterOrEqual(t, body.Heartbeat.Beats, 1)
	require.NotNil(t, body.Heartbeat.LastBeat)

	require.NoError(t, a.Shutdown(context.Background()))
	select {
	case <-a.Done():
	default:
		t.Fatal("Done must be closed after Shutdown")
	}
}

func TestAgent_ServesVersionAndHealth(t *testing.T) {
	addr := registrytest.Start(t, &registrytest.Registry{})
	a := startAgent(t, testConfig(addr))
	defer func() { _ = a.Shutdown(context.Background()) }()

	conn, err := grpc.NewClient(a.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	remote, err := version.Negotiate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, version.Version(), remote)

	hc := healthpb.NewHealthClient(conn)
	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestAgent_VersionRejected(t *testing.T) {
	reg := &registrytest.Registry{RejectVersion: true}
	addr := registrytest.Start(t, reg)

	a, err := Start(context.Background(), testConfig(addr), Telemetry{Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Nil(t, a)
	assert.True(t, version.IsMismatch(err))
	assert.Empty(t, reg.Registrations())
}

func TestAgent_InvalidConfig(t *testing.T) {
	cfg := testConfig("127.0.0.1:1")
	cfg.HeartbeatInterval = 0

	_, err := Start(context.Background(), cfg, Telemetry{Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat_interval")
}

func TestAgent_HeartbeatFailureMarksUnhealthy(t *testing.T) {
	reg := &registrytest.Registry{
		HeartbeatFunc: func(string) error { return status.Error(codes.NotFound, "evicted") },
	}
	addr := registrytest.Start(t, reg)

	a := startAgent(t, testConfig(addr))
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("agent kept running after the registry dropped it")
	}

	var hf *discovery.HeartbeatFailure
	require.ErrorAs(t, a.Err(), &hf)
	assert.Equal(t, codes.NotFound, status.Code(a.Err()))

	code, body := getStatus(t, a)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, body.Heartbeat.Running)
	assert.NotEmpty(t, body.Heartbeat.Error)

	conn, err := grpc.NewClient(a.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	assert.Error(t, a.Shutdown(context.Background()))
}

func TestAgent_StatusRejectsOtherMethods(t *testing.T) {
	addr := registrytest.Start(t, &registrytest.Registry{})
	a := startAgent(t, testConfig(addr))
	defer func() { _ = a.Shutdown(context.Background()) }()

	resp, err := http.Post("http://"+a.StatusAddr()+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodGet, resp.Header.Get("Allow"))
}
