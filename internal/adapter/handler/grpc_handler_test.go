package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func check(t *testing.T, h *GRPCHandler, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.HealthServer().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestGRPCHealth_Lifecycle(t *testing.T) {
	h := NewGRPCHandler()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, ServiceName))

	h.Serving()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h, ServiceName))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h, ""))

	h.Shutdown()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, ServiceName))

	h.Serving()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h, ServiceName), "ignored after shutdown")
}
