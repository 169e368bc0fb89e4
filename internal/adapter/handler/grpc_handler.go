package handler

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported to gRPC health checks.
const ServiceName = "inventory.InventoryService"

type GRPCHandler struct {
	health *health.Server
}

func NewGRPCHandler() *GRPCHandler {
	h := &GRPCHandler{health: health.NewServer()}
	h.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *GRPCHandler) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
}

func (h *GRPCHandler) Serving() {
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Shutdown flips every service to NOT_SERVING and ignores later updates.
func (h *GRPCHandler) Shutdown() {
	h.health.Shutdown()
}

func (h *GRPCHandler) HealthServer() healthpb.HealthServer {
	return h.health
}
