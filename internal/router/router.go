package router

import (
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joshp123/gofpa/internal/core"
)

// RegisterPlugins registers plugin services on the gRPC server and publishes
// plugin health through the standard health service.
func RegisterPlugins(server *grpc.Server, healthServer *health.Server, plugins []core.Plugin) {
	healthpb.RegisterHealthServer(server, healthServer)

	for _, p := range plugins {
		p.RegisterGRPC(server)
		healthServer.SetServingStatus(p.ID(), servingStatus(p.Health()))
		if hr, ok := p.(core.HealthRegistrant); ok {
			hr.RegisterHealth(healthServer)
		}
	}
}

// RegisterHTTP mounts the HTTP handlers of plugins that expose any.
func RegisterHTTP(mux *http.ServeMux, plugins []core.Plugin) {
	for _, p := range plugins {
		if hr, ok := p.(core.HTTPRegistrant); ok {
			hr.RegisterHTTP(mux)
		}
	}
}

func servingStatus(status core.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	if status == core.HealthError {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
