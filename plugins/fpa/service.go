package fpa

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the gRPC health service name for one device.
func HealthServiceName(deviceID string) string {
	return "fpa." + deviceID
}

// publishDeviceHealth mirrors device stream connectivity into the gRPC
// health server and keeps it current from listener events.
func publishDeviceHealth(client *Client, hs *health.Server) Subscription {
	for _, device := range client.Devices() {
		hs.SetServingStatus(HealthServiceName(device.DeviceID), deviceServingStatus(device))
	}
	return client.AddListener(func(device Device) {
		hs.SetServingStatus(HealthServiceName(device.DeviceID), deviceServingStatus(device))
	})
}

func deviceServingStatus(device Device) healthpb.HealthCheckResponse_ServingStatus {
	if device.Connected {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
