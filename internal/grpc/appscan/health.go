// Package appscan hosts the gRPC surface of the service: the standard
// health service plus reflection.
package appscan

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"orbguard-appscan/pkg/logger"
)

// ServiceName is the health service name reported alongside the overall ("") status
const ServiceName = "orbguard.appscan.v1.AppScan"

const defaultCheckInterval = 10 * time.Second

// Pinger is a dependency whose reachability gates the serving status
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthMonitor keeps the gRPC health status in sync with dependencies
type HealthMonitor struct {
	server   *health.Server
	checks   map[string]Pinger
	interval time.Duration
	logger   *logger.Logger
}

// NewHealthMonitor creates a monitor. With no checks the service always serves.
func NewHealthMonitor(checks map[string]Pinger, interval time.Duration, log *logger.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	m := &HealthMonitor{
		server:   health.NewServer(),
		checks:   checks,
		interval: interval,
		logger:   log.WithComponent("grpc-health"),
	}
	m.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	return m
}

// Register registers the health and reflection services
func (m *HealthMonitor) Register(grpcServer *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(grpcServer, m.server)
	reflection.Register(grpcServer)
}

// Run re-checks dependencies every interval until ctx is done, then marks
// the service NOT_SERVING for the shutdown window
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings every dependency once and updates the serving status
func (m *HealthMonitor) Check(ctx context.Context) bool {
	healthy := true
	for name, p := range m.checks {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			healthy = false
			m.logger.Warn().Err(err).Str("dependency", name).Msg("dependency unhealthy")
		}
	}

	if healthy {
		m.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	} else {
		m.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	return healthy
}

func (m *HealthMonitor) setStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
}
