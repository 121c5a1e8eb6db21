// Package health exposes the standard gRPC health service so supervisors can
// tell whether telemetry is being received.
package health

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/battery.report/internal/monitoring"
)

// ServiceName is the service whose status tracks the telemetry listener.
const ServiceName = "hbi.Telemetry"

// Server serves grpc.health.v1.Health.
type Server struct {
	addr     string
	health   *grpchealth.Server
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewServer creates a health server for addr. Both the overall and the
// telemetry status start as NOT_SERVING.
func NewServer(addr string) *Server {
	h := grpchealth.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{addr: addr, health: h}
}

// SetAvailable flips the telemetry and overall status.
func (s *Server) SetAvailable(available bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if available {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	s.listener = lis
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.health)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("gRPC health server listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Logf("gRPC health server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops the server.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	monitoring.Logf("gRPC health server stopped")
}
