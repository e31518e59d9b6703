package grpc

import (
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service names reported through the health service. The empty name is the
// overall process status.
const (
	ServiceDispatch  = "raid.dispatch"
	ServiceBroadcast = "raid.broadcast"
)

// Server exposes the standard gRPC health service. A task reports NOT_SERVING
// after a failed cycle and SERVING again after the next good one; the overall
// status is SERVING only while every task is.
type Server struct {
	health     *health.Server
	grpcServer *grpc.Server

	mu    sync.Mutex
	tasks map[string]bool
}

func NewServer() *Server {
	s := &Server{
		health: health.NewServer(),
		tasks:  make(map[string]bool),
	}
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	return s
}

// SetServing records the outcome of the latest cycle of service.
func (s *Server) SetServing(service string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[service] = ok
	s.health.SetServingStatus(service, statusOf(ok))

	overall := true
	for _, v := range s.tasks {
		overall = overall && v
	}
	s.health.SetServingStatus("", statusOf(overall))
}

func statusOf(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func (s *Server) Serve(lis net.Listener) error {
	slog.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Stop marks everything NOT_SERVING so health watchers see the shutdown, then
// drains open RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
