package grpc

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name the backport server reports under
const ServiceName = "backport.Controller"

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Server implements the gRPC health service on top of the Temporal frontend
// health
type Server struct {
	grpc_health_v1.UnimplementedHealthServer
	checker HealthChecker
	logger  *zap.Logger
}

// NewServer creates a new gRPC server
func NewServer(checker HealthChecker, logger *zap.Logger) *Server {
	return &Server{
		checker: checker,
		logger:  logger,
	}
}

// Register registers the server with a gRPC server
func (s *Server) Register(grpcServer *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(grpcServer, s)
}

// Check reports SERVING while workflows can be dispatched
func (s *Server) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	switch req.GetService() {
	case "", ServiceName:
	default:
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN,
		}, nil
	}

	if err := s.checker.CheckHealth(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}

	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}
