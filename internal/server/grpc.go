package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"ReserveBank/internal/ingestion"
	"ReserveBank/internal/observability"
	"ReserveBank/internal/query"
)

// GRPCServer serves the Ledger service over gRPC and the same handlers as
// HTTP/JSON through a gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	healthServer  *health.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	handler       http.Handler
	logger        zerolog.Logger
}

// ServerDeps holds all dependencies needed by the Ledger service.
type ServerDeps struct {
	Engine        ingestion.Executor
	Query         *query.Service
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

// NewGRPCServer creates the gRPC server and the HTTP handler with the Ledger
// service registered on both.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) (*GRPCServer, error) {
	logger := observability.NewLogger("server")
	svc := &ledgerService{exec: deps.Engine, query: deps.Query}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(observeUnary(deps.Metrics, logger)))
	grpcServer.RegisterService(&LedgerServiceDesc, svc)

	// Health check. Reports NOT_SERVING until SetServing(true).
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl
	reflection.Register(grpcServer)

	handler, err := newHTTPHandler(svc, deps.HealthChecker, deps.Metrics)
	if err != nil {
		return nil, err
	}

	return &GRPCServer{
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		handler:       handler,
		logger:        logger,
	}, nil
}

// SetServing flips the gRPC health status. Called once startup recovery is done.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
	s.healthServer.SetServingStatus(ServiceName, st)
}

// Handler returns the HTTP handler: the gateway mux plus /healthz and /readyz.
func (s *GRPCServer) Handler() http.Handler {
	return s.handler
}

// Serve serves gRPC on an existing listener until it fails or is stopped.
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// StartGRPC starts the gRPC server (blocking). After ctx is cancelled it
// returns once in-flight calls have finished.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	err = s.grpcServer.Serve(lis)
	if ctx.Err() != nil {
		<-stopped
		return nil
	}
	return err
}

// StartHTTPGateway starts the HTTP/JSON server (blocking). After ctx is
// cancelled it returns once in-flight requests have finished or 5s passed.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-stopped
	return nil
}

// observeUnary counts Ledger calls by method and status code. Health and
// reflection calls are not counted.
func observeUnary(metrics *observability.Metrics, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	prefix := "/" + ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		method := strings.TrimPrefix(info.FullMethod, prefix)
		code := status.Code(err)
		recordCall(metrics, method, code.String())
		logger.Debug().Str("method", method).Str("code", code.String()).
			Dur("took", time.Since(start)).Msg("rpc")
		return resp, err
	}
}

func recordCall(metrics *observability.Metrics, method, outcome string) {
	if metrics == nil {
		return
	}
	metrics.QueryRequests.WithLabelValues(method, outcome).Inc()
}
