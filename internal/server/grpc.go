package server

import (
	"PerpLiquidator/internal/cache"
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/observability"
	"PerpLiquidator/internal/query"
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	LiquidationServiceName = "perpliquidator.v1.LiquidationService"
	AdminServiceName       = "perpliquidator.v1.AdminService"
)

// unary builds a method descriptor around a typed handler
func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + service + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var liquidationServiceDesc = grpc.ServiceDesc{
	ServiceName: LiquidationServiceName,
	HandlerType: (*LiquidationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(LiquidationServiceName, "FlagPosition", LiquidationServiceServer.FlagPosition),
		unary(LiquidationServiceName, "LiquidatePosition", LiquidationServiceServer.LiquidatePosition),
		unary(LiquidationServiceName, "GetPositionDigest", LiquidationServiceServer.GetPositionDigest),
		unary(LiquidationServiceName, "GetAccountDigest", LiquidationServiceServer.GetAccountDigest),
		unary(LiquidationServiceName, "GetMarketDigest", LiquidationServiceServer.GetMarketDigest),
		unary(LiquidationServiceName, "GetRemainingLiquidatableSizeCapacity", LiquidationServiceServer.GetRemainingLiquidatableSizeCapacity),
		unary(LiquidationServiceName, "GetLiquidationFees", LiquidationServiceServer.GetLiquidationFees),
		unary(LiquidationServiceName, "GetFeeTier", LiquidationServiceServer.GetFeeTier),
		unary(LiquidationServiceName, "ComputeOrderFees", LiquidationServiceServer.ComputeOrderFees),
		unary(LiquidationServiceName, "ListFlaggedPositions", LiquidationServiceServer.ListFlaggedPositions),
		unary(LiquidationServiceName, "GetLiquidationHistory", LiquidationServiceServer.GetLiquidationHistory),
		unary(LiquidationServiceName, "GetKeeperEarnings", LiquidationServiceServer.GetKeeperEarnings),
		unary(LiquidationServiceName, "GetBalances", LiquidationServiceServer.GetBalances),
	},
	Metadata: "perpliquidator/v1/liquidation.proto",
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(AdminServiceName, "TakeSnapshot", AdminServiceServer.TakeSnapshot),
		unary(AdminServiceName, "RebuildProjections", AdminServiceServer.RebuildProjections),
		unary(AdminServiceName, "VerifyIntegrity", AdminServiceServer.VerifyIntegrity),
		unary(AdminServiceName, "GetEventLogInfo", AdminServiceServer.GetEventLogInfo),
		unary(AdminServiceName, "InjectPrice", AdminServiceServer.InjectPrice),
		unary(AdminServiceName, "InjectDeposit", AdminServiceServer.InjectDeposit),
		unary(AdminServiceName, "SetKeeperEndorsement", AdminServiceServer.SetKeeperEndorsement),
	},
	Metadata: "perpliquidator/v1/admin.proto",
}

// ServerDeps holds all dependencies needed by the gRPC services.
// DB, Queries, Snapshots and FeeTiers are optional; the methods that need
// them answer Unavailable when they are missing.
type ServerDeps struct {
	Engine    Engine
	DB        *sql.DB
	Queries   *query.QueryService
	Snapshots Snapshotter
	Injector  Injector
	FeeTiers  *cache.FeeTierStore
	Metrics   *observability.Metrics
	Now       func() time.Time
}

// GRPCServer serves the liquidation and admin services over gRPC and the
// same handlers over HTTP/JSON.
type GRPCServer struct {
	grpcServer  *grpc.Server
	httpServer  *http.Server
	health      *health.Server
	liquidation *liquidationService
	admin       *adminService
	grpcAddr    string
	httpAddr    string
	logger      zerolog.Logger
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	now := deps.Now
	if now == nil {
		now = core.MonotonicClock()
	}
	logger := observability.NewLogger("server")

	liq := &liquidationService{
		engine:  deps.Engine,
		queries: deps.Queries,
		tiers:   deps.FeeTiers,
		metrics: deps.Metrics,
		now:     now,
		logger:  logger,
	}
	admin := &adminService{
		engine:    deps.Engine,
		db:        deps.DB,
		snapshots: deps.Snapshots,
		queries:   deps.Queries,
		injector:  deps.Injector,
		logger:    logger,
	}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&liquidationServiceDesc, liq)
	grpcServer.RegisterService(&adminServiceDesc, admin)

	// Health check
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{
		grpcServer:  grpcServer,
		health:      healthServer,
		liquidation: liq,
		admin:       admin,
		grpcAddr:    grpcAddr,
		httpAddr:    httpAddr,
		logger:      logger,
	}
}

// SetServing flips the gRPC health status once recovery has finished
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(LiquidationServiceName, st)
}

// Serve serves gRPC on lis until ctx is cancelled
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// StartHTTPGateway serves the HTTP/JSON gateway (blocking)
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	mux, err := s.GatewayHandler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
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
	return nil
}
