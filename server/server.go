package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/dexflow/analysis"
)

var log = commonlog.GetLogger("dexflow.server")

// DefaultCacheSize bounds the rendered-summary cache when no option is given.
const DefaultCacheSize = 512

// Server exposes an analysis.Index over Connect (HTTP/JSON and gRPC on the
// HTTP listener) and over a native gRPC listener with the standard health
// service.
type Server struct {
	service *AnalysisService
	mux     *http.ServeMux
	grpc    *grpc.Server
	health  *health.Server
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	cacheSize int
}

// WithCacheSize sets the number of rendered method summaries kept.
func WithCacheSize(n int) ServerOption {
	return func(c *serverConfig) { c.cacheSize = n }
}

// New creates a Server querying idx.
func New(idx *analysis.Index, opts ...ServerOption) (*Server, error) {
	cfg := &serverConfig{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(cfg)
	}

	svc, err := NewAnalysisService(idx, cfg.cacheSize)
	if err != nil {
		return nil, err
	}

	s := &Server{
		service: svc,
		mux:     http.NewServeMux(),
		grpc:    grpc.NewServer(grpc.UnaryInterceptor(logUnaryGRPC)),
		health:  health.NewServer(),
	}

	// Register Connect handlers
	interceptors := connect.WithInterceptors(logInterceptor())
	s.mux.Handle(ListMethodsProcedure, unaryHandler(ListMethodsProcedure, svc.ListMethods, interceptors))
	s.mux.Handle(GetMethodProcedure, unaryHandler(GetMethodProcedure, svc.GetMethod, interceptors))
	s.mux.Handle(BlockContainingProcedure, unaryHandler(BlockContainingProcedure, svc.BlockContaining, interceptors))
	s.mux.Handle(GetClassProcedure, unaryHandler(GetClassProcedure, svc.GetClass, interceptors))
	s.mux.Handle(DisassembleProcedure, unaryHandler(DisassembleProcedure, svc.Disassemble, interceptors))

	// Register native gRPC services
	RegisterAnalysisServer(s.grpc, svc)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s, nil
}

// Service returns the query service.
func (s *Server) Service() *AnalysisService { return s.service }

// Handler returns the Connect HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves Connect on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve serves Connect on lis until ctx is done. Unencrypted HTTP/2 is
// enabled so gRPC clients can use the same port.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	srv := &http.Server{
		Handler:           s.mux,
		Protocols:         protocols,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdown)
		case <-stop:
		}
	}()

	log.Noticef("Connect (HTTP/JSON) listening on http://%s%s", lis.Addr(), GetMethodProcedure)
	if err := srv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServeGRPC serves native gRPC on addr until ctx is done.
func (s *Server) ListenAndServeGRPC(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves native gRPC on lis until ctx is done.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
		case <-stop:
		}
	}()

	log.Noticef("gRPC listening on grpc://%s", lis.Addr())
	return s.grpc.Serve(lis)
}

// Stop shuts down the gRPC server immediately.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.Stop()
}

type unaryFunc func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(procedure string, fn unaryFunc, opts ...connect.HandlerOption) http.Handler {
	return connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
			resp, err := fn(ctx, req.Msg)
			if err != nil {
				return nil, err
			}
			return connect.NewResponse(resp), nil
		}, opts...)
}

func logInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			logCall(req.Spec().Procedure, start, connect.CodeOf(err).String(), err)
			return resp, err
		}
	}
}

func logUnaryGRPC(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logCall(info.FullMethod, start, status.Code(err).String(), err)
	return resp, err
}

func logCall(procedure string, start time.Time, code string, err error) {
	if err != nil {
		log.Infof("%s: %s: %v", procedure, code, err)
		return
	}
	log.Debugf("%s in %s", procedure, time.Since(start))
}
