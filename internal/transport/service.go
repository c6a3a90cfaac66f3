package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"registrar/internal/configuration"
	"registrar/internal/metrics"
	"registrar/internal/transport/handler"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name reported through the gRPC health service.
const ServiceName = "registrar.Raft"

// LeaderAware is what the health reporter needs from the engine.
type LeaderAware interface {
	HasLeader() bool
}

type Service struct {
	network              string
	listenAddr           string
	healthAddr           string
	contextPath          string
	timeout              time.Duration
	maxConcurrentStreams uint32

	engine handler.Engine
	leader LeaderAware

	HTTPServer   *http.Server
	HealthServer *grpc.Server
	health       *health.Server

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewTransportService(cfg *configuration.TransportConfigurationProperties, engine handler.Engine, leader LeaderAware) *Service {
	return &Service{
		network:              cfg.Network,
		listenAddr:           cfg.ListenAddr(),
		healthAddr:           cfg.HealthAddr(),
		contextPath:          cfg.ContextPath,
		timeout:              cfg.TimeoutDuration(),
		maxConcurrentStreams: cfg.MaxConcurrentStreams,
		engine:               engine,
		leader:               leader,
		stopCh:               make(chan struct{}),
		doneCh:               make(chan struct{}),
	}
}

// StartHTTPServer serves the peer and client API.
func (ts *Service) StartHTTPServer() (net.Listener, error) {
	lis, err := net.Listen(ts.network, ts.listenAddr)
	if err != nil {
		return nil, err
	}

	ts.HTTPServer = &http.Server{
		Handler:           NewRouter(ts.contextPath, ts.engine, ts.timeout),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("transport listening for raft", "addr", lis.Addr(), "context_path", ts.contextPath)

	go func() {
		logServeError("http", ts.HTTPServer.Serve(lis))
	}()

	return lis, nil
}

// StartHealthServer serves grpc.health.v1 and keeps its status in step with
// whether a leader is known.
func (ts *Service) StartHealthServer() (net.Listener, error) {
	lis, err := net.Listen(ts.network, ts.healthAddr)
	if err != nil {
		return nil, err
	}

	var opts []grpc.ServerOption
	opts = append(opts, grpc.UnaryInterceptor(metrics.UnaryServerInterceptor()))
	if ts.maxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(ts.maxConcurrentStreams))
	}

	ts.HealthServer = grpc.NewServer(opts...)
	ts.health = health.NewServer()
	healthpb.RegisterHealthServer(ts.HealthServer, ts.health)
	reflection.Register(ts.HealthServer)

	ts.refreshHealth()

	slog.Info("transport listening for health", "addr", lis.Addr())

	go func() {
		if err := ts.HealthServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("failed to serve health listener", "error", err)
		}
	}()
	go ts.watchHealth()

	return lis, nil
}

func (ts *Service) watchHealth() {
	defer close(ts.doneCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ts.stopCh:
			return
		case <-ticker.C:
			ts.refreshHealth()
		}
	}
}

func (ts *Service) refreshHealth() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ts.leader.HasLeader() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	ts.health.SetServingStatus("", st)
	ts.health.SetServingStatus(ServiceName, st)
}

// Stop shuts both servers down, waiting at most until ctx is done.
func (ts *Service) Stop(ctx context.Context) {
	if ts.health != nil {
		close(ts.stopCh)
		<-ts.doneCh
		ts.health.Shutdown()
	}

	if ts.HTTPServer != nil {
		if err := ts.HTTPServer.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown", "error", err)
		}
	}

	if ts.HealthServer != nil {
		done := make(chan struct{})
		go func() {
			ts.HealthServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			ts.HealthServer.Stop()
		}
	}

	slog.Info("transport stopped")
}
