// Package grpcserver exposes the standard gRPC health service for the API.
// Load balancers and orchestrators probe it instead of the HTTP /ready
// route when they speak gRPC.
package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name the API reports under, next to the
// overall "" entry.
const ServiceName = "bookreview.api"

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

type Server struct {
	Interval time.Duration
	Timeout  time.Duration

	checks map[string]Check
	grpc   *grpc.Server
	health *health.Server

	mu sync.Mutex
	ln net.Listener
}

// New returns a health server that starts NOT_SERVING until the first probe
// round passes.
func New(checks map[string]Check) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		Interval: 10 * time.Second,
		Timeout:  2 * time.Second,
		checks:   checks,
		grpc:     gs,
		health:   hs,
	}
}

// Probe runs every check once and publishes the combined status.
func (s *Server) Probe(ctx context.Context) bool {
	ok := true
	for name, check := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, s.Timeout)
		err := check(cctx)
		cancel()
		if err != nil {
			slog.Warn("health check failed", "check", name, "err", err)
			ok = false
		}
	}

	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return ok
}

// Run listens on addr and serves until ctx is done or Stop is called.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	slog.Info("grpc health listening", "addr", ln.Addr().String())

	go s.probeLoop(ctx)
	go func() {
		<-ctx.Done()
		s.grpc.GracefulStop()
	}()

	if err := s.grpc.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) probeLoop(ctx context.Context) {
	s.Probe(ctx)
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Probe(ctx)
		}
	}
}

// ListenAddr returns the bound address once Serve has started.
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop marks every service NOT_SERVING and drains open RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
