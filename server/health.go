package server

import (
	"context"
	"fmt"
	"net"
	"sort"

	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/encoding/protojson"
)

// serviceNames are reported by the health service alongside the overall
// ("") status.
var serviceNames = []string{
	"rbvm.v1.CompileService",
	"rbvm.v1.RunService",
	"rbvm.v1.SessionService",
}

// HealthServer serves grpc.health.v1 and server reflection.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewHealthServer creates a HealthServer reporting every service as serving.
func NewHealthServer() *HealthServer {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)
	for _, name := range serviceNames {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	return &HealthServer{grpc: gs, health: hs}
}

// Serve accepts connections on lis until Stop is called.
func (h *HealthServer) Serve(lis net.Listener) error {
	return h.grpc.Serve(lis)
}

// ListenAndServe listens on addr and serves.
func (h *HealthServer) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return h.Serve(lis)
}

// Stop marks every service as not serving and stops the gRPC server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpc.Stop()
}

// ProbeReport is what Probe learned about a health endpoint.
type ProbeReport struct {
	Services []string
	Status   string // protojson rendering of the overall health check
}

// Probe lists the services reflected by the gRPC server at addr and
// checks its overall health.
func Probe(ctx context.Context, addr string) (*ProbeReport, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	refClient := grpcreflect.NewClientAuto(ctx, conn)
	defer refClient.Reset()

	services, err := refClient.ListServices()
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	sort.Strings(services)

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	status, err := protojson.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &ProbeReport{Services: services, Status: string(status)}, nil
}
