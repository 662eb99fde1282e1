package server

import (
	"context"
	"net"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestProbeHealthServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	hs := NewHealthServer()
	go hs.Serve(lis)
	defer hs.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report, err := Probe(ctx, lis.Addr().String())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !slices.Contains(report.Services, "grpc.health.v1.Health") {
		t.Errorf("Services = %v, want grpc.health.v1.Health", report.Services)
	}
	if !slices.IsSorted(report.Services) {
		t.Errorf("Services = %v, want them sorted", report.Services)
	}
	if !strings.Contains(report.Status, "SERVING") {
		t.Errorf("Status = %s, want SERVING", report.Status)
	}
}

func TestProbeUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Probe(ctx, addr); err == nil {
		t.Error("Probe of a closed port succeeded")
	}
}
