// ABOUTME: Health check command for a running coven-voice server
// ABOUTME: Checks the HTTP readiness endpoint and the gRPC health service

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := checkHTTP(ctx, "http://"+cfg.Server.HTTPAddr+"/health/ready"); err != nil {
		return err
	}
	color.Green("http: ready")

	if cfg.Server.GRPCAddr != "" {
		status, err := checkGRPC(ctx, cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		if status != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("grpc: %s", status)
		}
		color.Green("grpc: %s", status)
	}
	return nil
}

func checkHTTP(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func checkGRPC(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "coven.voice"})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("grpc health check failed: %w", err)
	}
	return resp.Status, nil
}
