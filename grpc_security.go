package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	configpkg "flappysync/internal/config"
	"flappysync/internal/logging"
)

const sharedSecretMetadataKey = "x-broker-shared-secret"

// relayServiceName is the health service name reported for the topic relay.
const relayServiceName = "flappysync.Relay"

// grpcServerOptions returns the interceptors guarding the gRPC listener. An empty secret
// leaves the listener open.
func grpcServerOptions(cfg *configpkg.Config, logger *logging.Logger) []grpc.ServerOption {
	if cfg == nil || strings.TrimSpace(cfg.GRPCSharedSecret) == "" {
		return nil
	}
	if logger != nil {
		logger.Info("gRPC shared-secret authentication enabled")
	}
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(newSharedSecretUnaryInterceptor(cfg.GRPCSharedSecret)),
		grpc.ChainStreamInterceptor(newSharedSecretStreamInterceptor(cfg.GRPCSharedSecret)),
	}
}

// newGRPCServer builds a server exposing the standard health service.
func newGRPCServer(cfg *configpkg.Config, logger *logging.Logger) *grpc.Server {
	server := grpc.NewServer(grpcServerOptions(cfg, logger)...)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(relayServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server
}

// startGRPC listens on the configured address and serves in the background.
func startGRPC(cfg *configpkg.Config, logger *logging.Logger) (*grpc.Server, error) {
	if cfg == nil || cfg.GRPCAddress == "" {
		return nil, fmt.Errorf("grpc address required")
	}
	if logger == nil {
		logger = logging.L()
	}
	listener, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return nil, fmt.Errorf("listen grpc: %w", err)
	}
	server := newGRPCServer(cfg, logger)
	go func() {
		logger.Info("gRPC health listening", logging.String("address", listener.Addr().String()))
		if err := server.Serve(listener); err != nil {
			logger.Warn("gRPC server stopped", logging.Error(err))
		}
	}()
	return server, nil
}

func checkSharedSecret(ctx context.Context, secret string) error {
	if secret == "" {
		return status.Error(codes.Unauthenticated, "shared secret not configured")
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	candidate := extractSharedSecret(md)
	if candidate == "" {
		return status.Error(codes.Unauthenticated, "missing shared secret")
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid shared secret")
	}
	return nil
}

func newSharedSecretUnaryInterceptor(secret string) grpc.UnaryServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := checkSharedSecret(ctx, normalized); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func newSharedSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkSharedSecret(ss.Context(), normalized); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func extractSharedSecret(md metadata.MD) string {
	if md == nil {
		return ""
	}
	for _, value := range md.Get(sharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if strings.HasPrefix(strings.ToLower(value), "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}
