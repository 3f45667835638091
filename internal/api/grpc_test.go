package api

import (
	"context"
	"net"
	"testing"
	"time"

	"gymbook/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startGRPC(t *testing.T, cfg config.APIConfig) healthpb.HealthClient {
	t.Helper()
	logger := zerolog.Nop()
	lis := bufconn.Listen(1 << 20)

	srv, err := newGRPCServer(cfg, lis, &logger)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func TestGRPCHealth(t *testing.T) {
	client := startGRPC(t, config.APIConfig{})

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestGRPCHealth_RequiresKey(t *testing.T) {
	client := startGRPC(t, config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys:      []config.APIClientKey{{Key: "k-health", Extra: "p1", Permissions: []string{permReadSlots}}},
		},
	})

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "k-health", "x-api-extra", "p1")
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestAuthInterceptor(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "k1", Extra: "e1", Permissions: []string{permReadSlots}},
				{Key: "k2", Extra: "e2", Permissions: []string{permAdmin}},
			},
		},
	}
	interceptor := NewAuthInterceptor(cfg).Unary()
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/gymbook.admin.v1.Admin/Generate"}

	tests := []struct {
		name string
		md   metadata.MD
		code codes.Code
	}{
		{"no metadata", nil, codes.Unauthenticated},
		{"bad extra", metadata.Pairs("x-api-key", "k1", "x-api-extra", "nope"), codes.Unauthenticated},
		{"missing permission", metadata.Pairs("x-api-key", "k1", "x-api-extra", "e1"), codes.PermissionDenied},
		{"admin", metadata.Pairs("x-api-key", "k2", "x-api-extra", "e2"), codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}
			resp, err := interceptor(ctx, nil, info, handler)
			assert.Equal(t, tt.code, status.Code(err))
			if tt.code == codes.OK {
				assert.Equal(t, "ok", resp)
			}
		})
	}
}

func TestAuthInterceptor_RateLimit(t *testing.T) {
	interceptor := NewAuthInterceptor(config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1}}).Unary()
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "k1"))

	_, err := interceptor(ctx, nil, info, handler)
	require.NoError(t, err)
	_, err = interceptor(ctx, nil, info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestChainUnaryInterceptors_Order(t *testing.T) {
	var calls []string
	mk := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			calls = append(calls, name)
			return handler(ctx, req)
		}
	}
	chain := ChainUnaryInterceptors(mk("a"), mk("b"))
	_, err := chain(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		calls = append(calls, "handler")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "handler"}, calls)
}

func TestRequestIDFromMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-42"))
	assert.Equal(t, "req-42", requestIDFromMetadata(ctx))
	assert.NotEmpty(t, requestIDFromMetadata(context.Background()))
}
