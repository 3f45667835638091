package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"gymbook/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"

	permReadSlots     = "read:slots"
	permWriteBookings = "write:bookings"
	permAdmin         = "admin"
)

var (
	errMissingAPIKey    = errors.New("missing api key headers")
	errInvalidAPIKey    = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

// apiKeys checks the (key, extra) header pair against the configured clients.
type apiKeys struct {
	enabled     bool
	keyHeader   string
	extraHeader string
	clients     map[string]config.APIClientKey
}

func newAPIKeys(cfg config.APIAuthConfig) apiKeys {
	m := make(map[string]config.APIClientKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		m[k.Key] = k
	}

	keyHeader := strings.ToLower(strings.TrimSpace(cfg.HeaderAPIKey))
	if keyHeader == "" {
		keyHeader = apiKeyHeaderDefault
	}
	extraHeader := strings.ToLower(strings.TrimSpace(cfg.HeaderExtra))
	if extraHeader == "" {
		extraHeader = apiExtraHeaderDefault
	}

	return apiKeys{
		enabled:     cfg.Enabled,
		keyHeader:   keyHeader,
		extraHeader: extraHeader,
		clients:     m,
	}
}

func (k apiKeys) verify(apiKey, extra, required string) error {
	if apiKey == "" || extra == "" {
		return errMissingAPIKey
	}

	client, ok := k.clients[apiKey]
	if !ok {
		return errInvalidAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errInvalidExtra
	}

	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

// HTTPAuth guards the HTTP API with api keys and a per-client rate limit.
type HTTPAuth struct {
	keys    apiKeys
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		keys:    newAPIKeys(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			next.ServeHTTP(w, r)
			return
		}

		if a.keys.enabled {
			apiKey := strings.TrimSpace(r.Header.Get(a.keys.keyHeader))
			extra := strings.TrimSpace(r.Header.Get(a.keys.extraHeader))
			if err := a.keys.verify(apiKey, extra, requiredPermissionHTTP(r)); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, "unauthorized", err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/admin/"):
		return permAdmin
	case strings.HasPrefix(path, "/api/v1/bookings"), path == "/api/v1/audit/events":
		return permWriteBookings
	case strings.HasPrefix(path, "/api/v1/"):
		return permReadSlots
	default:
		return ""
	}
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.keyHeader)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// AuthInterceptor is the gRPC counterpart of HTTPAuth. Keys travel as metadata.
type AuthInterceptor struct {
	keys    apiKeys
	limiter *rateLimiter
}

func NewAuthInterceptor(cfg config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{
		keys:    newAPIKeys(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if a.keys.enabled {
			apiKey := first(metadataValues(ctx, a.keys.keyHeader))
			extra := first(metadataValues(ctx, a.keys.extraHeader))
			if err := a.keys.verify(apiKey, extra, requiredPermission(info.FullMethod)); err != nil {
				if errors.Is(err, errPermissionDenied) {
					return nil, status.Error(codes.PermissionDenied, err.Error())
				}
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
		}

		if !a.limiter.allow(a.clientKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, errRateLimited.Error())
		}

		return handler(ctx, req)
	}
}

// requiredPermission maps gRPC methods to permissions. Health checks only need a valid key.
func requiredPermission(fullMethod string) string {
	if strings.HasPrefix(fullMethod, "/grpc.health.v1.Health/") {
		return ""
	}
	return permAdmin
}

func (a *AuthInterceptor) clientKey(ctx context.Context) string {
	if apiKey := first(metadataValues(ctx, a.keys.keyHeader)); apiKey != "" {
		return apiKey
	}
	return peerAddr(ctx)
}
