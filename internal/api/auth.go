package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"binsync/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	clientKeyUnknown    = "unknown"
	healthMethodPrefix  = "/grpc.health.v1.Health/"
)

var (
	errMissingKey = errors.New("missing api key")
	errInvalidKey = errors.New("invalid api key")
)

// Auth checks static API keys and applies per-client rate limits for both
// transports.
type Auth struct {
	cfg     config.APIAuthConfig
	header  string
	keys    [][]byte
	limiter *rateLimiter
}

func NewAuth(cfg config.APIConfig) *Auth {
	header := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	keys := make([][]byte, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return &Auth{
		cfg:     cfg.Auth,
		header:  header,
		keys:    keys,
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *Auth) check(key string) error {
	if !a.cfg.Enabled {
		return nil
	}
	if key == "" {
		return errMissingKey
	}
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
			return nil
		}
	}
	return errInvalidKey
}

// Wrap guards an HTTP handler.
func (a *Auth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(a.header))
		if err := a.check(key); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !a.limiter.allow(httpClientKey(key, r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func httpClientKey(apiKey string, r *http.Request) string {
	if apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// Stream guards streaming gRPC calls such as server reflection. Health
// watches are always allowed.
func (a *Auth) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
			return handler(srv, ss)
		}
		if err := a.authorize(ss.Context()); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func (a *Auth) authorize(ctx context.Context) error {
	key := a.metadataKey(ctx)
	if err := a.check(key); err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	if !a.limiter.allow(grpcClientKey(ctx, key)) {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return nil
}

func (a *Auth) metadataKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(a.header); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

func grpcClientKey(ctx context.Context, apiKey string) string {
	if apiKey != "" {
		return apiKey
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
	}
	return clientKeyUnknown
}
