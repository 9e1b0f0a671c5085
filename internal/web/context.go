package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/fhirmap/internal/core"
)

// clientIP strips the port from RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// WithRequestMetadata carries the client IP and User-Agent into load history.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, clientIP(r))
	return core.ContextWithUserAgent(ctx, r.UserAgent())
}
