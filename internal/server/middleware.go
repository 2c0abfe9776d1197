package server

import (
	"net"
	"net/http"

	"github.com/google/uuid"
)

// RequestID stamps a correlation id on requests that arrive without
// one, so every hop downstream can carry it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Gateway-Request-ID") == "" {
			r.Header.Set("X-Gateway-Request-ID", uuid.New().String())
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
