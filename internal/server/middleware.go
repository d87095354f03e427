package server

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"ipauth/internal/auth"
	"ipauth/internal/core/errors"
	"ipauth/internal/logging"
)

// loggingMiddleware logs HTTP requests with structured logging
func (s *Server) loggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			s.logger.Info("HTTP request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.String("client_ip", s.clientIP(r)),
				logging.String("user_agent", r.UserAgent()),
				logging.Int("status_code", wrapped.statusCode),
				logging.Duration("duration", duration),
			)

			if s.metrics != nil {
				s.metrics.RecordRequest(r.Method, routeTemplate(r), wrapped.statusCode, duration.Seconds())
			}
		})
	}
}

// metricsMiddleware tracks requests in flight
func (s *Server) metricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.metrics != nil {
				path := routeTemplate(r)
				s.metrics.TrackRequestInFlight(r.Method, path, true)
				defer s.metrics.TrackRequestInFlight(r.Method, path, false)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// securityHeadersMiddleware adds security headers to responses
func (s *Server) securityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Cache-Control", "no-store")
			for k, v := range s.config.Security.Headers {
				w.Header().Set(k, v)
			}
			w.Header().Del("Server")

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware throttles requests per client IP.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := s.clientIP(r)
		if !s.limiter.Allow(ip) {
			s.logger.Warn("Login rate limit exceeded", logging.String("client_ip", ip))
			if s.metrics != nil {
				s.metrics.RecordLogin("rate_limited")
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(s.limiter.RetryAfter().Seconds())))
			errors.ErrRateLimitExceeded.WriteHTTP(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdministrator accepts a bearer token issued to an account that is
// still an administrator in the store.
func (s *Server) requireAdministrator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := auth.BearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ipauth"`)
			errors.ErrUnauthorized.WriteHTTP(w)
			return
		}
		claims, err := s.tokens.Parse(raw)
		if err != nil {
			s.logger.Debug("Rejected bearer token", logging.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="ipauth", error="invalid_token"`)
			errors.ErrUnauthorized.WriteHTTP(w)
			return
		}

		account, err := s.store.GetAccount(r.Context(), claims.AccountID)
		if err != nil || !account.IsAdministrator() {
			errors.ErrForbidden.WriteHTTP(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

// clientIP is the address the allow-list is checked against. It is the peer
// address unless X-Forwarded-For is trusted and the peer is a trusted proxy.
// Then the header is read right to left and the first hop outside the
// trusted proxies is the client. Hops to its left are client-supplied.
func (s *Server) clientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !s.config.Security.TrustForwardedFor || !s.isTrustedProxy(peer) {
		return peer
	}

	var hops []string
	for _, value := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(value, ",")...)
	}
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if _, err := netip.ParseAddr(hop); err != nil {
			// A malformed hop ends the chain we can vouch for.
			return client
		}
		client = hop
		if !s.isTrustedProxy(hop) {
			return hop
		}
	}
	return client
}

func (s *Server) isTrustedProxy(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// routeTemplate keeps metric label cardinality bounded by using the mux
// template instead of the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
