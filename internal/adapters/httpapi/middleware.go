package httpapi

import (
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jaico1231/paola-sub001/internal/core/domain"
	"github.com/jaico1231/paola-sub001/internal/core/uow"
)

// withScope opens the unit of work of one request. A presented token that does
// not resolve leaves the scope anonymous; requireUser rejects it later.
func (h *Handler) withScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		scope := &uow.Context{
			ClientIP:  clientIP(r),
			UserAgent: r.UserAgent(),
			RequestID: requestID,
		}
		if token := requestToken(r); token != "" {
			user, err := h.auth.Authenticate(r.Context(), token)
			switch {
			case err == nil:
				scope.User = &user
			case !errors.Is(err, domain.ErrUnauthenticated):
				h.log.WithError(err).WithField("request_id", requestID).Error("authenticate request")
			}
		}

		ctx, release := uow.Begin(r.Context(), scope)
		defer release()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scope := uow.From(r.Context()); scope == nil || scope.User == nil {
			h.fail(w, r, domain.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe records request count and latency by route pattern.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveHTTP(r.Method, route, strconv.Itoa(status), time.Since(start).Seconds())
		if status >= http.StatusInternalServerError {
			h.log.WithFields(logrus.Fields{
				"method":     r.Method,
				"route":      route,
				"status":     status,
				"request_id": w.Header().Get("X-Request-ID"),
			}).Warn("request failed")
		}
	})
}

// requestToken reads the session token from the Authorization header, the
// X-API-Key header or the session cookie, in that order.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// clientIP returns the leftmost public address of X-Forwarded-For, or the
// socket peer when the header carries none.
func clientIP(r *http.Request) string {
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		addr, err := netip.ParseAddr(strings.TrimSpace(hop))
		if err != nil {
			continue
		}
		if isPublic(addr) {
			return addr.Unmap().String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		!addr.IsPrivate() &&
		!addr.IsLoopback() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}
