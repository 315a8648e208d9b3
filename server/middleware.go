package server

import (
	"crypto/hmac"
	"net/http"
	"net/url"
	"strings"

	"github.com/phiberoptick/dockhand/logger"
)

// Middleware: CORS
func (s *Server) enableCors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.CorsOrigin == "" {
			next(w, r)
			return
		}

		origin := r.Header.Get("Origin")
		allowed := false

		if origin != "" {
			if s.cfg.Server.CorsOrigin == "*" {
				allowed = true
			} else {
				a := strings.TrimRight(strings.ToLower(s.cfg.Server.CorsOrigin), "/")
				b := strings.TrimRight(strings.ToLower(origin), "/")

				if a == b {
					allowed = true
				} else {
					// Fallback to hostname comparison using net/url
					uAlloc, err1 := url.Parse(a)
					uOrigin, err2 := url.Parse(b)
					if err1 == nil && err2 == nil {
						if uAlloc.Host != "" && uAlloc.Scheme == uOrigin.Scheme && uAlloc.Host == uOrigin.Host {
							allowed = true
						}
					}
				}
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// Middleware: Auth
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 1. Session cookie (user login)
		if s.cfg.Server.AuthUsername != "" {
			cookie, err := r.Cookie("dockhand_session")
			if err == nil && s.validateSessionToken(cookie.Value) {
				// CSRF protection for state-changing methods
				if r.Method != "GET" && r.Method != "OPTIONS" && r.Method != "HEAD" {
					csrfCookie, err1 := r.Cookie("dockhand_csrf")
					csrfHeader := r.Header.Get("X-CSRF-Token")
					if err1 != nil || csrfHeader == "" || csrfCookie.Value != csrfHeader {
						http.Error(w, "CSRF validation failed", http.StatusForbidden)
						return
					}
				}
				next(w, r)
				return
			}
		}

		// 2. Bearer token
		auth := r.Header.Get("Authorization")
		token := ""
		if auth != "" && strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}

		if s.cfg.Server.APIToken != "" && token != "" {
			// Constant-time comparison to prevent timing attacks
			if hmac.Equal([]byte(token), []byte(s.cfg.Server.APIToken)) {
				next(w, r)
				return
			}
		}

		if s.cfg.Server.APIToken == "" && s.cfg.Server.AuthUsername == "" {
			logger.Debug("Auth failed: no auth configured")
			http.Error(w, "Updates disabled (No Auth Configured)", http.StatusForbidden)
			return
		}

		logger.Warn("Auth failed: unauthorized request")
		w.Header().Set("WWW-Authenticate", `Bearer realm="dockhand"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
}
