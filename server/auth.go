package server

import (
	"context"
	"crypto/hmac"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const sessionTTL = 24 * time.Hour

type rateLimiter struct {
	count    int
	lastSeen time.Time
}

// generateSessionToken produces a signed, self-contained session token.
// Format: sessionID|user|issuedAt|expiration|signature
func (s *Server) generateSessionToken() string {
	idBytes := make([]byte, 16)
	if _, err := cryptorand.Read(idBytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed to generate session id: %v", err))
	}
	id := hex.EncodeToString(idBytes)

	issuedAt := time.Now().Unix()
	exp := time.Now().Add(sessionTTL).Unix()

	data := fmt.Sprintf("%s|%s|%d|%d", id, s.cfg.Server.AuthUsername, issuedAt, exp)
	sig := s.sign(data)
	return base64.URLEncoding.EncodeToString([]byte(fmt.Sprintf("%s|%s", data, sig)))
}

func (s *Server) generateCSRFToken() string {
	b := make([]byte, 32)
	if _, err := cryptorand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed to generate CSRF token: %v", err))
	}
	return hex.EncodeToString(b)
}

// validateSessionToken verifies a token is unexpired, bound to the
// configured user and correctly signed by the server's secret.
func (s *Server) validateSessionToken(token string) bool {
	decodedBytes, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	parts := strings.Split(string(decodedBytes), "|")
	if len(parts) != 5 {
		return false
	}
	id, user, issuedStr, expStr, sig := parts[0], parts[1], parts[2], parts[3], parts[4]

	if user != s.cfg.Server.AuthUsername {
		return false
	}
	if _, err := strconv.ParseInt(issuedStr, 10, 64); err != nil {
		return false
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil || time.Now().Unix() > exp {
		return false
	}

	expectedSig := s.sign(fmt.Sprintf("%s|%s|%s|%s", id, user, issuedStr, expStr))
	return hmac.Equal([]byte(sig), []byte(expectedSig))
}

func (s *Server) sign(data string) string {
	h := hmac.New(sha256.New, []byte(s.authSecret))
	h.Write([]byte(data))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// checkRateLimit allows at most 5 login attempts per IP per minute.
func (s *Server) checkRateLimit(remoteAddr string) bool {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}

	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	limiter, exists := s.loginAttempts[ip]
	if !exists {
		limiter = &rateLimiter{}
		s.loginAttempts[ip] = limiter
	}

	if time.Since(limiter.lastSeen) > time.Minute {
		limiter.count = 0
	}

	limiter.count++
	limiter.lastSeen = time.Now()

	return limiter.count <= 5
}

// cleanupRateLimiters periodically prunes stale IP tracking data.
func (s *Server) cleanupRateLimiters(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.loginMu.Lock()
			for ip, limiter := range s.loginAttempts {
				if time.Since(limiter.lastSeen) > 10*time.Minute {
					delete(s.loginAttempts, ip)
				}
			}
			s.loginMu.Unlock()
		}
	}
}

// Auth handlers
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Server.AuthUsername == "" {
		http.Error(w, "User authentication not configured", http.StatusNotImplemented)
		return
	}

	if !s.checkRateLimit(r.RemoteAddr) {
		http.Error(w, "Too many login attempts", http.StatusTooManyRequests)
		return
	}

	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	// Slow down response slightly to prevent timing attacks
	defer time.Sleep(200 * time.Millisecond)

	if creds.Username != s.cfg.Server.AuthUsername {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword(s.passHash, []byte(creds.Password)); err != nil {
		serverLog.Debug("Login failed (credentials redacted)")
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token := s.generateSessionToken()
	csrfToken := s.generateCSRFToken()

	isSecure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")

	http.SetCookie(w, &http.Cookie{
		Name:     "dockhand_session",
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(sessionTTL),
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "dockhand_csrf",
		Value:    csrfToken,
		Path:     "/",
		Expires:  time.Now().Add(sessionTTL),
		HttpOnly: false, // Must be accessible to JS
		Secure:   isSecure,
		SameSite: http.SameSiteStrictMode,
	})

	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "dockhand_session",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		MaxAge:   -1,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "dockhand_csrf",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: false,
		MaxAge:   -1,
	})
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	loggedIn := false
	method := "none"

	if s.cfg.Server.AuthUsername != "" {
		cookie, err := r.Cookie("dockhand_session")
		if err == nil && s.validateSessionToken(cookie.Value) {
			loggedIn = true
			method = "cookie"
		}
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"logged_in":         loggedIn,
		"auth_method":       method,
		"user_auth_enabled": s.cfg.Server.AuthUsername != "",
		"api_token_enabled": s.cfg.Server.APIToken != "",
	})
}
