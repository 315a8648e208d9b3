package server

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/phiberoptick/dockhand/config"
	"github.com/phiberoptick/dockhand/engine"
	"github.com/phiberoptick/dockhand/logger"
	"github.com/phiberoptick/dockhand/notify"
	"github.com/phiberoptick/dockhand/update"
)

var serverLog = logger.WithSubsystem("server")

// Version is injected via ldflags:
// -X 'github.com/phiberoptick/dockhand/server.Version=1.0.0'
var Version = "dev"

// Server wires the HTTP API to the update pipeline and its collaborators.
type Server struct {
	cfg *config.Config

	Docker       *engine.DockerEngine
	Registry     *engine.RegistryClient
	Orchestrator *update.Orchestrator
	Store        update.Store
	Notifier     *notify.AppriseNotifier

	passHash   []byte
	authSecret string
	startTime  time.Time

	loginAttempts map[string]*rateLimiter
	loginMu       sync.Mutex

	mu            sync.RWMutex
	lastCheckTime time.Time
	lastCheckStat string
}

// NewServer validates auth configuration and assembles the server.
func NewServer(cfg *config.Config, docker *engine.DockerEngine, registry *engine.RegistryClient, orch *update.Orchestrator, store update.Store, notifier *notify.AppriseNotifier) (*Server, error) {
	authSecret := cfg.Server.AuthSecret
	if authSecret == "" {
		// Generate random secret if not provided, restarts invalidate sessions
		b := make([]byte, 32)
		if _, err := cryptorand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate auth secret: %w", err)
		}
		authSecret = base64.RawURLEncoding.EncodeToString(b)
	}

	var passHash []byte
	if cfg.Server.AuthUsername != "" {
		switch {
		case cfg.Server.AuthPasswordHash != "":
			passHash = []byte(cfg.Server.AuthPasswordHash)
			if _, err := bcrypt.Cost(passHash); err != nil {
				return nil, fmt.Errorf("auth_password_hash is not a valid bcrypt hash: %v", err)
			}
		case cfg.Server.AuthPassword != "":
			var err error
			passHash, err = bcrypt.GenerateFromPassword([]byte(cfg.Server.AuthPassword), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("failed to hash password: %v", err)
			}
		default:
			return nil, fmt.Errorf("authentication is enabled but no auth_password or auth_password_hash provided")
		}
	}

	if cfg.Server.APIToken == "" && cfg.Server.AuthUsername == "" {
		serverLog.Warn("No api_token or auth_username set. Updates disabled.")
	}

	return &Server{
		cfg:           cfg,
		Docker:        docker,
		Registry:      registry,
		Orchestrator:  orch,
		Store:         store,
		Notifier:      notifier,
		passHash:      passHash,
		authSecret:    authSecret,
		startTime:     time.Now(),
		loginAttempts: make(map[string]*rateLimiter),
	}, nil
}

// Start blocks serving the HTTP API.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/containers", s.enableCors(s.requireAuth(s.handleContainers)))
	mux.HandleFunc("/api/check/stream", s.enableCors(s.requireAuth(s.handleCheckStream)))
	mux.HandleFunc("/api/update/stream", s.enableCors(s.requireAuth(s.handleUpdateStream)))

	mux.HandleFunc("/api/login", s.enableCors(s.handleLogin))
	mux.HandleFunc("/api/logout", s.enableCors(s.handleLogout))
	mux.HandleFunc("/api/me", s.enableCors(s.handleMe))

	go s.cleanupRateLimiters(context.Background())

	serverLog.Info("Dockhand server listening",
		logger.String("address", "localhost:"+s.cfg.Server.Port),
	)

	srv := &http.Server{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// WriteTimeout is deliberately unset: the update and check
		// endpoints are long-running SSE streams and WriteTimeout caps
		// the whole connection lifetime.
	}

	return srv.ListenAndServe()
}

// /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	err := s.Docker.Ping(r.Context())
	dockerStatus := "connected"
	if err != nil {
		dockerStatus = "disconnected"
	}

	uptime := time.Since(s.startTime)

	s.mu.RLock()
	lastCheck := s.lastCheckTime
	lastStat := s.lastCheckStat
	s.mu.RUnlock()

	resp := map[string]interface{}{
		"status":         "ok",
		"version":        Version,
		"docker":         dockerStatus,
		"uptime_seconds": int(uptime.Seconds()),
		"uptime_human":   formatUptime(uptime),
	}

	if !lastCheck.IsZero() {
		resp["last_update_check"] = lastCheck
	} else {
		resp["last_update_check"] = nil
	}
	if lastStat != "" {
		resp["last_check_result"] = lastStat
	} else {
		resp["last_check_result"] = "unknown"
	}

	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		resp["status"] = "error"
		resp["error"] = err.Error()
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// /api/containers
func (s *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")

	containers, err := s.Docker.ListContainers(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	pending, err := s.Store.PendingUpdates(r.Context())
	if err != nil {
		serverLog.Warn("Failed to read pending updates", logger.Err(err))
		pending = nil
	}

	var result []map[string]interface{}
	for _, c := range containers {
		if len(c.Names) == 0 {
			continue
		}
		name := strings.TrimPrefix(c.Names[0], "/")

		_, updateAvail := pending[c.ID]

		result = append(result, map[string]interface{}{
			"id":               c.ID,
			"name":             name,
			"image":            c.Image,
			"tag":              tagOf(c.Image),
			"state":            c.State,
			"status":           c.Status,
			"update_available": updateAvail,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// tagOf extracts a display tag from an image reference.
func tagOf(image string) string {
	if idx := strings.LastIndex(image, ":"); idx > -1 && !strings.Contains(image[idx:], "/") {
		tag := image[idx+1:]
		// "ubuntu:latest@sha256:..." carries the tag before the digest.
		if at := strings.LastIndex(tag, "@"); at > -1 {
			tag = tag[:at]
		}
		return tag
	}
	if strings.Contains(image, "@") {
		return "(digest)"
	}
	return "latest"
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))

	return strings.Join(parts, " ")
}
