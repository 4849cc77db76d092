package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"campusguard/internal/config"
	"campusguard/internal/engine"
	"campusguard/internal/model"
	"campusguard/internal/session"
	"campusguard/internal/storage"
	"campusguard/internal/verdicts"
)

// EngineControl is the slice of the engine the API needs.
type EngineControl interface {
	Assess(ctx context.Context, subjectID, locationID string, at time.Time) model.RiskVerdict
	ForecastIncident(c model.IncidentContext) model.IncidentForecast
	Train(ctx context.Context, corpus engine.CorpusProvider) error
	Reset()
	UpdateConfig(cfg *config.Config)
	Status() engine.Status
}

type Server struct {
	cfg      *config.Manager
	engine   EngineControl
	verdicts *verdicts.Store
	guard    *session.Guard
	store    storage.Store
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status     string        `json:"status"`
	Time       string        `json:"time"`
	Version    string        `json:"version"`
	ConfigPath string        `json:"config_path"`
	Engine     engine.Status `json:"engine"`
	Ingest     ingestStatus  `json:"ingest"`
	API        apiStatus     `json:"api"`
	Sessions   int           `json:"active_sessions"`
}

type ingestStatus struct {
	REST  bool `json:"rest"`
	Kafka bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func Start(ctx context.Context, cfg *config.Manager, eng EngineControl, verdictsStore *verdicts.Store, guard *session.Guard, store storage.Store, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		engine:   eng,
		verdicts: verdictsStore,
		guard:    guard,
		store:    store,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/verdicts", server.handleVerdicts)
	mux.HandleFunc("/assess", server.handleAssess)
	mux.HandleFunc("/forecast", server.handleForecast)
	mux.HandleFunc("/config/policy", server.handlePolicy)
	mux.HandleFunc("/auth/login", server.handleLogin)
	mux.HandleFunc("/auth/logout", server.handleLogout)
	mux.HandleFunc("/admin/retrain", server.requireSession(server.handleRetrain))
	mux.HandleFunc("/admin/clear", server.requireSession(server.handleClear))

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	sessions := 0
	if s.guard != nil {
		sessions = s.guard.ActiveSessions()
	}
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Engine:     s.engine.Status(),
		Ingest: ingestStatus{
			REST:  cfg.Ingest.REST.Enabled,
			Kafka: cfg.Ingest.Kafka.Enabled,
		},
		API:      apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Sessions: sessions,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerdicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.RiskVerdict
	if sinceStr != "" {
		if ts, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			list = s.verdicts.Since(ts)
		} else {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		list = s.verdicts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verdicts": list,
		"count":    len(list),
	})
}

func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		SubjectID  string `json:"subject_id"`
		LocationID string `json:"location_id"`
		Timestamp  string `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &req); err != nil || strings.TrimSpace(req.SubjectID) == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	at := time.Now().UTC()
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		at = ts
	}
	verdict := s.engine.Assess(r.Context(), req.SubjectID, req.LocationID, at)
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var c model.IncidentContext
	if err := json.Unmarshal(body, &c); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.ForecastIncident(c))
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"policy": s.cfg.Get().Policy,
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var pc config.PolicyConfig
		if err := json.Unmarshal(body, &pc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		pc.HighSecurityLocations = sanitizeList(pc.HighSecurityLocations)
		current := s.cfg.Get()
		next := *current
		next.Policy = pc
		if err := s.cfg.Update(&next); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if s.engine != nil {
			s.engine.UpdateConfig(&next)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.guard == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.UserID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Lockout wins over credential checks.
	if s.guard.IsAccountLocked(req.UserID) {
		writeJSON(w, http.StatusLocked, map[string]any{"error": "account locked"})
		return
	}

	cfg := s.cfg.Get().API
	if cfg.AdminUser == "" || !credentialsMatch(cfg, req.UserID, req.Password) {
		s.guard.TrackFailedAttempt(req.UserID)
		if s.logger != nil {
			s.logger.Warn("login failed", "user_id", req.UserID)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid credentials"})
		return
	}

	s.guard.ClearFailedAttempts(req.UserID)
	token, err := s.guard.IssueSession(req.UserID, "admin")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.guard == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	sess, ok := s.guard.VerifySession(bearerToken(r))
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.guard.Invalidate(sess.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "no training corpus configured"})
		return
	}
	if err := s.engine.Train(r.Context(), s.store); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "engine": s.engine.Status()})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		s.engine.Reset()
	}
	if s.verdicts != nil {
		s.verdicts.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// requireSession gates admin handlers behind a verified session token. With no
// guard wired (embedded use), admin endpoints are open.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.guard != nil {
			if _, ok := s.guard.VerifySession(bearerToken(r)); !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func credentialsMatch(cfg config.APIConfig, user, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(cfg.AdminUser), []byte(user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(cfg.AdminPassword), []byte(password)) == 1
	return userOK && passOK
}

func sanitizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
