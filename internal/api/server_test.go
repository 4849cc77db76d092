package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"campusguard/internal/config"
	"campusguard/internal/engine"
	"campusguard/internal/history"
	"campusguard/internal/session"
	"campusguard/internal/verdicts"
)

func newTestServer() *Server {
	cfg := config.DefaultConfig()
	cfg.API.AdminUser = "ops"
	cfg.API.AdminPassword = "letmein"
	manager := config.NewStaticManager(cfg)
	verdictsStore := verdicts.NewStore(100)
	eng := engine.NewEngine(cfg, nil, history.NewTracker(100), verdictsStore, nil)
	return &Server{
		cfg:      manager,
		engine:   eng,
		verdicts: verdictsStore,
		guard:    session.NewGuard(cfg.Session),
		version:  "test",
	}
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func login(t *testing.T, s *Server, user, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user_id": user, "password": password})
	return doJSON(t, s.handleLogin, http.MethodPost, "/auth/login", string(body), nil)
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer()
	rec := doJSON(t, s.handleStatus, http.MethodGet, "/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Fatalf("unexpected status body: %+v", resp)
	}
	if resp.Engine.AnomalyStatistical {
		t.Fatalf("fresh engine must report untrained models")
	}
}

func TestAssessEndpoint(t *testing.T) {
	s := newTestServer()
	body := `{"subject_id": "student01", "location_id": "LOBBY", "timestamp": "2024-03-06T23:30:00Z"}`
	rec := doJSON(t, s.handleAssess, http.MethodPost, "/assess", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var verdict struct {
		RiskScore int    `json:"risk_score"`
		RiskLevel string `json:"risk_level"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 23:30 is off-hours under the default window.
	if verdict.RiskScore != 2 || verdict.RiskLevel != "medium" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestAssessValidation(t *testing.T) {
	s := newTestServer()
	if rec := doJSON(t, s.handleAssess, http.MethodGet, "/assess", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec := doJSON(t, s.handleAssess, http.MethodPost, "/assess", `{"location_id":"X"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing subject: expected 400, got %d", rec.Code)
	}
	if rec := doJSON(t, s.handleAssess, http.MethodPost, "/assess", `{"subject_id":"s","timestamp":"yesterday"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad timestamp: expected 400, got %d", rec.Code)
	}
}

func TestLoginAndAdminAccess(t *testing.T) {
	s := newTestServer()

	if rec := doJSON(t, s.requireSession(s.handleClear), http.MethodPost, "/admin/clear", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("admin without token: expected 401, got %d", rec.Code)
	}

	rec := login(t, s, "ops", "letmein")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("no token in login response")
	}

	headers := map[string]string{"Authorization": "Bearer " + resp.Token}
	if rec := doJSON(t, s.requireSession(s.handleClear), http.MethodPost, "/admin/clear", "", headers); rec.Code != http.StatusOK {
		t.Fatalf("admin with token: expected 200, got %d", rec.Code)
	}
}

func TestLoginLockout(t *testing.T) {
	s := newTestServer()
	for i := 0; i < 3; i++ {
		if rec := login(t, s, "ops", "wrong"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}
	// Lockout now takes precedence, even with the right password.
	if rec := login(t, s, "ops", "letmein"); rec.Code != http.StatusLocked {
		t.Fatalf("expected 423 after lockout, got %d", rec.Code)
	}
}

func TestRetrainWithoutCorpus(t *testing.T) {
	s := newTestServer()
	rec := login(t, s, "ops", "letmein")
	var resp struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	headers := map[string]string{"Authorization": "Bearer " + resp.Token}
	if rec := doJSON(t, s.requireSession(s.handleRetrain), http.MethodPost, "/admin/retrain", "", headers); rec.Code != http.StatusConflict {
		t.Fatalf("retrain without storage: expected 409, got %d", rec.Code)
	}
}

func TestPolicyUpdate(t *testing.T) {
	s := newTestServer()
	body := `{
		"restricted_start_hour": 21,
		"restricted_end_hour": 7,
		"high_security_locations": ["server-room", " "],
		"off_hours_score": 2,
		"high_security_score": 3,
		"additional_auth_score": 3
	}`
	rec := doJSON(t, s.handlePolicy, http.MethodPost, "/config/policy", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("policy update: %d %s", rec.Code, rec.Body.String())
	}
	got := s.cfg.Get().Policy
	if got.RestrictedStartHour != 21 || got.RestrictedEndHour != 7 {
		t.Fatalf("policy not applied: %+v", got)
	}
	if len(got.HighSecurityLocations) != 1 {
		t.Fatalf("blank locations must be dropped: %v", got.HighSecurityLocations)
	}

	if rec := doJSON(t, s.handlePolicy, http.MethodPost, "/config/policy", `{"restricted_start_hour": 99}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid policy: expected 400, got %d", rec.Code)
	}
}

func TestPolicyUpdateOmittedScoresKeepDefaults(t *testing.T) {
	s := newTestServer()
	body := `{"restricted_start_hour": 22, "restricted_end_hour": 6, "high_security_locations": ["server-room"]}`
	if rec := doJSON(t, s.handlePolicy, http.MethodPost, "/config/policy", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("policy update: %d %s", rec.Code, rec.Body.String())
	}
	got := s.cfg.Get().Policy
	if got.OffHoursScore != 2 || got.HighSecurityScore != 3 || got.AdditionalAuthScore != 3 {
		t.Fatalf("omitted scores must keep their defaults: %+v", got)
	}

	// The assessor must score with the defaulted weights.
	assess := `{"subject_id": "student01", "location_id": "SERVER-ROOM", "timestamp": "2024-03-06T23:00:00Z"}`
	rec := doJSON(t, s.handleAssess, http.MethodPost, "/assess", assess, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("assess: %d", rec.Code)
	}
	var verdict struct {
		RiskScore int `json:"risk_score"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &verdict); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if verdict.RiskScore != 5 {
		t.Fatalf("off-hours high-security scan must score 5, got %d", verdict.RiskScore)
	}
}

func TestVerdictsEndpoint(t *testing.T) {
	s := newTestServer()
	rec := doJSON(t, s.handleVerdicts, http.MethodGet, "/verdicts", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verdicts: %d", rec.Code)
	}
	if rec := doJSON(t, s.handleVerdicts, http.MethodGet, "/verdicts?since=not-a-time", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since: expected 400, got %d", rec.Code)
	}
}

func TestForecastEndpoint(t *testing.T) {
	s := newTestServer()
	body := `{"hour": 23, "recent_failed_attempts": 5, "off_hours_activity": 1, "locations_accessed": 8}`
	rec := doJSON(t, s.handleForecast, http.MethodPost, "/forecast", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("forecast: %d", rec.Code)
	}
	var fc struct {
		Probability float64 `json:"probability"`
		RiskLevel   string  `json:"risk_level"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Probability <= 0.5 || fc.RiskLevel == "low" {
		t.Fatalf("busy context must forecast elevated risk: %+v", fc)
	}
}
