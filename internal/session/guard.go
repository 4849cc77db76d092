package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"campusguard/internal/config"
)

// Session is one active login. One session per user: a new login overwrites
// the prior record, last writer wins.
type Session struct {
	UserID       string    `json:"user_id"`
	Role         string    `json:"role"`
	TokenID      string    `json:"token_id"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Claims are the signed token payload.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Guard tracks failed login attempts, decides lockouts over a sliding
// window, and owns the session-token lifecycle. Login and scan events arrive
// concurrently, so one mutex guards both tables; prune-then-decide stays
// atomic under it.
type Guard struct {
	secret         []byte
	maxFailed      int
	lockoutWindow  time.Duration
	sessionTimeout time.Duration

	mu       sync.Mutex
	failed   map[string][]time.Time
	sessions map[string]*Session

	now func() time.Time
}

const pruneThreshold = 10000

func NewGuard(cfg config.SessionConfig) *Guard {
	secret := cfg.Secret
	if secret == "" {
		secret = randomSecret()
	}
	g := &Guard{
		secret:         []byte(secret),
		maxFailed:      cfg.MaxFailedAttempts,
		lockoutWindow:  cfg.LockoutWindow,
		sessionTimeout: cfg.SessionTimeout,
		failed:         make(map[string][]time.Time),
		sessions:       make(map[string]*Session),
		now:            time.Now,
	}
	if g.maxFailed <= 0 {
		g.maxFailed = 3
	}
	if g.lockoutWindow <= 0 {
		g.lockoutWindow = 300 * time.Second
	}
	if g.sessionTimeout <= 0 {
		g.sessionTimeout = 1800 * time.Second
	}
	return g
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("session: cannot generate secret: %v", err))
	}
	return hex.EncodeToString(buf)
}

// TrackFailedAttempt records one failed login for the identifier, dropping
// attempts that have aged out of the lockout window first. It does not
// itself decide lockout.
func (g *Guard) TrackFailedAttempt(identifier string) {
	if identifier == "" {
		return
	}
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	attempts := pruneBefore(g.failed[identifier], now.Add(-g.lockoutWindow))
	g.failed[identifier] = append(attempts, now)
	if len(g.failed) > pruneThreshold {
		g.pruneFailedLocked(now)
	}
}

// IsAccountLocked reports whether the identifier has accumulated the maximum
// failed attempts within the lockout window. Lockout takes precedence over
// any later credential check; entries age out implicitly.
func (g *Guard) IsAccountLocked(identifier string) bool {
	if identifier == "" {
		return false
	}
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	attempts := pruneBefore(g.failed[identifier], now.Add(-g.lockoutWindow))
	if len(attempts) == 0 {
		delete(g.failed, identifier)
	} else {
		g.failed[identifier] = attempts
	}
	return len(attempts) >= g.maxFailed
}

// ClearFailedAttempts drops the identifier's failure record, e.g. after a
// successful unlocked login.
func (g *Guard) ClearFailedAttempts(identifier string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failed, identifier)
}

// IssueSession creates a session for the user and returns the signed token
// encoding user id, role and expiry. Any prior session for the user is
// overwritten.
func (g *Guard) IssueSession(userID, role string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("session: empty user id")
	}
	now := g.now()
	expires := now.Add(g.sessionTimeout)
	tokenID := uuid.New().String()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        tokenID,
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}

	g.mu.Lock()
	g.sessions[userID] = &Session{
		UserID:       userID,
		Role:         role,
		TokenID:      tokenID,
		IssuedAt:     now,
		ExpiresAt:    expires,
		LastActivity: now,
	}
	if len(g.sessions) > pruneThreshold {
		g.pruneExpiredLocked(now)
	}
	g.mu.Unlock()

	return token, nil
}

// VerifySession checks signature and expiry and that the token still belongs
// to the user's active session. On success it refreshes last-activity
// bookkeeping. Every failure mode answers "no session"; it never errors.
func (g *Guard) VerifySession(token string) (*Session, bool) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return g.now() }))
	if err != nil || !parsed.Valid {
		return nil, false
	}

	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, ok := g.sessions[claims.Subject]
	if !ok || sess.TokenID != claims.ID {
		return nil, false
	}
	if now.After(sess.ExpiresAt) {
		delete(g.sessions, claims.Subject)
		return nil, false
	}
	sess.LastActivity = now
	out := *sess
	return &out, true
}

// Invalidate removes the user's active session; outstanding tokens stop
// verifying immediately.
func (g *Guard) Invalidate(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, userID)
}

// ActiveSessions reports the number of unexpired sessions.
func (g *Guard) ActiveSessions() int {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, sess := range g.sessions {
		if !now.After(sess.ExpiresAt) {
			count++
		}
	}
	return count
}

// pruneFailedLocked sweeps the whole failure table, dropping identifiers
// whose attempts have all aged out of the window. Keeps a spray of unique
// usernames from growing the table without bound.
func (g *Guard) pruneFailedLocked(now time.Time) {
	cutoff := now.Add(-g.lockoutWindow)
	for identifier, attempts := range g.failed {
		kept := pruneBefore(attempts, cutoff)
		if len(kept) == 0 {
			delete(g.failed, identifier)
		} else {
			g.failed[identifier] = kept
		}
	}
}

func (g *Guard) pruneExpiredLocked(now time.Time) {
	for userID, sess := range g.sessions {
		if now.After(sess.ExpiresAt) {
			delete(g.sessions, userID)
		}
	}
}

func pruneBefore(attempts []time.Time, cutoff time.Time) []time.Time {
	out := attempts[:0]
	for _, ts := range attempts {
		if ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	return out
}
