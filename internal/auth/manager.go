package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// State is the credential state as seen by the submission loop.
type State int

const (
	StateUnauthenticated State = iota
	StateValid
	StateExpiringSoon
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpiringSoon:
		return "expiring_soon"
	default:
		return "unauthenticated"
	}
}

// ManagerConfig configures the grant exchanges against the token endpoint.
type ManagerConfig struct {
	// TokenURL is the full auth endpoint, e.g.
	// "https://test.glocalflexmarket.com/auth/oauth/v2/token".
	TokenURL string
	ClientID string
	Username string
	Password string
	// Margin defaults to DefaultExpiryMargin when zero.
	Margin time.Duration
	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
}

// tokenResponse is the JSON body of a successful grant.
type tokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    float64 `json:"expires_in"`
}

// Manager performs password and refresh grants and keeps a Store current.
// Failures are reported as false, never as errors: the caller decides how
// to retry.
type Manager struct {
	cfg    ManagerConfig
	store  *Store
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager writing into store.
func NewManager(cfg ManagerConfig, store *Store, logger *slog.Logger) *Manager {
	if cfg.Margin == 0 {
		cfg.Margin = DefaultExpiryMargin
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		client: client,
		logger: logger.With(slog.String("component", "auth"), slog.String("user", cfg.Username)),
		now:    time.Now,
	}
}

// RequestNewToken performs a password grant.
func (m *Manager) RequestNewToken(ctx context.Context) bool {
	form := url.Values{}
	form.Set("client_id", m.cfg.ClientID)
	form.Set("grant_type", "password")
	form.Set("username", m.cfg.Username)
	form.Set("password", m.cfg.Password)

	if !m.exchange(ctx, "password", form) {
		return false
	}
	m.logger.InfoContext(ctx, "access token granted")
	return true
}

// RefreshToken performs a refresh grant with the stored refresh token. On
// failure the store is cleared so the caller falls back to a password grant.
func (m *Manager) RefreshToken(ctx context.Context) bool {
	cred, ok := m.store.Current()
	if !ok || cred.RefreshToken == "" {
		m.logger.DebugContext(ctx, "no refresh token available")
		return false
	}

	form := url.Values{}
	form.Set("client_id", m.cfg.ClientID)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)

	if !m.exchange(ctx, "refresh_token", form) {
		m.store.Clear()
		return false
	}
	m.logger.InfoContext(ctx, "access token refreshed")
	return true
}

// CheckExpiry reports whether the credential must be renewed before the
// next submission.
func (m *Manager) CheckExpiry() bool {
	return m.store.IsExpiringSoon(m.cfg.Margin)
}

// AccessToken returns the current bearer token, or "" when unauthenticated.
func (m *Manager) AccessToken() string {
	cred, ok := m.store.Current()
	if !ok {
		return ""
	}
	return cred.AccessToken
}

// State classifies the current credential.
func (m *Manager) State() State {
	if _, ok := m.store.Current(); !ok {
		return StateUnauthenticated
	}
	if m.store.IsExpiringSoon(m.cfg.Margin) {
		return StateExpiringSoon
	}
	return StateValid
}

// exchange posts a grant form and stores the resulting credential.
func (m *Manager) exchange(ctx context.Context, grant string, form url.Values) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		m.logger.ErrorContext(ctx, "build token request failed",
			slog.String("grant", grant),
			slog.String("error", err.Error()),
		)
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	// The lifetime counts from before the request so latency never extends it.
	grantedAt := m.now()
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.ErrorContext(ctx, "token request failed",
			slog.String("grant", grant),
			slog.String("error", err.Error()),
		)
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		m.logger.ErrorContext(ctx, "read token response failed",
			slog.String("grant", grant),
			slog.String("error", err.Error()),
		)
		return false
	}

	if resp.StatusCode != http.StatusOK {
		m.logger.WarnContext(ctx, "token request rejected",
			slog.String("grant", grant),
			slog.Int("status", resp.StatusCode),
			slog.String("reason", http.StatusText(resp.StatusCode)),
			slog.String("body", truncate(string(body), 512)),
		)
		return false
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		m.logger.ErrorContext(ctx, "decode token response failed",
			slog.String("grant", grant),
			slog.String("error", err.Error()),
		)
		return false
	}
	if tok.AccessToken == "" {
		m.logger.ErrorContext(ctx, "token response without access_token",
			slog.String("grant", grant),
		)
		return false
	}

	m.store.Set(Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    time.Duration(tok.ExpiresIn * float64(time.Second)),
		GrantedAt:    grantedAt,
	})
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...(%d bytes)", s[:n], len(s))
}
