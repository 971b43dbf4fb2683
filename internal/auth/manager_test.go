package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTokenServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Manager, *Store) {
	t.Helper()
	ts := httptest.NewTLSServer(handler)
	t.Cleanup(ts.Close)

	store := NewStore()
	m := NewManager(ManagerConfig{
		TokenURL:   ts.URL + "/auth/oauth/v2/token",
		ClientID:   "glocalflexmarket_public_api",
		Username:   "alice",
		Password:   "secret",
		HTTPClient: ts.Client(),
	}, store, discardLogger())
	return ts, m, store
}

func TestRequestNewTokenSendsPasswordGrant(t *testing.T) {
	_, m, store := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content-type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		want := map[string]string{
			"client_id":  "glocalflexmarket_public_api",
			"grant_type": "password",
			"username":   "alice",
			"password":   "secret",
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("form %s = %q, want %q", k, got, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"acc","refresh_token":"ref","expires_in":300}`)
	})

	if !m.RequestNewToken(context.Background()) {
		t.Fatal("RequestNewToken returned false")
	}
	cred, ok := store.Current()
	if !ok {
		t.Fatal("store empty after grant")
	}
	if cred.AccessToken != "acc" || cred.RefreshToken != "ref" || cred.ExpiresIn != 300*time.Second {
		t.Fatalf("unexpected credential %+v", cred)
	}
	if m.AccessToken() != "acc" {
		t.Fatalf("AccessToken = %q", m.AccessToken())
	}
	if m.State() != StateValid {
		t.Fatalf("State = %v", m.State())
	}
}

func TestShortLivedTokenIsImmediatelyExpiring(t *testing.T) {
	_, m, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access_token":"a","refresh_token":"b","expires_in":60}`)
	})

	if !m.RequestNewToken(context.Background()) {
		t.Fatal("RequestNewToken returned false")
	}
	if !m.CheckExpiry() {
		t.Fatal("a 60s token with a 60s margin must be expiring immediately")
	}
	if m.State() != StateExpiringSoon {
		t.Fatalf("State = %v", m.State())
	}
}

func TestGrantTimeTakenBeforeRequest(t *testing.T) {
	start := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	var clock atomic.Int64
	clock.Store(start.UnixNano())

	_, m, store := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		// A slow token endpoint.
		clock.Add(int64(20 * time.Second))
		_, _ = io.WriteString(w, `{"access_token":"a","refresh_token":"b","expires_in":300}`)
	})
	m.now = func() time.Time { return time.Unix(0, clock.Load()).UTC() }

	if !m.RequestNewToken(context.Background()) {
		t.Fatal("RequestNewToken returned false")
	}
	cred, _ := store.Current()
	if !cred.GrantedAt.Equal(start) {
		t.Fatalf("GrantedAt = %s, want %s", cred.GrantedAt, start)
	}
	if want := start.Add(300 * time.Second); !cred.ExpiresAt().Equal(want) {
		t.Fatalf("ExpiresAt = %s, want %s", cred.ExpiresAt(), want)
	}
}

func TestRequestNewTokenNon200ReturnsFalse(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusBadRequest, http.StatusInternalServerError} {
		_, m, store := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"invalid_grant"}`, status)
		})
		if m.RequestNewToken(context.Background()) {
			t.Fatalf("status %d: expected false", status)
		}
		if _, ok := store.Current(); ok {
			t.Fatalf("status %d: store must stay empty", status)
		}
		if m.State() != StateUnauthenticated {
			t.Fatalf("status %d: State = %v", status, m.State())
		}
	}
}

func TestRequestNewTokenTransportFailure(t *testing.T) {
	ts := httptest.NewTLSServer(http.NotFoundHandler())
	url := ts.URL
	client := ts.Client()
	ts.Close()

	m := NewManager(ManagerConfig{TokenURL: url, HTTPClient: client}, NewStore(), discardLogger())
	if m.RequestNewToken(context.Background()) {
		t.Fatal("expected false for closed server")
	}
}

func TestRefreshTokenUsesRefreshGrant(t *testing.T) {
	var calls atomic.Int32
	_, m, store := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = r.ParseForm()
		switch r.PostForm.Get("grant_type") {
		case "password":
			_, _ = io.WriteString(w, `{"access_token":"a1","refresh_token":"r1","expires_in":300}`)
		case "refresh_token":
			if got := r.PostForm.Get("refresh_token"); got != "r1" {
				t.Errorf("refresh_token = %q", got)
			}
			if r.PostForm.Get("password") != "" {
				t.Error("refresh grant must not carry the password")
			}
			_, _ = io.WriteString(w, `{"access_token":"a2","refresh_token":"r2","expires_in":300}`)
		default:
			t.Errorf("unexpected grant %q", r.PostForm.Get("grant_type"))
		}
	})

	if !m.RequestNewToken(context.Background()) {
		t.Fatal("RequestNewToken returned false")
	}
	if !m.RefreshToken(context.Background()) {
		t.Fatal("RefreshToken returned false")
	}
	cred, _ := store.Current()
	if cred.AccessToken != "a2" || cred.RefreshToken != "r2" {
		t.Fatalf("credential after refresh = %+v", cred)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestRefreshFailureClearsStore(t *testing.T) {
	_, m, store := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("grant_type") == "refresh_token" {
			http.Error(w, "expired", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"a","refresh_token":"r","expires_in":300}`)
	})

	if !m.RequestNewToken(context.Background()) {
		t.Fatal("RequestNewToken returned false")
	}
	if m.RefreshToken(context.Background()) {
		t.Fatal("RefreshToken should fail")
	}
	if _, ok := store.Current(); ok {
		t.Fatal("store must be cleared after failed refresh")
	}
	if m.State() != StateUnauthenticated {
		t.Fatalf("State = %v", m.State())
	}
}

func TestRefreshWithoutCredentialMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	_, m, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	if m.RefreshToken(context.Background()) {
		t.Fatal("RefreshToken without credential must fail")
	}
	if calls.Load() != 0 {
		t.Fatalf("calls = %d, want 0", calls.Load())
	}
}

func TestMalformedTokenBody(t *testing.T) {
	for _, body := range []string{`not json`, `{"refresh_token":"r","expires_in":300}`} {
		_, m, _ := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		})
		if m.RequestNewToken(context.Background()) {
			t.Fatalf("body %q: expected false", body)
		}
	}
}
