package authctx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mbrandt/authkit/pkg/kratos"
	"github.com/mbrandt/authkit/pkg/oauth2"
	"github.com/mbrandt/authkit/pkg/storage"
)

type fakeBackends struct {
	flowAPI       *httptest.Server
	authServer    *httptest.Server
	authenticated bool
	failLogout    bool
	failRevoke    bool
	revokeCalls   int
	logoutCalls   int
}

func newFakeBackends(t *testing.T) *fakeBackends {
	t.Helper()
	backends := &fakeBackends{}

	flowMux := http.NewServeMux()
	flowMux.HandleFunc("GET /sessions/whoami", func(w http.ResponseWriter, r *http.Request) {
		if !backends.authenticated {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(kratos.Session{
			ID:       "session-id",
			Active:   true,
			Identity: &kratos.Identity{ID: "identity-id", Traits: map[string]any{"email": "user@example.com"}},
		})
	})
	flowMux.HandleFunc("GET /self-service/logout/browser", func(w http.ResponseWriter, r *http.Request) {
		if backends.failLogout {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(kratos.LogoutFlow{LogoutURL: backends.flowAPI.URL + "/logout"})
	})
	flowMux.HandleFunc("GET /logout", func(w http.ResponseWriter, r *http.Request) {
		backends.logoutCalls++
		backends.authenticated = false
		w.WriteHeader(http.StatusNoContent)
	})
	backends.flowAPI = httptest.NewServer(flowMux)
	t.Cleanup(backends.flowAPI.Close)

	authMux := http.NewServeMux()
	authMux.HandleFunc("POST /oauth2/revoke", func(w http.ResponseWriter, r *http.Request) {
		backends.revokeCalls++
		if backends.failRevoke {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	backends.authServer = httptest.NewServer(authMux)
	t.Cleanup(backends.authServer.Close)

	return backends
}

func newTestContext(t *testing.T, backends *fakeBackends, store storage.Store) *Context {
	t.Helper()
	flowClient, err := kratos.NewClient(kratos.Config{PublicURL: backends.flowAPI.URL})
	if err != nil {
		t.Fatal(err)
	}
	tokenClient, err := oauth2.NewClient(oauth2.Config{
		IssuerURL:   backends.authServer.URL,
		ClientID:    "test-client",
		RedirectURI: "http://localhost:3000/callback",
	})
	if err != nil {
		t.Fatal(err)
	}
	return New(flowClient, WithTokenStore(tokenClient, store))
}

func TestRefreshCollapsesFailureToUnauthenticated(t *testing.T) {
	backends := newFakeBackends(t)
	authCtx := newTestContext(t, backends, storage.NewMemoryStore())

	if session := authCtx.Refresh(context.Background()); session != nil {
		t.Fatal("expected nil session without an active backend session")
	}
	if authCtx.IsAuthenticated() {
		t.Fatal("expected unauthenticated")
	}
}

func TestRefreshFetchesSession(t *testing.T) {
	backends := newFakeBackends(t)
	backends.authenticated = true
	authCtx := newTestContext(t, backends, storage.NewMemoryStore())

	session := authCtx.Refresh(context.Background())
	if session == nil || session.Identity == nil {
		t.Fatal("expected a session with identity")
	}
	if !authCtx.IsAuthenticated() {
		t.Fatal("expected authenticated")
	}
	if authCtx.Session() != session {
		t.Fatal("Session must return the refreshed session")
	}
}

func TestLogoutRevokesAndClears(t *testing.T) {
	backends := newFakeBackends(t)
	backends.authenticated = true

	store := storage.NewMemoryStore()
	store.Set(oauth2.KeyAccessToken, "access-token-value")
	store.Set(oauth2.KeyRefreshToken, "refresh-token-value")
	store.Set(oauth2.KeyIDToken, "id-token-value")

	authCtx := newTestContext(t, backends, store)
	authCtx.Refresh(context.Background())

	if err := authCtx.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if backends.logoutCalls != 1 {
		t.Fatalf("expected one backend logout, got %d", backends.logoutCalls)
	}
	if backends.revokeCalls != 2 {
		t.Fatalf("expected access and refresh tokens revoked, got %d calls", backends.revokeCalls)
	}
	for _, key := range []string{oauth2.KeyAccessToken, oauth2.KeyRefreshToken, oauth2.KeyIDToken} {
		if _, ok := store.Get(key); ok {
			t.Fatalf("key %s not cleared on logout", key)
		}
	}
	if authCtx.IsAuthenticated() {
		t.Fatal("expected unauthenticated after logout")
	}
}

func TestLogoutClearsLocalStateWhenRemoteFails(t *testing.T) {
	backends := newFakeBackends(t)
	backends.authenticated = true
	backends.failLogout = true
	backends.failRevoke = true

	store := storage.NewMemoryStore()
	store.Set(oauth2.KeyAccessToken, "access-token-value")
	store.Set(oauth2.KeyRefreshToken, "refresh-token-value")

	authCtx := newTestContext(t, backends, store)
	authCtx.Refresh(context.Background())

	if err := authCtx.Logout(context.Background()); err != nil {
		t.Fatalf("logout must not fail on remote errors: %v", err)
	}
	for _, key := range []string{oauth2.KeyAccessToken, oauth2.KeyRefreshToken} {
		if _, ok := store.Get(key); ok {
			t.Fatalf("key %s must be cleared even when remote teardown fails", key)
		}
	}
	if authCtx.IsAuthenticated() {
		t.Fatal("expected unauthenticated after logout")
	}
}
