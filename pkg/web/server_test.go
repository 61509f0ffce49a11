package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"

	"github.com/mbrandt/authkit/pkg/kratos"
	"github.com/mbrandt/authkit/pkg/oauth2"
)

type fakeStack struct {
	flowAPI       *httptest.Server
	authServer    *httptest.Server
	exchangeCalls int
}

func newFakeStack(t *testing.T) *fakeStack {
	t.Helper()
	stack := &fakeStack{}

	flowMux := http.NewServeMux()
	flowMux.HandleFunc("POST /self-service/login/browser", func(w http.ResponseWriter, r *http.Request) {
		flow := kratos.Flow{
			ID: ksuid.New().String(),
			UI: kratos.UIContainer{
				Nodes: []kratos.UINode{{
					Type: "input",
					Attributes: kratos.UINodeAttributes{
						Name:     kratos.CSRFTokenNodeName,
						Type:     "hidden",
						Value:    ksuid.New().String(),
						NodeType: "input",
					},
				}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(flow)
	})
	flowMux.HandleFunc("GET /sessions/whoami", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	stack.flowAPI = httptest.NewServer(flowMux)
	t.Cleanup(stack.flowAPI.Close)

	authMux := http.NewServeMux()
	authMux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		stack.exchangeCalls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(oauth2.TokenResponse{
			AccessToken:  "access-token-value",
			TokenType:    "bearer",
			ExpiresIn:    3600,
			RefreshToken: "refresh-token-value",
		})
	})
	stack.authServer = httptest.NewServer(authMux)
	t.Cleanup(stack.authServer.Close)

	return stack
}

func newTestHandler(t *testing.T, stack *fakeStack) http.Handler {
	t.Helper()
	server, err := NewServer(
		kratos.Config{PublicURL: stack.flowAPI.URL},
		oauth2.Config{
			IssuerURL:   stack.authServer.URL,
			ClientID:    "test-client",
			RedirectURI: "http://localhost:3000/callback",
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(server.Close)

	root := echo.New()
	server.MountRoutes(root.Group(""))
	return root
}

func doRequest(handler http.Handler, method, target string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSessionEndpointUnauthenticated(t *testing.T) {
	handler := newTestHandler(t, newFakeStack(t))

	rec := doRequest(handler, http.MethodGet, "/session", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"authenticated":false`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Fatal("expected a browser session cookie to be set")
	}
}

func TestStartFlowEndpoint(t *testing.T) {
	handler := newTestHandler(t, newFakeStack(t))

	rec := doRequest(handler, http.MethodPost, "/flows/login", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var view struct {
		State string       `json:"state"`
		Flow  *kratos.Flow `json:"flow"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.State != "ready" {
		t.Fatalf("expected ready state, got %s", view.State)
	}
	if view.Flow == nil || view.Flow.ID == "" {
		t.Fatal("expected a flow in the response")
	}
}

func TestStartFlowUnknownKind(t *testing.T) {
	handler := newTestHandler(t, newFakeStack(t))

	rec := doRequest(handler, http.MethodPost, "/flows/recovery", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestOAuthStartRedirects(t *testing.T) {
	handler := newTestHandler(t, newFakeStack(t))

	rec := doRequest(handler, http.MethodGet, "/oauth/start", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}

	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	query := location.Query()
	if query.Get("state") == "" {
		t.Fatal("redirect must carry a state parameter")
	}
	if query.Get("code_challenge") == "" {
		t.Fatal("redirect must carry a code challenge")
	}
	if query.Get("code_challenge_method") != "S256" {
		t.Fatalf("expected S256, got %s", query.Get("code_challenge_method"))
	}
}

func TestCallbackStateMismatch(t *testing.T) {
	stack := newFakeStack(t)
	handler := newTestHandler(t, stack)

	start := doRequest(handler, http.MethodGet, "/oauth/start", nil)
	cookies := start.Result().Cookies()

	rec := doRequest(handler, http.MethodGet, "/callback?code=the-code&state=wrong-state", cookies)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if stack.exchangeCalls != 0 {
		t.Fatal("token endpoint must not be called on state mismatch")
	}
}

func TestCallbackRoundTrip(t *testing.T) {
	stack := newFakeStack(t)
	handler := newTestHandler(t, stack)

	start := doRequest(handler, http.MethodGet, "/oauth/start", nil)
	cookies := start.Result().Cookies()

	location, err := url.Parse(start.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	state := location.Query().Get("state")

	rec := doRequest(handler, http.MethodGet, "/callback?code=the-code&state="+state, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if stack.exchangeCalls != 1 {
		t.Fatalf("expected one exchange call, got %d", stack.exchangeCalls)
	}
	if !strings.Contains(rec.Body.String(), "Authorization successful") {
		t.Fatalf("unexpected success page: %s", rec.Body.String())
	}

	delay := int(oauth2.SuccessRedirectDelay / time.Second)
	if !strings.Contains(rec.Body.String(), `content="2;url=/"`) || delay != 2 {
		t.Fatal("success page must redirect after the fixed delay")
	}
}
