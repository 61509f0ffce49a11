// Package web is the thin BFF surface over the auth core: it translates
// HTTP requests from a front-end into flow machine, relying-party and
// session accessor calls and renders the typed results as JSON. No
// rendering logic lives here.
package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"

	"github.com/mbrandt/authkit/pkg/authctx"
	"github.com/mbrandt/authkit/pkg/flow"
	"github.com/mbrandt/authkit/pkg/kratos"
	"github.com/mbrandt/authkit/pkg/oauth2"
	"github.com/mbrandt/authkit/pkg/storage"
)

const (
	sessionCookieName = "authkit_sid"
	uiSessionTTL      = 30 * time.Minute
)

// StoreFactory builds the persisted auth state store for one UI
// session.
type StoreFactory func(sessionID string) (storage.Store, error)

type Option func(*Server)

// WithStoreFactory replaces the default in-memory store per UI session,
// e.g. with file-backed stores.
func WithStoreFactory(factory StoreFactory) Option {
	return func(s *Server) {
		s.newStore = factory
	}
}

// Server owns one auth core per browser session, keyed by the session
// cookie. Each UI session has its own flow cookies, machines and
// single-slot attempt store, so concurrent browsers do not clobber each
// other's attempts.
type Server struct {
	kratosConfig kratos.Config
	oauthClient  *oauth2.Client
	newStore     StoreFactory
	sessions     *ttlcache.Cache[string, *uiSession]
}

func NewServer(kratosConfig kratos.Config, oauthConfig oauth2.Config, opts ...Option) (*Server, error) {
	oauthClient, err := oauth2.NewClient(oauthConfig)
	if err != nil {
		return nil, fmt.Errorf("creating oauth2 client: %w", err)
	}

	s := &Server{
		kratosConfig: kratosConfig,
		oauthClient:  oauthClient,
		newStore: func(string) (storage.Store, error) {
			return storage.NewMemoryStore(), nil
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sessions = ttlcache.New(
		ttlcache.WithTTL[string, *uiSession](uiSessionTTL),
	)
	go s.sessions.Start()

	return s, nil
}

// Close stops the UI session cache cleanup.
func (s *Server) Close() {
	s.sessions.Stop()
}

func ErrorLogMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			slog.Error("request failed", "error", err, "path", c.Path(), "remote_addr", c.RealIP())
		}
		return err
	}
}

func (s *Server) MountRoutes(group *echo.Group) {
	group.Use(ErrorLogMiddleware)
	group.GET("/session", s.SessionEndpoint)
	group.POST("/flows/:kind", s.StartFlowEndpoint)
	group.POST("/flows/:kind/submit", s.SubmitFlowEndpoint)
	group.GET("/oauth/start", s.OAuthStartEndpoint)
	group.GET("/callback", s.CallbackEndpoint)
	group.POST("/logout", s.LogoutEndpoint)
}

// uiSession is the per-browser-session slice of the auth core.
type uiSession struct {
	store storage.Store
	auth  *authctx.Context
	rp    *oauth2.RelyingParty

	lock     sync.Mutex
	machines map[kratos.FlowKind]*flow.Machine
	client   *kratos.Client
}

func (s *Server) newUISession(id string) (*uiSession, error) {
	client, err := kratos.NewClient(s.kratosConfig)
	if err != nil {
		return nil, fmt.Errorf("creating flow client: %w", err)
	}

	store, err := s.newStore(id)
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}

	return &uiSession{
		store:    store,
		auth:     authctx.New(client, authctx.WithTokenStore(s.oauthClient, store)),
		rp:       oauth2.NewRelyingParty(s.oauthClient, store),
		machines: make(map[kratos.FlowKind]*flow.Machine),
		client:   client,
	}, nil
}

func (u *uiSession) machineFor(kind kratos.FlowKind) *flow.Machine {
	u.lock.Lock()
	defer u.lock.Unlock()
	machine, ok := u.machines[kind]
	if !ok {
		machine = flow.NewMachine(kind, u.client, u.auth)
		u.machines[kind] = machine
	}
	return machine
}

func (s *Server) uiSession(c echo.Context) (*uiSession, error) {
	if cookie, err := c.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if item := s.sessions.Get(cookie.Value); item != nil {
			return item.Value(), nil
		}
	}

	id := ksuid.New().String()
	session, err := s.newUISession(id)
	if err != nil {
		return nil, err
	}
	s.sessions.Set(id, session, ttlcache.DefaultTTL)

	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return session, nil
}
