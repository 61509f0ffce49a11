// Package authctx holds the authenticated-session state as an explicit
// context object: initialized with a fetch-on-start, refreshed on
// demand, and passed to whatever needs the "is there a valid session"
// signal. No ambient global state.
package authctx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mbrandt/authkit/pkg/kratos"
	"github.com/mbrandt/authkit/pkg/oauth2"
	"github.com/mbrandt/authkit/pkg/storage"
)

type Option func(*Context)

// WithTokenStore wires the OAuth2 token store into logout: persisted
// tokens are revoked best-effort and the store is wiped.
func WithTokenStore(tokens *oauth2.Client, store storage.Store) Option {
	return func(c *Context) {
		c.tokens = tokens
		c.store = store
	}
}

// Context is the session accessor. A nil session means unauthenticated;
// "definitely logged out" and "transient fetch failure" are deliberately
// not distinguished.
type Context struct {
	client *kratos.Client
	tokens *oauth2.Client
	store  storage.Store

	lock    sync.RWMutex
	session *kratos.Session
}

func New(client *kratos.Client, opts ...Option) *Context {
	c := &Context{client: client}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh fetches the current session from the flow API. Any failure
// collapses to unauthenticated.
func (c *Context) Refresh(ctx context.Context) *kratos.Session {
	session, err := c.client.Whoami(ctx)
	if err != nil {
		slog.Debug("session fetch failed, treating as unauthenticated", "error", err)
		session = nil
	}

	c.lock.Lock()
	c.session = session
	c.lock.Unlock()
	return session
}

func (c *Context) Session() *kratos.Session {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.session
}

func (c *Context) IsAuthenticated() bool {
	return c.Session() != nil
}

// Logout tears the session down: backend logout and token revocation
// are best-effort, wiping local state is mandatory and happens even
// when every remote call fails.
func (c *Context) Logout(ctx context.Context) error {
	if logoutFlow, err := c.client.CreateLogoutFlow(ctx); err != nil {
		slog.Warn("could not obtain logout url", "error", err)
	} else if err := c.client.PerformLogout(ctx, logoutFlow); err != nil {
		slog.Warn("backend logout failed", "error", err)
	}

	c.revokeTokens(ctx)

	if c.store != nil {
		if err := c.store.Clear(); err != nil {
			return fmt.Errorf("clearing local auth state: %w", err)
		}
	}

	c.lock.Lock()
	c.session = nil
	c.lock.Unlock()
	return nil
}

func (c *Context) revokeTokens(ctx context.Context) {
	if c.tokens == nil || c.store == nil {
		return
	}
	for _, key := range []string{oauth2.KeyAccessToken, oauth2.KeyRefreshToken} {
		token, ok := c.store.Get(key)
		if !ok || token == "" {
			continue
		}
		if err := c.tokens.Revoke(ctx, token); err != nil {
			slog.Warn("token revocation failed", "key", key, "error", err)
		}
	}
}
