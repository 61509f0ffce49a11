package oauth2

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mbrandt/authkit/pkg/storage"
	"github.com/segmentio/ksuid"
)

// Storage keys shared with the front-end contract. One slot per store:
// a second Begin on the same store replaces the pending attempt.
const (
	KeyState        = "oauth_state"
	KeyCodeVerifier = "oauth_code_verifier"
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyIDToken      = "id_token"
)

// Attempt is one in-flight authorization attempt. State and verifier
// are persisted so the callback can find them after the full browser
// navigation round-trip.
type Attempt struct {
	ID        string
	State     string
	Verifier  string
	AuthURL   string
	CreatedAt time.Time
}

// RelyingParty drives the authorization-code round trip: Begin
// constructs the redirect and persists the attempt, HandleCallback
// validates the return leg and performs the exchange.
type RelyingParty struct {
	client *Client
	store  storage.Store
}

func NewRelyingParty(client *Client, store storage.Store) *RelyingParty {
	return &RelyingParty{
		client: client,
		store:  store,
	}
}

// Begin generates a fresh state and verifier, persists them and returns
// the attempt with the authorization URL to redirect the user agent to.
func (rp *RelyingParty) Begin() (*Attempt, error) {
	state := GenerateState()
	verifier := GenerateCodeVerifier()

	authURL, err := rp.client.AuthCodeURL(state, verifier)
	if err != nil {
		return nil, fmt.Errorf("building authorization url: %w", err)
	}

	if err := rp.store.Set(KeyState, state); err != nil {
		return nil, fmt.Errorf("persisting state: %w", err)
	}
	if err := rp.store.Set(KeyCodeVerifier, verifier); err != nil {
		return nil, fmt.Errorf("persisting code verifier: %w", err)
	}

	attempt := &Attempt{
		ID:        ksuid.New().String(),
		State:     state,
		Verifier:  verifier,
		AuthURL:   authURL,
		CreatedAt: time.Now(),
	}

	slog.Info("authorization attempt started", "attempt_id", attempt.ID, "client_id", rp.client.ClientID())

	return attempt, nil
}
