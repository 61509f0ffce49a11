package oauth2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

var (
	// ErrMissingCode means the redirect arrived without an
	// authorization code.
	ErrMissingCode = errors.New("authorization code missing in callback")
	// ErrStateMismatch means the returned state does not exactly match
	// the persisted attempt. Hard gate: the code is never exchanged.
	ErrStateMismatch = errors.New("state parameter does not match pending attempt")
	// ErrNoPendingAttempt means no attempt is persisted in the store,
	// e.g. the callback was invoked without a prior Begin.
	ErrNoPendingAttempt = errors.New("no pending authorization attempt")
)

// SuccessRedirectDelay is how long the web layer shows the success
// notice before redirecting to the authenticated area.
const SuccessRedirectDelay = 2 * time.Second

// HandleCallback processes the query parameters of the redirect back
// from the authorization server. On success the token set is persisted
// and the attempt slot is cleared. Exchange failures are never retried;
// codes are single use and a replay would fail identically.
func (rp *RelyingParty) HandleCallback(ctx context.Context, query url.Values) (*TokenResponse, error) {
	if errCode := query.Get("error"); errCode != "" {
		return nil, &Error{
			Code:        errCode,
			Description: query.Get("error_description"),
		}
	}

	code := query.Get("code")
	if code == "" {
		return nil, ErrMissingCode
	}

	expectedState, ok := rp.store.Get(KeyState)
	if !ok || expectedState == "" {
		return nil, ErrNoPendingAttempt
	}
	if query.Get("state") != expectedState {
		slog.Warn("rejecting callback with mismatched state")
		return nil, ErrStateMismatch
	}

	verifier, ok := rp.store.Get(KeyCodeVerifier)
	if !ok {
		return nil, ErrNoPendingAttempt
	}

	tokens, err := rp.client.Exchange(ctx, code, verifier)
	if err != nil {
		return nil, err
	}

	if tokens.IDToken != "" && rp.client.keyCache != nil {
		if _, err := rp.client.ParseIDToken(ctx, tokens.IDToken); err != nil {
			return nil, fmt.Errorf("verifying id token: %w", err)
		}
	}

	if err := rp.persistTokens(tokens); err != nil {
		return nil, err
	}

	rp.store.Delete(KeyState)
	rp.store.Delete(KeyCodeVerifier)

	slog.Info("authorization code exchanged", "client_id", rp.client.ClientID())

	return tokens, nil
}

func (rp *RelyingParty) persistTokens(tokens *TokenResponse) error {
	if err := rp.store.Set(KeyAccessToken, tokens.AccessToken); err != nil {
		return fmt.Errorf("persisting access token: %w", err)
	}
	if err := rp.store.Set(KeyRefreshToken, tokens.RefreshToken); err != nil {
		return fmt.Errorf("persisting refresh token: %w", err)
	}
	if tokens.IDToken != "" {
		if err := rp.store.Set(KeyIDToken, tokens.IDToken); err != nil {
			return fmt.Errorf("persisting id token: %w", err)
		}
	}
	return nil
}
