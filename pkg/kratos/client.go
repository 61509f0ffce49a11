package kratos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
)

type Config struct {
	// PublicURL is the public base URL of the flow API, e.g.
	// http://localhost:4433.
	PublicURL string
	// HTTPClient overrides the default client. A cookie jar is attached
	// if the client has none, the flow API tracks both the flow CSRF
	// cookie and the session cookie.
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(config Config) (*Client, error) {
	if config.PublicURL == "" {
		return nil, fmt.Errorf("flow API public URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	return &Client{
		baseURL: strings.TrimRight(config.PublicURL, "/"),
		http:    httpClient,
	}, nil
}

// CreateFlow initializes a fresh browser-mode flow of the given kind.
func (c *Client) CreateFlow(ctx context.Context, kind FlowKind) (*Flow, error) {
	endpoint := fmt.Sprintf("%s/self-service/%s/browser", c.baseURL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("creating %s flow: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("creating %s flow: unexpected status %d", kind, resp.StatusCode)
	}

	var flow Flow
	if err := json.NewDecoder(resp.Body).Decode(&flow); err != nil {
		return nil, fmt.Errorf("decoding %s flow: %w", kind, err)
	}

	slog.Debug("flow created", "kind", kind, "flow_id", flow.ID)
	return &flow, nil
}

// GetFlow retrieves an existing flow by id, e.g. when the caller deep
// links into a flow. Expired or unknown ids yield ErrFlowNotFound.
func (c *Client) GetFlow(ctx context.Context, kind FlowKind, id string) (*Flow, error) {
	endpoint := fmt.Sprintf("%s/self-service/%s/flows?id=%s", c.baseURL, kind, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s flow: %w", kind, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return nil, ErrFlowNotFound
	default:
		return nil, fmt.Errorf("fetching %s flow: unexpected status %d", kind, resp.StatusCode)
	}

	var flow Flow
	if err := json.NewDecoder(resp.Body).Decode(&flow); err != nil {
		return nil, fmt.Errorf("decoding %s flow: %w", kind, err)
	}
	return &flow, nil
}

// SubmitFlow posts the method-specific body against the flow. Three
// outcomes: accepted (SubmitResult), rejected with a replacement flow
// (*ValidationError), or a transport/unexpected failure.
func (c *Client) SubmitFlow(ctx context.Context, kind FlowKind, id string, body any) (*SubmitResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s submission: %w", kind, err)
	}

	endpoint := fmt.Sprintf("%s/self-service/%s?flow=%s", c.baseURL, kind, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submitting %s flow: %w", kind, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s submission response: %w", kind, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var result SubmitResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("decoding %s submission response: %w", kind, err)
		}
		return &result, nil
	case http.StatusBadRequest:
		// the backend returns the replacement flow with per-field
		// errors and a rotated anti-CSRF token
		var flow Flow
		if err := json.Unmarshal(raw, &flow); err == nil && len(flow.UI.Nodes) > 0 {
			return nil, &ValidationError{Flow: &flow}
		}
		return nil, fmt.Errorf("submitting %s flow: unexpected status %d", kind, resp.StatusCode)
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return nil, ErrFlowNotFound
	default:
		return nil, fmt.Errorf("submitting %s flow: unexpected status %d", kind, resp.StatusCode)
	}
}

// Whoami fetches the current session. Callers treat any failure,
// including "no active session", as unauthenticated.
func (c *Client) Whoami(ctx context.Context) (*Session, error) {
	endpoint := c.baseURL + "/sessions/whoami"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching session: unexpected status %d", resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &session, nil
}

// CreateLogoutFlow obtains the backend-issued logout URL.
func (c *Client) CreateLogoutFlow(ctx context.Context) (*LogoutFlow, error) {
	endpoint := c.baseURL + "/self-service/logout/browser"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("creating logout flow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("creating logout flow: unexpected status %d", resp.StatusCode)
	}

	var flow LogoutFlow
	if err := json.NewDecoder(resp.Body).Decode(&flow); err != nil {
		return nil, fmt.Errorf("decoding logout flow: %w", err)
	}
	return &flow, nil
}

// PerformLogout executes the logout URL from the logout flow.
func (c *Client) PerformLogout(ctx context.Context, flow *LogoutFlow) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, flow.LogoutURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("performing logout: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("performing logout: unexpected status %d", resp.StatusCode)
	}
	return nil
}
