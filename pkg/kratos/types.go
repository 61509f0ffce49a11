// Package kratos is a thin client for the Ory Kratos compatible
// self-service flow API: login and registration flows, the current
// session, and the logout flow. All calls carry credentials (cookies).
package kratos

import (
	"errors"
	"time"
)

type FlowKind string

const (
	FlowKindLogin        FlowKind = "login"
	FlowKindRegistration FlowKind = "registration"
)

func ParseFlowKind(s string) (FlowKind, error) {
	switch FlowKind(s) {
	case FlowKindLogin, FlowKindRegistration:
		return FlowKind(s), nil
	}
	return "", errors.New("unknown flow kind: " + s)
}

// CSRFTokenNodeName is the well-known field name of the anti-CSRF token
// node present in every flow. Its current value must be echoed back
// verbatim on submission.
const CSRFTokenNodeName = "csrf_token"

// Flow is one in-progress self-service operation. It is replaced
// wholesale by the flow API on every fetch and on every rejected
// submission; the anti-CSRF token rotates with it.
type Flow struct {
	ID        string      `json:"id"`
	Type      string      `json:"type,omitempty"`
	IssuedAt  time.Time   `json:"issued_at,omitempty"`
	ExpiresAt time.Time   `json:"expires_at,omitempty"`
	UI        UIContainer `json:"ui"`
}

type UIContainer struct {
	Action   string   `json:"action,omitempty"`
	Method   string   `json:"method,omitempty"`
	Nodes    []UINode `json:"nodes"`
	Messages []UIText `json:"messages,omitempty"`
}

type UINode struct {
	Type       string           `json:"type"`
	Group      string           `json:"group,omitempty"`
	Attributes UINodeAttributes `json:"attributes"`
	Messages   []UIText         `json:"messages,omitempty"`
}

type UINodeAttributes struct {
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	Value    string `json:"value,omitempty"`
	NodeType string `json:"node_type,omitempty"`
	Required bool   `json:"required,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

type UIText struct {
	ID   int64  `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// ErrMissingCSRFNode means the flow carries no anti-CSRF token node.
// That is a protocol violation; submitting without the token would be
// rejected by the backend anyway, failing fast gives a clearer
// diagnostic.
var ErrMissingCSRFNode = errors.New("flow has no csrf_token node")

// CSRFToken returns the current anti-CSRF token value of the flow.
func (f *Flow) CSRFToken() (string, error) {
	for _, node := range f.UI.Nodes {
		if node.Attributes.NodeType == "input" && node.Attributes.Name == CSRFTokenNodeName {
			return node.Attributes.Value, nil
		}
	}
	return "", ErrMissingCSRFNode
}

// FieldErrors collects validation messages by field name. Flow-level
// messages are keyed under the empty string.
func (f *Flow) FieldErrors() map[string][]string {
	errs := make(map[string][]string)
	for _, msg := range f.UI.Messages {
		if msg.Type == "error" {
			errs[""] = append(errs[""], msg.Text)
		}
	}
	for _, node := range f.UI.Nodes {
		for _, msg := range node.Messages {
			if msg.Type == "error" {
				errs[node.Attributes.Name] = append(errs[node.Attributes.Name], msg.Text)
			}
		}
	}
	return errs
}

// Identity traits are backend-defined; everything beyond the id is
// treated as opaque key/value traits.
type Identity struct {
	ID     string         `json:"id"`
	Traits map[string]any `json:"traits"`
}

type AuthenticationMethod struct {
	Method      string    `json:"method"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Session is the sole source of truth for "is the caller
// authenticated".
type Session struct {
	ID                    string                 `json:"id"`
	Active                bool                   `json:"active"`
	AuthenticatedAt       time.Time              `json:"authenticated_at,omitempty"`
	ExpiresAt             time.Time              `json:"expires_at,omitempty"`
	AuthenticationMethods []AuthenticationMethod `json:"authentication_methods,omitempty"`
	Identity              *Identity              `json:"identity"`
}

type LogoutFlow struct {
	LogoutURL   string `json:"logout_url"`
	LogoutToken string `json:"logout_token,omitempty"`
}

// LoginSubmission is the password-method body for a login flow.
type LoginSubmission struct {
	Method     string `json:"method"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	CSRFToken  string `json:"csrf_token"`
}

// RegistrationSubmission is the password-method body for a registration
// flow, with the identity traits nested the way the backend schema
// expects them.
type RegistrationSubmission struct {
	Method    string `json:"method"`
	Password  string `json:"password"`
	Traits    Traits `json:"traits"`
	CSRFToken string `json:"csrf_token"`
}

type Traits struct {
	Email string `json:"email"`
	Name  Name   `json:"name"`
}

type Name struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

// SubmitResult is the accepted-submission response. The session here
// may be partial; callers refresh via the session accessor before
// relying on identity data.
type SubmitResult struct {
	Session *Session `json:"session,omitempty"`
}
