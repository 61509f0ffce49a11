// Package flow drives a login or registration flow through its
// life-cycle against the self-service flow API: initialize, await
// submission, submit, and the rejection/expiry/success transitions.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mbrandt/authkit/pkg/kratos"
)

type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateSubmitting
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSubmitting:
		return "submitting"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Credentials is the transient caller-held input for one submission
// attempt. Never persisted beyond the submission call.
type Credentials struct {
	Identifier string
	Password   string
	Email      string
	FirstName  string
	LastName   string
}

// SessionRefresher re-fetches the authenticated session. The accepted
// submission response does not carry full identity data, so the machine
// refreshes before declaring itself authenticated.
type SessionRefresher interface {
	Refresh(ctx context.Context) *kratos.Session
}

var (
	// ErrNoActiveFlow means Submit was called without a Ready flow.
	ErrNoActiveFlow = errors.New("no flow loaded")
	// ErrSuperseded means a response arrived after the machine was
	// reset or re-initialized; the result was dropped without touching
	// state.
	ErrSuperseded = errors.New("flow attempt superseded")
)

// Machine drives one flow of one kind. Methods are safe for concurrent
// use; late responses from abandoned attempts are detected via a
// generation counter and dropped.
type Machine struct {
	kind     kratos.FlowKind
	client   *kratos.Client
	sessions SessionRefresher

	lock       sync.Mutex
	state      State
	flow       *kratos.Flow
	session    *kratos.Session
	notice     string
	generation uint64
}

func NewMachine(kind kratos.FlowKind, client *kratos.Client, sessions SessionRefresher) *Machine {
	return &Machine{
		kind:     kind,
		client:   client,
		sessions: sessions,
	}
}

func (m *Machine) State() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state
}

// Flow returns the currently loaded flow, nil unless Ready.
func (m *Machine) Flow() *kratos.Flow {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.flow
}

func (m *Machine) Session() *kratos.Session {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.session
}

// Notice returns the current user-facing notice, e.g. the flow-expired
// message. Cleared on the next Init.
func (m *Machine) Notice() string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.notice
}

func (m *Machine) expiredNotice() string {
	return fmt.Sprintf("The %s flow expired, please try again.", m.kind)
}

// Init loads the flow. A non-empty flowID resumes an existing flow; if
// the backend reports it expired or unknown, Init silently falls back
// to a fresh flow and surfaces a user-facing notice instead of failing.
func (m *Machine) Init(ctx context.Context, flowID string) error {
	m.lock.Lock()
	m.state = StateLoading
	m.flow = nil
	m.notice = ""
	m.generation++
	generation := m.generation
	m.lock.Unlock()

	var notice string
	flow, err := m.loadFlow(ctx, flowID, &notice)

	m.lock.Lock()
	defer m.lock.Unlock()
	if generation != m.generation {
		return ErrSuperseded
	}
	if err != nil {
		m.state = StateUninitialized
		return fmt.Errorf("initializing %s flow: %w", m.kind, err)
	}

	m.flow = flow
	m.notice = notice
	m.state = StateReady
	return nil
}

func (m *Machine) loadFlow(ctx context.Context, flowID string, notice *string) (*kratos.Flow, error) {
	if flowID != "" {
		flow, err := m.client.GetFlow(ctx, m.kind, flowID)
		if err == nil {
			return flow, nil
		}
		if !errors.Is(err, kratos.ErrFlowNotFound) {
			return nil, err
		}
		slog.Info("flow expired, creating a fresh one", "kind", m.kind, "flow_id", flowID)
		*notice = m.expiredNotice()
	}
	return m.client.CreateFlow(ctx, m.kind)
}

// Submit posts the credentials against the loaded flow. The anti-CSRF
// token is extracted from the flow's own nodes; a missing token node is
// a protocol violation and fails before any network call. On rejection
// the replacement flow is swapped in, so an identical re-submission
// carries the rotated token. On success the session is refreshed before
// the machine declares itself Authenticated.
func (m *Machine) Submit(ctx context.Context, credentials Credentials) (*kratos.Session, error) {
	m.lock.Lock()
	if m.state != StateReady {
		m.lock.Unlock()
		return nil, ErrNoActiveFlow
	}
	flow := m.flow
	generation := m.generation
	m.state = StateSubmitting
	m.lock.Unlock()

	csrfToken, err := flow.CSRFToken()
	if err != nil {
		m.backToReady(generation)
		return nil, err
	}

	body, err := m.submissionBody(credentials, csrfToken)
	if err != nil {
		m.backToReady(generation)
		return nil, err
	}

	_, err = m.client.SubmitFlow(ctx, m.kind, flow.ID, body)
	if err == nil {
		return m.finishAuthenticated(ctx, generation)
	}

	var validationErr *kratos.ValidationError
	switch {
	case errors.As(err, &validationErr):
		m.lock.Lock()
		defer m.lock.Unlock()
		if generation != m.generation {
			return nil, ErrSuperseded
		}
		m.flow = validationErr.Flow
		m.state = StateReady
		return nil, err
	case errors.Is(err, kratos.ErrFlowNotFound):
		// the flow expired between render and submit; auto re-create
		return nil, m.recreateExpired(ctx, generation, err)
	default:
		m.backToReady(generation)
		return nil, err
	}
}

func (m *Machine) finishAuthenticated(ctx context.Context, generation uint64) (*kratos.Session, error) {
	session := m.sessions.Refresh(ctx)

	m.lock.Lock()
	defer m.lock.Unlock()
	if generation != m.generation {
		return nil, ErrSuperseded
	}
	m.flow = nil
	m.session = session
	m.state = StateAuthenticated
	slog.Info("flow completed", "kind", m.kind)
	return session, nil
}

func (m *Machine) recreateExpired(ctx context.Context, generation uint64, cause error) error {
	m.lock.Lock()
	if generation != m.generation {
		m.lock.Unlock()
		return ErrSuperseded
	}
	m.state = StateLoading
	m.lock.Unlock()

	flow, createErr := m.client.CreateFlow(ctx, m.kind)

	m.lock.Lock()
	defer m.lock.Unlock()
	if generation != m.generation {
		return ErrSuperseded
	}
	if createErr != nil {
		m.state = StateUninitialized
		return fmt.Errorf("re-initializing expired %s flow: %w", m.kind, createErr)
	}
	m.flow = flow
	m.notice = m.expiredNotice()
	m.state = StateReady
	return cause
}

func (m *Machine) backToReady(generation uint64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if generation != m.generation {
		return
	}
	m.state = StateReady
}

func (m *Machine) submissionBody(credentials Credentials, csrfToken string) (any, error) {
	switch m.kind {
	case kratos.FlowKindLogin:
		return kratos.LoginSubmission{
			Method:     "password",
			Identifier: credentials.Identifier,
			Password:   credentials.Password,
			CSRFToken:  csrfToken,
		}, nil
	case kratos.FlowKindRegistration:
		return kratos.RegistrationSubmission{
			Method:   "password",
			Password: credentials.Password,
			Traits: kratos.Traits{
				Email: credentials.Email,
				Name: kratos.Name{
					First: credentials.FirstName,
					Last:  credentials.LastName,
				},
			},
			CSRFToken: csrfToken,
		}, nil
	}
	return nil, fmt.Errorf("unsupported flow kind: %q", m.kind)
}

// Reset abandons the current flow or attempt. In-flight responses for
// the abandoned attempt are dropped when they arrive.
func (m *Machine) Reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.generation++
	m.state = StateUninitialized
	m.flow = nil
	m.session = nil
	m.notice = ""
}
