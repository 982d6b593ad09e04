// Package session tracks who the client is logged in as.
//
// The Manager moves between three states. It starts Initializing, settles
// into Anonymous or Authenticated after Restore, and falls back to Anonymous
// on logout or when the backend rejects the stored credential. A live
// Session always carries the token currently held by the credential store.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"expenses/internal/api"
	"expenses/internal/credential"
	"expenses/internal/log"
)

type State int

const (
	Initializing State = iota
	Anonymous
	Authenticated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrAuthentication means the backend rejected the credentials or token.
	ErrAuthentication = errors.New("authentication failed")
	// ErrMissingField means a required registration field was empty.
	ErrMissingField = errors.New("missing required field")
	// ErrStorage means the credential store could not persist the token.
	ErrStorage = errors.New("credential storage unavailable")
)

// Session is the authenticated identity.
type Session struct {
	ID       int64
	Username string
	Email    string
	IsStaff  bool
	Token    string
	// ExpiresAt is read from the token without verifying it. Zero when the
	// token is not a JWT or carries no exp claim.
	ExpiresAt time.Time
}

// Backend is the part of the REST API the manager needs.
type Backend interface {
	CreateToken(ctx context.Context, username, password string) (string, error)
	Me(ctx context.Context, token string) (api.User, error)
	Register(ctx context.Context, r api.Registration) error
}

// Observer is called after every state transition.
type Observer func(State, Session)

type Manager struct {
	store   credential.Store
	backend Backend
	logger  *log.Logger

	mu        sync.RWMutex
	state     State
	current   Session
	observers []Observer

	ready     chan struct{}
	readyOnce sync.Once
}

func NewManager(store credential.Store, backend Backend, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Discard()
	}
	return &Manager{
		store:   store,
		backend: backend,
		logger:  logger.WithComponent(log.ComponentSession),
		state:   Initializing,
		ready:   make(chan struct{}),
	}
}

// OnChange registers fn to be called after each transition.
func (m *Manager) OnChange(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Ready is closed once the first Restore has settled.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current returns the session if the manager is Authenticated.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Authenticated {
		return Session{}, false
	}
	return m.current, true
}

// Token returns the bearer token of the current session, or "".
func (m *Manager) Token() string {
	s, _ := m.Current()
	return s.Token
}

// Restore rebuilds the session from the stored token. Without a token it
// settles Anonymous without touching the network. A token the backend does
// not accept is cleared.
func (m *Manager) Restore(ctx context.Context) State {
	defer m.readyOnce.Do(func() { close(m.ready) })

	token, ok := m.store.Get()
	if !ok {
		m.logger.DebugContext(ctx, "No stored credential", log.FieldOperation, log.OpRestore)
		m.transition(Anonymous, Session{})
		return Anonymous
	}

	m.transition(Initializing, Session{})

	user, err := m.backend.Me(ctx, token)
	if err != nil {
		fields := log.NewFields().WithOperation(log.OpRestore).WithError(err).WithErrorType(errorType(err))
		m.logger.WarnContext(ctx, "Stored credential not accepted, clearing", fields.ToSlice()...)
		m.clearStore(ctx)
		m.transition(Anonymous, Session{})
		return Anonymous
	}

	s := newSession(user, token)
	m.logger.InfoContext(ctx, "Session restored", log.FieldOperation, log.OpRestore, log.FieldUsername, s.Username)
	m.transition(Authenticated, s)
	return Authenticated
}

// Login authenticates and persists the token. A nil error is success. On
// any failure the state and the store are left unchanged, so a mistyped
// password never ends a live session.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	fields := log.NewFields().WithOperation(log.OpLogin).WithUsername(username)

	token, err := m.backend.CreateToken(ctx, username, password)
	if err != nil {
		return m.loginFailed(ctx, fields, fmt.Errorf("obtain token: %w", classify(err)))
	}

	user, err := m.backend.Me(ctx, token)
	if err != nil {
		return m.loginFailed(ctx, fields, fmt.Errorf("identity lookup: %w", classify(err)))
	}

	if err := m.store.Set(token); err != nil {
		return m.loginFailed(ctx, fields, fmt.Errorf("%w: %w", ErrStorage, err))
	}

	s := newSession(user, token)
	m.logger.InfoContext(ctx, "Logged in", fields.ToSlice()...)
	m.transition(Authenticated, s)
	return nil
}

// loginFailed only logs. Nothing was written before the failing step, so
// the previous session and the stored token stay as they were.
func (m *Manager) loginFailed(ctx context.Context, fields log.LogFields, err error) error {
	fields = fields.WithError(err).WithErrorType(errorType(err))
	m.logger.WarnContext(ctx, "Login failed", fields.ToSlice()...)
	return err
}

// Register creates an account. It never establishes a session.
func (m *Manager) Register(ctx context.Context, username, email, password, confirm string) error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"username", strings.TrimSpace(username)},
		{"email", strings.TrimSpace(email)},
		{"password", password},
		{"confirm password", confirm},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}

	err := m.backend.Register(ctx, api.Registration{
		Username:   username,
		Email:      email,
		Password:   password,
		RePassword: confirm,
	})
	if err != nil {
		fields := log.NewFields().WithOperation(log.OpRegister).WithUsername(username).WithError(err).WithErrorType(errorType(err))
		m.logger.WarnContext(ctx, "Registration failed", fields.ToSlice()...)
		return fmt.Errorf("register: %w", classify(err))
	}

	m.logger.InfoContext(ctx, "Registered", log.FieldOperation, log.OpRegister, log.FieldUsername, username)
	return nil
}

// Logout forgets the session. A store failure is logged, never returned.
func (m *Manager) Logout(ctx context.Context) {
	m.clearStore(ctx)
	m.logger.InfoContext(ctx, "Logged out", log.FieldOperation, log.OpLogout)
	m.transition(Anonymous, Session{})
}

// Invalidate is called when an authenticated request was rejected.
func (m *Manager) Invalidate(ctx context.Context, reason error) {
	if m.State() == Anonymous {
		return
	}
	fields := log.NewFields().WithOperation(log.OpLogout).WithError(reason).WithErrorType(log.ErrorTypeAuth)
	m.logger.WarnContext(ctx, "Credential rejected, session invalidated", fields.ToSlice()...)
	m.clearStore(ctx)
	m.transition(Anonymous, Session{})
}

func (m *Manager) clearStore(ctx context.Context) {
	if err := m.store.Clear(); err != nil {
		m.logger.ErrorContext(ctx, "Failed to clear credential", log.FieldError, err, log.FieldErrorType, log.ErrorTypeStorage)
	}
}

func (m *Manager) transition(to State, s Session) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.current = s
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	if from == to && to != Authenticated {
		return
	}
	m.logger.Debug("Session state changed", "from", from.String(), log.FieldState, to.String())
	for _, fn := range observers {
		fn(to, s)
	}
}

func newSession(u api.User, token string) Session {
	return Session{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		IsStaff:   u.IsStaff,
		Token:     token,
		ExpiresAt: tokenExpiry(token),
	}
}

func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// classify tags backend credential rejections as ErrAuthentication.
func classify(err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return err
}

func errorType(err error) string {
	switch {
	case errors.Is(err, api.ErrUnauthorized), errors.Is(err, ErrAuthentication):
		return log.ErrorTypeAuth
	case errors.Is(err, ErrStorage):
		return log.ErrorTypeStorage
	default:
		return log.ErrorTypeRemote
	}
}
