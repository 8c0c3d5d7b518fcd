// Package session is the auth session controller. It derives the signed-in
// state from the local session marker and a remote identity check, publishes
// it as immutable snapshots and decides route access.
//
// The local marker is set on sign-in but never invalidated when the server
// expires the session, so every initialization confirms the identity
// remotely, whether a marker is present or not.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"snapgram/internal/backend"
	"snapgram/internal/domain"
	appErrors "snapgram/internal/errors"
	"snapgram/internal/queries"
	"snapgram/internal/query"

	"go.uber.org/zap"
)

// State is the authentication state.
type State int

const (
	StateUnknown State = iota
	StateChecking
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Snapshot is the session as seen at one moment. Controllers replace it
// wholesale on every transition; holders must not modify it.
type Snapshot struct {
	State State
	User  domain.CurrentUser
	// ExpiresAt is the token's own expiry claim when it carries one.
	ExpiresAt time.Time
	// Redirect is where the route passed to Init must send the user, "" to
	// stay.
	Redirect string
}

// IsAuthenticated reports whether the identity was confirmed remotely.
func (s Snapshot) IsAuthenticated() bool {
	return s.State == StateAuthenticated
}

// UserID returns the signed-in user's id, "" when not authenticated.
func (s Snapshot) UserID() string {
	if !s.IsAuthenticated() {
		return ""
	}
	return s.User.ID
}

// Accounts is the part of the remote store adapter the controller uses.
type Accounts interface {
	CreateUserAccount(ctx context.Context, u domain.NewUser) (domain.User, error)
	SignInAccount(ctx context.Context, creds domain.Credentials) (backend.Session, error)
	SignOutAccount(ctx context.Context) error
	ResumeSession(ctx context.Context, token string) error
	GetCurrentUser(ctx context.Context) (domain.CurrentUser, error)
}

// Controller owns the session lifecycle of one client.
type Controller struct {
	accounts Accounts
	marker   MarkerStore
	cache    *query.Client
	logger   *zap.Logger

	// mu serializes transitions; readers use current.
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewController creates a controller in the unknown state.
func NewController(accounts Accounts, marker MarkerStore, cache *query.Client, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{accounts: accounts, marker: marker, cache: cache, logger: logger.Named("session")}
	c.current.Store(&Snapshot{State: StateUnknown})
	return c
}

// Snapshot returns the current session.
func (c *Controller) Snapshot() Snapshot {
	return *c.current.Load()
}

func (c *Controller) publish(s Snapshot) Snapshot {
	c.current.Store(&s)
	return s
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Init derives the session for a visit to route. Without a marker the
// session is published as unauthenticated right away, with a redirect to
// sign-in unless route is the sign-up page; the remote identity check runs
// in every case and decides the final state. A confirmed identity replaces
// that provisional redirect with the guard's answer for an authenticated
// visit, so a live server session without a marker is not sent to sign-in.
// A failed check clears the marker. When ctx is canceled the previous
// snapshot is restored and ctx.Err() returned.
func (c *Controller) Init(ctx context.Context, route string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.init(ctx, route)
}

func (c *Controller) init(ctx context.Context, route string) (Snapshot, error) {
	prev := c.Snapshot()
	c.publish(Snapshot{State: StateChecking})

	marker, err := c.marker.Get(ctx)
	if err != nil {
		c.logger.Warn("session marker unreadable", zap.Error(err))
		marker = ""
	}

	var expiresAt time.Time
	if HasSession(marker) {
		if err := c.accounts.ResumeSession(ctx, marker); err != nil {
			c.logger.Debug("session resume failed", zap.Error(err))
		}
		expiresAt, _ = ExpiryHint(marker)
	} else {
		c.publish(unauthenticated(route))
	}

	user, err := c.accounts.GetCurrentUser(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.publish(prev)
			return prev, ctxErr
		}
		c.logger.Info("identity check failed", zap.String("kind", string(appErrors.KindOf(err))), zap.Error(err))
		if err := c.marker.Clear(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("session marker not cleared", zap.Error(err))
		}
		return c.publish(unauthenticated(route)), nil
	}

	if c.cache != nil {
		c.cache.SetQueryData(queries.CurrentUserKey(), user)
	}
	s := Snapshot{State: StateAuthenticated, User: user, ExpiresAt: expiresAt}
	s.Redirect = Guard(s, route)
	c.logger.Info("session confirmed", zap.String("userId", user.ID))
	return c.publish(s), nil
}

// Resolve returns the settled session for a visit to route, running Init
// first when no check has completed yet. A check already in flight is
// waited for rather than repeated.
func (c *Controller) Resolve(ctx context.Context, route string) (Snapshot, error) {
	s := c.Snapshot()
	if settled(s) {
		s.Redirect = Guard(s, route)
		return s, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.Snapshot(); settled(s) {
		s.Redirect = Guard(s, route)
		return s, nil
	}
	return c.init(ctx, route)
}

func settled(s Snapshot) bool {
	return s.State == StateAuthenticated || s.State == StateUnauthenticated
}

func unauthenticated(route string) Snapshot {
	s := Snapshot{State: StateUnauthenticated}
	s.Redirect = Guard(s, route)
	return s
}

// SignIn validates creds, opens a remote session, stores the marker and
// confirms the identity. It fails with an Unauthorized error when the
// session cannot be confirmed.
func (c *Controller) SignIn(ctx context.Context, creds domain.Credentials) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signIn(ctx, creds)
}

func (c *Controller) signIn(ctx context.Context, creds domain.Credentials) (Snapshot, error) {
	session, err := c.accounts.SignInAccount(ctx, creds)
	if err != nil {
		return c.Snapshot(), err
	}
	if err := c.marker.Set(ctx, session.Token); err != nil {
		return c.Snapshot(), err
	}

	s, err := c.init(ctx, RouteSignIn)
	if err != nil {
		return s, err
	}
	if !s.IsAuthenticated() {
		return s, appErrors.Unauthorized("SIGN_IN_UNCONFIRMED", "Sign in failed. Please try again.").WithOp("signIn").Build()
	}
	return s, nil
}

// SignUp creates the account and its profile, then signs in with the same
// credentials.
func (c *Controller) SignUp(ctx context.Context, u domain.NewUser) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.accounts.CreateUserAccount(ctx, u); err != nil {
		return c.Snapshot(), err
	}
	return c.signIn(ctx, domain.Credentials{Email: u.Email, Password: u.Password})
}

// SignOut deletes the remote session, clears the marker and every cached
// query, then initializes the session again from scratch. A failed remote
// deletion is returned after the local state has been cleared.
func (c *Controller) SignOut(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remoteErr := c.accounts.SignOutAccount(ctx)
	if remoteErr != nil && appErrors.IsUnauthorized(remoteErr) {
		remoteErr = nil
	}
	if err := c.marker.Clear(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("session marker not cleared", zap.Error(err))
	}
	if c.cache != nil {
		c.cache.Clear()
	}
	c.publish(Snapshot{State: StateUnknown})

	s, err := c.init(ctx, RouteSignIn)
	if err != nil {
		return s, err
	}
	return s, remoteErr
}
