package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/storefront/internal/session"
	"github.com/wolfeidau/storefront/internal/telemetry"
)

// ErrNotAuthenticated is returned by RequireSession while nobody is signed in.
var ErrNotAuthenticated = errors.New("not authenticated")

var tracer = otel.Tracer("github.com/wolfeidau/storefront/internal/state")

// Status is the lifecycle state of the controller.
type Status int

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a point in time copy of the controller state.
type Snapshot struct {
	Status  Status           `json:"status"`
	User    *session.Profile `json:"user"`
	Loading bool             `json:"loading"`
	Error   string           `json:"error,omitempty"`
}

// SessionStore is the persistence the controller reads on startup and clears on logout.
type SessionStore interface {
	Read() (*session.Session, error)
	Clear() error
}

// Gateway produces sessions from user supplied credentials.
type Gateway interface {
	SignIn(ctx context.Context, emailAddress, password string) (*session.Session, error)
	SignUp(ctx context.Context, displayName, emailAddress, password string) (*session.Session, error)
}

// Controller owns the process wide session state. It is created once, initialized from
// the session store and then mutated only through Login, Register and Logout.
//
// Each transition is applied atomically but overlapping operations are not ordered:
// whichever completes last wins, so a slow Login finishing after a Logout signs the
// user back in.
type Controller struct {
	store    SessionStore
	gateway  Gateway
	notifier Notifier

	initOnce sync.Once

	mu          sync.RWMutex
	status      Status
	session     *session.Session
	errMsg      string
	subscribers map[int]func(Snapshot)
	nextSubID   int
}

// New creates an uninitialized controller, notifier may be nil.
func New(store SessionStore, gateway Gateway, notifier Notifier) *Controller {
	if notifier == nil {
		notifier = LogNotifier{}
	}

	return &Controller{
		store:       store,
		gateway:     gateway,
		notifier:    notifier,
		status:      StatusUninitialized,
		subscribers: make(map[int]func(Snapshot)),
	}
}

// Init loads any stored session. Only the first call has an effect.
//
// A stored session that cannot be read is cleared and reported through the error
// field, the controller still ends up anonymous.
func (c *Controller) Init(ctx context.Context) {
	c.initOnce.Do(func() {
		ctx, span := tracer.Start(ctx, "state.Init")
		defer span.End()

		c.transition(ctx, func() {
			c.status = StatusLoading
		})

		sess, err := c.store.Read()
		switch {
		case err == nil:
			log.Debug().Str("id", sess.ID).Msg("restored session")
			c.transition(ctx, func() {
				c.status = StatusAuthenticated
				c.session = sess
			})
		case errors.Is(err, session.ErrNoSession):
			c.transition(ctx, func() {
				c.status = StatusAnonymous
				c.session = nil
			})
		default:
			log.Warn().Err(err).Msg("stored session unreadable, clearing")
			span.RecordError(err)
			span.SetStatus(codes.Error, "stored session unreadable")
			if clearErr := c.store.Clear(); clearErr != nil {
				log.Error().Err(clearErr).Msg("failed to clear unreadable session")
			}
			c.transition(ctx, func() {
				c.status = StatusAnonymous
				c.session = nil
				c.errMsg = err.Error()
			})
		}

		span.SetAttributes(attribute.String("status", c.State().Status.String()))
	})
}

// Login signs in through the gateway. The error is recorded in the state and
// also returned so the caller can stop whatever it was waiting on.
func (c *Controller) Login(ctx context.Context, emailAddress, password string) error {
	c.beginLoading(ctx)

	sess, err := c.gateway.SignIn(ctx, emailAddress, password)
	if err != nil {
		c.fail(ctx, err)
		c.notifier.Notify(Notification{
			Level:       LevelError,
			Title:       "Login Failed",
			Description: err.Error(),
		})
		return fmt.Errorf("login: %w", err)
	}

	c.succeed(ctx, sess)
	c.notifier.Notify(Notification{
		Level:       LevelInfo,
		Title:       "Login Successful",
		Description: fmt.Sprintf("Welcome back, %s!", sess.DisplayName),
	})

	return nil
}

// Register signs up through the gateway, see Login for error handling.
func (c *Controller) Register(ctx context.Context, displayName, emailAddress, password string) error {
	c.beginLoading(ctx)

	sess, err := c.gateway.SignUp(ctx, displayName, emailAddress, password)
	if err != nil {
		c.fail(ctx, err)
		c.notifier.Notify(Notification{
			Level:       LevelError,
			Title:       "Registration Failed",
			Description: err.Error(),
		})
		return fmt.Errorf("register: %w", err)
	}

	c.succeed(ctx, sess)
	c.notifier.Notify(Notification{
		Level:       LevelInfo,
		Title:       "Registration Successful",
		Description: fmt.Sprintf("Welcome, %s!", sess.DisplayName),
	})

	return nil
}

// Logout clears the stored session. It never fails, storage errors are only logged.
func (c *Controller) Logout() {
	if err := c.store.Clear(); err != nil {
		log.Error().Err(err).Msg("failed to clear session on logout")
	}

	c.transition(context.Background(), func() {
		c.status = StatusAnonymous
		c.session = nil
	})

	c.notifier.Notify(Notification{
		Level:       LevelInfo,
		Title:       "Logged Out",
		Description: "You have been successfully logged out.",
	})
}

// State returns a copy of the current state.
func (c *Controller) State() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.snapshotLocked()
}

// IsAuthenticated reports whether a user is signed in.
func (c *Controller) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status == StatusAuthenticated && c.session != nil
}

// RequireSession returns the current session or ErrNotAuthenticated. Anything that
// needs a signed in user, such as fetching the catalog, goes through this first.
func (c *Controller) RequireSession() (*session.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.status != StatusAuthenticated || c.session == nil {
		return nil, ErrNotAuthenticated
	}

	sess := *c.session
	return &sess, nil
}

// Subscribe registers fn to receive every state transition. The returned function
// removes the subscription.
func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// Close drops all subscribers. Consumers that outlive the controller stop
// receiving updates.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscribers = make(map[int]func(Snapshot))
}

func (c *Controller) beginLoading(ctx context.Context) {
	c.transition(ctx, func() {
		c.status = StatusLoading
		c.errMsg = ""
	})
}

func (c *Controller) succeed(ctx context.Context, sess *session.Session) {
	c.transition(ctx, func() {
		c.status = StatusAuthenticated
		c.session = sess
		c.errMsg = ""
	})
}

// fail leaves the controller anonymous. A session stored by an earlier sign in is
// cleared so the store never holds a user the controller does not.
func (c *Controller) fail(ctx context.Context, err error) {
	if clearErr := c.store.Clear(); clearErr != nil {
		log.Error().Err(clearErr).Msg("failed to clear session after failed sign in")
	}

	c.transition(ctx, func() {
		c.status = StatusAnonymous
		c.session = nil
		c.errMsg = err.Error()
	})
}

// transition applies mutate under the lock then tells subscribers.
func (c *Controller) transition(ctx context.Context, mutate func()) {
	c.mu.Lock()
	mutate()
	snap := c.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	telemetry.GetMetrics().SessionTransitionsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", snap.Status.String())))

	log.Debug().Str("status", snap.Status.String()).Msg("session state changed")

	for _, fn := range subs {
		fn(snap)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:  c.status,
		Loading: c.status == StatusLoading,
		Error:   c.errMsg,
	}
	if c.session != nil {
		user := c.session.Profile
		snap.User = &user
	}
	return snap
}
