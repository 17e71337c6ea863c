package state

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wolfeidau/storefront/internal/auth"
	"github.com/wolfeidau/storefront/internal/client"
	"github.com/wolfeidau/storefront/internal/session"
	"github.com/wolfeidau/storefront/internal/storage"
)

type fakeGateway struct {
	store *session.Store
	err   error
}

func (f *fakeGateway) SignIn(ctx context.Context, emailAddress, password string) (*session.Session, error) {
	return f.issue(auth.DisplayNameFromEmail(emailAddress), emailAddress)
}

func (f *fakeGateway) SignUp(ctx context.Context, displayName, emailAddress, password string) (*session.Session, error) {
	return f.issue(displayName, emailAddress)
}

func (f *fakeGateway) issue(name, email string) (*session.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := session.Profile{ID: "user_fake", DisplayName: name, EmailAddress: email}
	token, err := session.EncodeToken(p)
	if err != nil {
		return nil, err
	}
	sess := &session.Session{Profile: p, Token: token}
	return sess, f.store.Save(sess)
}

// recordStatuses subscribes to c and collects every status it passes through.
func recordStatuses(c *Controller) func() []Status {
	var mu sync.Mutex
	var statuses []Status
	c.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, s.Status)
	})
	return func() []Status {
		mu.Lock()
		defer mu.Unlock()
		return append([]Status(nil), statuses...)
	}
}

func newController(t *testing.T, gwErr error) (*Controller, *session.Store, *Recorder) {
	t.Helper()
	store := session.NewStore(storage.NewMemoryStorage())
	rec := NewRecorder(10)
	return New(store, &fakeGateway{store: store, err: gwErr}, rec), store, rec
}

func TestController_Init(t *testing.T) {
	t.Run("anonymous without stored session", func(t *testing.T) {
		c, _, _ := newController(t, nil)
		assert.Equal(t, StatusUninitialized, c.State().Status)

		statuses := recordStatuses(c)
		c.Init(context.Background())

		assert.Equal(t, []Status{StatusLoading, StatusAnonymous}, statuses())
		assert.False(t, c.IsAuthenticated())
		assert.Empty(t, c.State().Error)
	})

	t.Run("restores stored session", func(t *testing.T) {
		store := session.NewStore(storage.NewMemoryStorage())
		gw := &fakeGateway{store: store}
		_, err := gw.SignIn(context.Background(), "a@b.com", "x")
		require.NoError(t, err)

		c := New(store, gw, NewRecorder(1))
		c.Init(context.Background())

		snap := c.State()
		assert.Equal(t, StatusAuthenticated, snap.Status)
		require.NotNil(t, snap.User)
		assert.Equal(t, "a@b.com", snap.User.EmailAddress)
		assert.True(t, c.IsAuthenticated())
	})

	t.Run("unreadable session is cleared and reported", func(t *testing.T) {
		mem := storage.NewMemoryStorage()
		require.NoError(t, mem.SetItem(session.TokenKey, "not-a-token!"))
		require.NoError(t, mem.SetItem(session.UserKey, "{}"))
		store := session.NewStore(mem)

		c := New(store, &fakeGateway{store: store}, nil)
		c.Init(context.Background())

		snap := c.State()
		assert.Equal(t, StatusAnonymous, snap.Status)
		assert.NotEmpty(t, snap.Error)

		keys, err := mem.Keys()
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("runs only once", func(t *testing.T) {
		c, _, _ := newController(t, nil)
		c.Init(context.Background())

		statuses := recordStatuses(c)
		c.Init(context.Background())
		assert.Empty(t, statuses())
	})
}

func TestController_InitTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	mem := storage.NewMemoryStorage()
	require.NoError(t, mem.SetItem(session.TokenKey, "not-a-token!"))
	store := session.NewStore(mem)

	c := New(store, &fakeGateway{store: store}, nil)
	c.Init(context.Background())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "state.Init", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("status", "anonymous"))
}

func TestController_Login(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		c, store, rec := newController(t, nil)
		c.Init(context.Background())
		statuses := recordStatuses(c)

		err := c.Login(context.Background(), "a@b.com", "x")
		require.NoError(t, err)

		assert.Equal(t, []Status{StatusLoading, StatusAuthenticated}, statuses())
		assert.True(t, c.IsAuthenticated())
		assert.Empty(t, c.State().Error)
		assert.True(t, store.HasValidToken())

		notes := rec.Drain()
		require.Len(t, notes, 1)
		assert.Equal(t, "Login Successful", notes[0].Title)
		assert.Equal(t, "Welcome back, a!", notes[0].Description)
	})

	t.Run("failure is recorded and returned", func(t *testing.T) {
		c, store, rec := newController(t, auth.ErrAuthenticationFailed)
		c.Init(context.Background())
		statuses := recordStatuses(c)

		err := c.Login(context.Background(), "a@b.com", "bad")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrAuthenticationFailed)

		assert.Equal(t, []Status{StatusLoading, StatusAnonymous}, statuses())
		assert.Equal(t, "authentication failed", c.State().Error)
		assert.False(t, store.HasValidToken())

		notes := rec.Drain()
		require.Len(t, notes, 1)
		assert.Equal(t, LevelError, notes[0].Level)
		assert.Equal(t, "Login Failed", notes[0].Title)
	})

	t.Run("success clears a previous error", func(t *testing.T) {
		store := session.NewStore(storage.NewMemoryStorage())
		gw := &fakeGateway{store: store, err: errors.New("boom")}
		c := New(store, gw, NewRecorder(1))
		c.Init(context.Background())

		require.Error(t, c.Login(context.Background(), "a@b.com", "x"))
		assert.NotEmpty(t, c.State().Error)

		gw.err = nil
		require.NoError(t, c.Login(context.Background(), "a@b.com", "x"))
		assert.Empty(t, c.State().Error)
	})
}

func TestController_FailedSignInClearsPreviousSession(t *testing.T) {
	tests := []struct {
		name    string
		attempt func(c *Controller) error
	}{
		{
			name:    "login",
			attempt: func(c *Controller) error { return c.Login(context.Background(), "a@b.com", "bad") },
		},
		{
			name:    "register",
			attempt: func(c *Controller) error { return c.Register(context.Background(), "Jane", "jane@x.com", "pw1") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := session.NewStore(storage.NewMemoryStorage())
			gw := &fakeGateway{store: store}
			c := New(store, gw, NewRecorder(5))
			c.Init(context.Background())

			require.NoError(t, c.Login(context.Background(), "a@b.com", "x"))
			require.True(t, store.HasValidToken())

			gw.err = errors.New("rejected")
			require.Error(t, tt.attempt(c))

			assert.False(t, c.IsAuthenticated())
			assert.False(t, store.HasValidToken())

			// a restart over the same store stays signed out
			restarted := New(store, gw, nil)
			restarted.Init(context.Background())
			assert.Equal(t, StatusAnonymous, restarted.State().Status)
		})
	}
}

func TestController_CorruptStorageFile(t *testing.T) {
	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fs.Path(), []byte("{not json"), 0600))

	store := session.NewStore(fs)
	c := New(store, &fakeGateway{store: store}, NewRecorder(5))
	c.Init(context.Background())

	snap := c.State()
	assert.Equal(t, StatusAnonymous, snap.Status)
	assert.NotEmpty(t, snap.Error)

	require.NoError(t, c.Login(context.Background(), "a@b.com", "x"))
	assert.True(t, c.IsAuthenticated())
	assert.True(t, store.HasValidToken())

	reopened, err := storage.NewFileStorage(filepath.Dir(fs.Path()))
	require.NoError(t, err)
	got, err := session.NewStore(reopened).Read()
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", got.EmailAddress)
}

func TestController_Register(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		c, _, rec := newController(t, nil)
		c.Init(context.Background())

		require.NoError(t, c.Register(context.Background(), "Jane", "jane@x.com", "pw1"))

		snap := c.State()
		require.NotNil(t, snap.User)
		assert.Equal(t, "Jane", snap.User.DisplayName)

		notes := rec.Drain()
		require.Len(t, notes, 1)
		assert.Equal(t, "Welcome, Jane!", notes[0].Description)
	})

	t.Run("remote failure", func(t *testing.T) {
		c, store, rec := newController(t, auth.ErrRegistrationFailed)
		c.Init(context.Background())
		statuses := recordStatuses(c)

		err := c.Register(context.Background(), "Jane", "jane@x.com", "pw1")
		assert.ErrorIs(t, err, auth.ErrRegistrationFailed)

		assert.Equal(t, []Status{StatusLoading, StatusAnonymous}, statuses())
		assert.NotEmpty(t, c.State().Error)

		_, err = store.Read()
		assert.ErrorIs(t, err, session.ErrNoSession)

		notes := rec.Drain()
		require.Len(t, notes, 1)
		assert.Equal(t, "Registration Failed", notes[0].Title)
	})
}

func TestController_Logout(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		c, store, rec := newController(t, nil)
		c.Init(context.Background())
		require.NoError(t, c.Login(context.Background(), "a@b.com", "x"))

		c.Logout()
		assert.False(t, store.HasValidToken())
		assert.False(t, c.IsAuthenticated())

		c.Logout()
		assert.False(t, store.HasValidToken())
		assert.Equal(t, StatusAnonymous, c.State().Status)

		notes := rec.Drain()
		require.Len(t, notes, 3)
		assert.Equal(t, "Logged Out", notes[2].Title)
	})

	t.Run("without prior session", func(t *testing.T) {
		c, store, _ := newController(t, nil)
		c.Logout()

		_, err := store.Read()
		assert.ErrorIs(t, err, session.ErrNoSession)
		assert.Equal(t, StatusAnonymous, c.State().Status)
	})
}

func TestController_RequireSession(t *testing.T) {
	c, _, _ := newController(t, nil)
	c.Init(context.Background())

	_, err := c.RequireSession()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, c.Login(context.Background(), "a@b.com", "x"))

	sess, err := c.RequireSession()
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", sess.EmailAddress)
}

func TestController_SubscribeAndClose(t *testing.T) {
	c, _, _ := newController(t, nil)

	var count int
	cancel := c.Subscribe(func(Snapshot) { count++ })

	c.Init(context.Background())
	assert.Equal(t, 2, count)

	cancel()
	c.Logout()
	assert.Equal(t, 2, count)

	c.Subscribe(func(Snapshot) { count++ })
	c.Close()
	c.Logout()
	assert.Equal(t, 2, count)
}

func TestController_LoginAgainstRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"token":"ignored"}`))
	}))
	defer srv.Close()

	cfg := client.DefaultConfig()
	cfg.ServerURL = srv.URL
	cfg.Timeout = 5 * time.Second
	remote, err := client.New(cfg)
	require.NoError(t, err)

	mem := storage.NewMemoryStorage()
	store := session.NewStore(mem)
	c := New(store, auth.NewGateway(remote, store), NewRecorder(5))
	c.Init(context.Background())

	statuses := recordStatuses(c)
	require.NoError(t, c.Login(context.Background(), "a@b.com", "x"))
	assert.Equal(t, []Status{StatusLoading, StatusAuthenticated}, statuses())

	token, ok, err := mem.GetItem(session.TokenKey)
	require.NoError(t, err)
	require.True(t, ok)

	decoded, err := session.DecodeToken(token)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(decoded.ID, auth.IDPrefix))
	assert.Equal(t, "a@b.com", decoded.EmailAddress)
}

func TestController_RegisterRejectedByRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := client.DefaultConfig()
	cfg.ServerURL = srv.URL
	remote, err := client.New(cfg)
	require.NoError(t, err)

	mem := storage.NewMemoryStorage()
	store := session.NewStore(mem)
	c := New(store, auth.NewGateway(remote, store), NewRecorder(5))
	c.Init(context.Background())

	statuses := recordStatuses(c)
	err = c.Register(context.Background(), "Jane", "jane@x.com", "pw1")
	require.ErrorIs(t, err, auth.ErrRegistrationFailed)

	assert.Equal(t, []Status{StatusLoading, StatusAnonymous}, statuses())
	assert.NotEmpty(t, c.State().Error)

	keys, err := mem.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}
