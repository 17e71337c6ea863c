package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfeidau/storefront/internal/client"
	"github.com/wolfeidau/storefront/internal/session"
	"github.com/wolfeidau/storefront/internal/telemetry"
)

var (
	// ErrAuthenticationFailed is returned when the remote rejects a sign in.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRegistrationFailed is returned when the remote rejects a sign up.
	ErrRegistrationFailed = errors.New("registration failed")
)

const (
	// IDPrefix starts every synthesized session id.
	IDPrefix = "user_"

	// DefaultDisplayName is used when no name can be derived.
	DefaultDisplayName = "New User"

	idEntropyBytes = 7
)

var tracer = otel.Tracer("github.com/wolfeidau/storefront/internal/auth")

// Remote is the subset of the catalog service used to validate credentials.
type Remote interface {
	Login(ctx context.Context, req client.LoginRequest) error
	Register(ctx context.Context, req client.RegisterRequest) error
}

// SessionWriter persists a synthesized session.
type SessionWriter interface {
	Save(sess *session.Session) error
}

// Gateway turns form input into a session without a real authentication backend.
//
// The remote calls only confirm the service accepts the request. The session itself
// is fabricated locally and its token is an unsigned encoding of the profile.
type Gateway struct {
	remote Remote
	store  SessionWriter
}

// NewGateway creates an auth gateway.
func NewGateway(remote Remote, store SessionWriter) *Gateway {
	return &Gateway{remote: remote, store: store}
}

// SignIn validates the credentials against the login endpoint and stores a new session.
func (g *Gateway) SignIn(ctx context.Context, emailAddress, password string) (*session.Session, error) {
	ctx, span := tracer.Start(ctx, "auth.SignIn")
	defer span.End()

	err := g.remote.Login(ctx, client.LoginRequest{Username: emailAddress, Password: password})
	if err != nil {
		recordFailure(ctx, span, "sign_in", err)
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	sess, err := g.establish(DisplayNameFromEmail(emailAddress), emailAddress)
	if err != nil {
		recordFailure(ctx, span, "sign_in", err)
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	recordSuccess(ctx, "sign_in")
	log.Info().Str("id", sess.ID).Str("email", sess.EmailAddress).Msg("signed in")

	return sess, nil
}

// SignUp registers against the registration endpoint and stores a new session
// carrying the supplied display name.
func (g *Gateway) SignUp(ctx context.Context, displayName, emailAddress, password string) (*session.Session, error) {
	ctx, span := tracer.Start(ctx, "auth.SignUp")
	defer span.End()

	req := client.RegisterRequest{DisplayName: displayName, EmailAddress: emailAddress, Password: password}
	if err := g.remote.Register(ctx, req); err != nil {
		recordFailure(ctx, span, "sign_up", err)
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = DefaultDisplayName
	}

	sess, err := g.establish(name, emailAddress)
	if err != nil {
		recordFailure(ctx, span, "sign_up", err)
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	recordSuccess(ctx, "sign_up")
	log.Info().Str("id", sess.ID).Str("email", sess.EmailAddress).Msg("registered")

	return sess, nil
}

func (g *Gateway) establish(displayName, emailAddress string) (*session.Session, error) {
	id, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	profile := session.Profile{ID: id, DisplayName: displayName, EmailAddress: emailAddress}

	token, err := session.EncodeToken(profile)
	if err != nil {
		return nil, err
	}

	sess := &session.Session{Profile: profile, Token: token}
	if err := g.store.Save(sess); err != nil {
		return nil, err
	}

	return sess, nil
}

// NewSessionID returns a random identifier prefixed with IDPrefix.
func NewSessionID() (string, error) {
	buf := make([]byte, idEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}

	return IDPrefix + base58.Encode(buf), nil
}

// DisplayNameFromEmail returns the local part of an email address.
func DisplayNameFromEmail(emailAddress string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(emailAddress), "@")
	if local == "" {
		return DefaultDisplayName
	}
	return local
}

func recordSuccess(ctx context.Context, operation string) {
	telemetry.GetMetrics().AuthAttemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", "success"),
	))
}

func recordFailure(ctx context.Context, span trace.Span, operation string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", "failure"),
	)
	m := telemetry.GetMetrics()
	m.AuthAttemptsTotal.Add(ctx, 1, attrs)
	m.AuthFailuresTotal.Add(ctx, 1, attrs)

	log.Warn().Err(err).Str("operation", operation).Msg("auth request rejected")
}
