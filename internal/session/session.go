package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/storefront/internal/storage"
)

// Storage keys, both are written and removed together.
const (
	TokenKey = "token"
	UserKey  = "user"
)

var (
	// ErrNoSession is returned when no signed in user is stored.
	ErrNoSession = errors.New("no session")

	// ErrDecodeFailed is returned when the stored token or profile cannot be read.
	ErrDecodeFailed = errors.New("session decode failed")
)

// Profile is the lightweight user record kept alongside the token.
type Profile struct {
	ID           string `json:"id"`
	DisplayName  string `json:"firstName"`
	EmailAddress string `json:"email"`
}

// Session is a signed in user plus the opaque token standing in for a credential.
type Session struct {
	Profile
	Token string `json:"token"`
}

// EncodeToken produces the opaque token for a profile.
//
// The token is base64 encoded profile JSON. It is reversible and unsigned, anyone can
// forge one, so it must never be treated as proof of identity.
func EncodeToken(p Profile) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal profile: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeToken reverses EncodeToken.
func DecodeToken(token string) (Profile, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	return p, nil
}

// Store persists the current session in a storage.Storage.
type Store struct {
	storage storage.Storage
}

// NewStore creates a session store over the given storage.
func NewStore(s storage.Storage) *Store {
	return &Store{storage: s}
}

// Save writes the token and profile, overwriting any previous session.
func (s *Store) Save(sess *Session) error {
	user, err := json.Marshal(sess.Profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	items := map[string]string{
		TokenKey: sess.Token,
		UserKey:  string(user),
	}
	if err := s.storage.SetItems(items); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	log.Debug().Str("id", sess.ID).Msg("session saved")

	return nil
}

// Clear removes all session keys. It is safe to call when nothing is stored.
func (s *Store) Clear() error {
	if err := s.storage.RemoveItem(TokenKey, UserKey); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	log.Debug().Msg("session cleared")

	return nil
}

// Token returns the raw stored token, storage errors read as no token.
func (s *Store) Token() (string, bool) {
	token, ok, err := s.rawToken()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read token")
		return "", false
	}
	return token, ok
}

func (s *Store) rawToken() (string, bool, error) {
	token, ok, err := s.storage.GetItem(TokenKey)
	if err != nil {
		return "", false, fmt.Errorf("failed to read token: %w", err)
	}
	if !ok || token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// HasValidToken reports whether a token is stored and decodes to a profile with an id.
func (s *Store) HasValidToken() bool {
	_, err := s.tokenProfile()
	return err == nil
}

// Read returns the stored session.
// Returns ErrNoSession when nothing is stored and ErrDecodeFailed when the token or
// profile is unreadable, or the two disagree. Storage failures are returned wrapped
// as they are. Callers treat every error as signed out.
func (s *Store) Read() (*Session, error) {
	tokenProfile, err := s.tokenProfile()
	if err != nil {
		log.Debug().Err(err).Msg("token validation failed")
		return nil, err
	}

	raw, ok, err := s.storage.GetItem(UserKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: user missing", ErrDecodeFailed)
	}

	var user Profile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("%w: user: %v", ErrDecodeFailed, err)
	}

	if user.ID != tokenProfile.ID {
		return nil, fmt.Errorf("%w: user does not match token", ErrDecodeFailed)
	}

	token, _, err := s.rawToken()
	if err != nil {
		return nil, err
	}

	return &Session{Profile: user, Token: token}, nil
}

func (s *Store) tokenProfile() (Profile, error) {
	token, ok, err := s.rawToken()
	if err != nil {
		return Profile{}, err
	}
	if !ok {
		return Profile{}, ErrNoSession
	}

	p, err := DecodeToken(token)
	if err != nil {
		return Profile{}, err
	}

	if p.ID == "" {
		return Profile{}, fmt.Errorf("%w: token has no id", ErrDecodeFailed)
	}

	return p, nil
}
