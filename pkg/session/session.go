package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

// ErrNoSession is returned for absent, undecodable, tampered and expired
// sessions alike.
var ErrNoSession = errors.New("no session")

// Cookie value keys
const (
	keyUserID    = "user_id"
	keyEmail     = "email"
	keyExpiresAt = "expires_at"
)

// Session is the authenticated identity carried in the session cookie
type Session struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// Adapter reads and writes sessions on a request/response pair. Read never
// touches the response.
type Adapter interface {
	Read(r *http.Request) (*Session, error)
	Write(w http.ResponseWriter, r *http.Request, s *Session) error
	Clear(w http.ResponseWriter, r *http.Request) error
}

// Options configures a CookieAdapter
type Options struct {
	Name string
	// HashKey signs the cookie and must be at least 32 bytes
	HashKey []byte
	// BlockKey, when set, encrypts the cookie and must be 16, 24 or 32 bytes
	BlockKey []byte
	MaxAge   time.Duration
	Secure   bool
	Domain   string
}

// CookieAdapter keeps the session in a signed, optionally encrypted cookie
type CookieAdapter struct {
	store  *sessions.CookieStore
	name   string
	maxAge time.Duration
	now    func() time.Time
}

// NewCookieAdapter creates a cookie-backed session adapter
func NewCookieAdapter(opts Options) (*CookieAdapter, error) {
	if len(opts.HashKey) < 32 {
		return nil, fmt.Errorf("session hash key must be at least 32 bytes, got %d", len(opts.HashKey))
	}
	switch len(opts.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("session block key must be 16, 24 or 32 bytes, got %d", len(opts.BlockKey))
	}
	if opts.Name == "" {
		opts.Name = "gh_session"
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7 * 24 * time.Hour
	}

	var store *sessions.CookieStore
	if len(opts.BlockKey) > 0 {
		store = sessions.NewCookieStore(opts.HashKey, opts.BlockKey)
	} else {
		store = sessions.NewCookieStore(opts.HashKey)
	}
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   opts.Domain,
		MaxAge:   int(opts.MaxAge.Seconds()),
		Secure:   opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(int(opts.MaxAge.Seconds()))

	return &CookieAdapter{
		store:  store,
		name:   opts.Name,
		maxAge: opts.MaxAge,
		now:    time.Now,
	}, nil
}

// Read decodes the session from the request cookies without any network
// call.
func (a *CookieAdapter) Read(r *http.Request) (*Session, error) {
	// New never consults the per-request registry, so a read cannot leak
	// state into a later Save.
	sess, err := a.store.New(r, a.name)
	if err != nil || sess.IsNew {
		return nil, ErrNoSession
	}

	userID, _ := sess.Values[keyUserID].(string)
	if userID == "" {
		return nil, ErrNoSession
	}
	expiresAt, ok := sess.Values[keyExpiresAt].(int64)
	if !ok || !a.now().Before(time.Unix(expiresAt, 0)) {
		return nil, ErrNoSession
	}
	email, _ := sess.Values[keyEmail].(string)

	return &Session{
		UserID:    userID,
		Email:     email,
		ExpiresAt: time.Unix(expiresAt, 0),
	}, nil
}

// Write stores s in the response cookie. A zero ExpiresAt is set to now
// plus the configured max age.
func (a *CookieAdapter) Write(w http.ResponseWriter, r *http.Request, s *Session) error {
	if s == nil || s.UserID == "" {
		return errors.New("session requires a user id")
	}
	expiresAt := s.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = a.now().Add(a.maxAge)
	}

	sess, _ := a.store.New(r, a.name)
	sess.Values = map[interface{}]interface{}{
		keyUserID:    s.UserID,
		keyEmail:     s.Email,
		keyExpiresAt: expiresAt.Unix(),
	}
	if err := a.store.Save(r, w, sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear expires the session cookie
func (a *CookieAdapter) Clear(w http.ResponseWriter, r *http.Request) error {
	sess, _ := a.store.New(r, a.name)
	sess.Values = map[interface{}]interface{}{}
	opts := *a.store.Options
	opts.MaxAge = -1
	sess.Options = &opts
	if err := a.store.Save(r, w, sess); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
