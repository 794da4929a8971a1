// Package session keeps the authenticated session with the remote content
// store. It logs in with user credentials, persists the resulting token, and
// refreshes the token when it expires. All requests to the remote store go
// through the http.Client returned by Manager.Client, which adds the current
// token to each request.
package session

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/golang/groupcache/singleflight"
	"github.com/pkg/errors"

	"github.com/ndlib/shelfsync/store"
	"github.com/ndlib/shelfsync/transfer"
)

// A Token is a session token issued by the remote store.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
}

// Valid reports whether the token can still be used at time now, allowing
// skew for the time a request takes. A zero Expiry never expires.
func (t *Token) Valid(now time.Time, skew time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || now.Add(skew).Before(t.Expiry)
}

// TokenKey is the store key the token is persisted under.
const TokenKey = "token.json"

// Manager owns the session token. It is safe for concurrent use.
type Manager struct {
	// Clock is the time source for expiry checks. Set it before use.
	Clock clock.Clock
	// Skew is how long before the expiry a token is refreshed.
	Skew time.Duration

	auth  Authenticator
	st    store.Store
	group singleflight.Group // refreshes in progress

	mu    sync.RWMutex
	token *Token
}

// NewManager returns a Manager which authenticates with auth and keeps its
// token in st.
func NewManager(auth Authenticator, st store.Store) *Manager {
	return &Manager{
		Clock: clock.New(),
		Skew:  time.Minute,
		auth:  auth,
		st:    st,
	}
}

// Load reads a previously persisted token. It is not an error if there is
// none.
func (m *Manager) Load() error {
	data, err := store.ReadAll(m.st, TokenKey)
	if err == store.ErrNotFound {
		return nil
	} else if err != nil {
		return errors.Wrap(err, "reading token")
	}
	tok := new(Token)
	if err := json.Unmarshal(data, tok); err != nil {
		return errors.Wrap(err, "decoding token")
	}
	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()
	return nil
}

// Authenticate logs in with creds and persists the new token. Failures are
// returned as an *AuthError.
func (m *Manager) Authenticate(ctx context.Context, creds Credentials) (*Token, error) {
	tok, err := m.auth.Login(ctx, creds)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, &AuthError{Reason: "login", Err: err}
	}
	if err := m.save(tok); err != nil {
		return nil, err
	}
	log.Printf("session: logged in as %s", creds.Username)
	return tok, nil
}

// Token returns a usable token, refreshing the current one if it has
// expired. It returns ErrNotAuthenticated if nobody has logged in, and an
// *ExpiredError if the refresh fails.
func (m *Manager) Token(ctx context.Context) (*Token, error) {
	m.mu.RLock()
	tok := m.token
	m.mu.RUnlock()
	if tok == nil {
		return nil, ErrNotAuthenticated
	}
	if tok.Valid(m.Clock.Now(), m.Skew) {
		return tok, nil
	}
	return m.refresh(ctx, false)
}

// Refresh gets a new token using the refresh token, even if the current one
// has not expired. This is for when the remote store rejects a token we
// thought was good. Concurrent calls share a single refresh.
func (m *Manager) Refresh(ctx context.Context) (*Token, error) {
	return m.refresh(ctx, true)
}

func (m *Manager) refresh(ctx context.Context, force bool) (*Token, error) {
	v, err := m.group.Do("refresh", func() (interface{}, error) {
		m.mu.RLock()
		old := m.token
		m.mu.RUnlock()
		if old == nil {
			return nil, ErrNotAuthenticated
		}
		// someone else may have refreshed it since we looked
		if !force && old.Valid(m.Clock.Now(), m.Skew) {
			return old, nil
		}
		if old.RefreshToken == "" {
			return nil, &ExpiredError{Err: errors.New("no refresh token")}
		}
		tok, err := m.auth.Refresh(ctx, old.RefreshToken)
		if err != nil {
			log.Println("session: refresh failed:", err)
			return nil, &ExpiredError{Err: err}
		}
		if tok.RefreshToken == "" {
			tok.RefreshToken = old.RefreshToken
		}
		if err := m.save(tok); err != nil {
			return nil, err
		}
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Token), nil
}

// Check verifies there is a usable token, refreshing it if needed.
func (m *Manager) Check(ctx context.Context) error {
	_, err := m.Token(ctx)
	return err
}

// save makes tok the current token and persists it.
func (m *Manager) save(tok *Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()
	return errors.Wrap(store.WriteAll(m.st, TokenKey, data), "saving token")
}

// Client returns an HTTP client which adds the current token to every
// request.
func (m *Manager) Client() *http.Client {
	return &http.Client{Transport: m.Transport(transfer.NewTransport())}
}

// Transport wraps base so every request carries the current token.
func (m *Manager) Transport(base http.RoundTripper) http.RoundTripper {
	return &authTransport{m: m, base: base}
}

type authTransport struct {
	m    *Manager
	base http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.m.Token(req.Context())
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	// a RoundTripper must not modify the request it was given
	r2 := req.Clone(req.Context())
	r2.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return t.base.RoundTrip(r2)
}
