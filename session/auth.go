package session

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
)

// Credentials identify the user to the remote store.
type Credentials struct {
	Username string
	Password string
}

// An Authenticator exchanges credentials or a refresh token for a new
// session token.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (*Token, error)
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// HTTPAuth is an Authenticator using the remote store's token endpoints:
//
//	POST {BaseURL}/login  with form fields username and password
//	POST {BaseURL}/token  with form fields grant_type=refresh_token and refresh_token
//
// Both return a JSON object with access_token, refresh_token, expires_in
// (seconds) and user_id.
type HTTPAuth struct {
	BaseURL string
	Client  *http.Client // if nil, http.DefaultClient is used
	Clock   clock.Clock  // if nil, the system clock is used
}

var _ Authenticator = &HTTPAuth{}

// Login implements Authenticator.
func (h *HTTPAuth) Login(ctx context.Context, creds Credentials) (*Token, error) {
	form := url.Values{
		"username": {creds.Username},
		"password": {creds.Password},
	}
	resp, err := h.post(ctx, "/login", form)
	if err != nil {
		return nil, &AuthError{Reason: "remote store unreachable", Err: err}
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthError{Reason: "invalid credentials"}
	case http.StatusLocked, http.StatusTooManyRequests:
		return nil, &AuthError{Reason: "account locked out"}
	default:
		return nil, &AuthError{Reason: "unexpected status " + resp.Status}
	}
	tok, err := h.decode(resp)
	if err != nil {
		return nil, &AuthError{Reason: "bad token response", Err: err}
	}
	return tok, nil
}

// Refresh implements Authenticator.
func (h *HTTPAuth) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	resp, err := h.post(ctx, "/token", form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("refresh refused: %s", resp.Status)
	}
	return h.decode(resp)
}

func (h *HTTPAuth) post(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	u := strings.TrimSuffix(h.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

func (h *HTTPAuth) decode(resp *http.Response) (*Token, error) {
	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return nil, err
	}
	tok := &Token{}
	tok.AccessToken, err = v.GetString("access_token")
	if err != nil || tok.AccessToken == "" {
		return nil, errors.New("response has no access_token")
	}
	// the remaining fields are optional
	tok.RefreshToken, _ = v.GetString("refresh_token")
	tok.UserID, _ = v.GetString("user_id")
	if secs, err := v.GetInt64("expires_in"); err == nil {
		now := time.Now()
		if h.Clock != nil {
			now = h.Clock.Now()
		}
		tok.Expiry = now.Add(time.Duration(secs) * time.Second).UTC()
	}
	return tok, nil
}
