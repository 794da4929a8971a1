package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
)

func TestHTTPAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		r.ParseForm()
		switch r.URL.Path {
		case "/auth/login":
			switch r.Form.Get("password") {
			case "secret":
				io.WriteString(w, `{"access_token":"abc","refresh_token":"def","expires_in":3600,"user_id":"42"}`)
			case "locked":
				w.WriteHeader(http.StatusLocked)
			default:
				w.WriteHeader(http.StatusUnauthorized)
			}
		case "/auth/token":
			if r.Form.Get("refresh_token") != "def" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			io.WriteString(w, `{"access_token":"ghi","expires_in":60}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	mock := clock.NewMock()
	auth := &HTTPAuth{BaseURL: server.URL + "/auth/", Clock: mock}
	ctx := context.Background()

	tok, err := auth.Login(ctx, Credentials{"u", "secret"})
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "abc" || tok.RefreshToken != "def" || tok.UserID != "42" {
		t.Errorf("Got %+v", tok)
	}
	if !tok.Expiry.Equal(mock.Now().Add(time.Hour)) {
		t.Errorf("Expiry %v, expected %v", tok.Expiry, mock.Now().Add(time.Hour))
	}

	var table = []struct {
		password string
		reason   string
	}{
		{"wrong", "invalid credentials"},
		{"locked", "account locked out"},
	}
	for _, tab := range table {
		_, err := auth.Login(ctx, Credentials{"u", tab.password})
		var ae *AuthError
		if !errors.As(err, &ae) || ae.Reason != tab.reason {
			t.Errorf("password %q: Got %v, expected reason %q", tab.password, err, tab.reason)
		}
	}

	tok, err = auth.Refresh(ctx, "def")
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "ghi" {
		t.Errorf("Got %+v", tok)
	}
	if _, err := auth.Refresh(ctx, "bogus"); err == nil {
		t.Error("expected refresh with a bad token to fail")
	}
}

func TestHTTPAuthUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	auth := &HTTPAuth{BaseURL: server.URL}
	_, err := auth.Login(context.Background(), Credentials{"u", "p"})
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Errorf("Got %v, expected *AuthError", err)
	}
}
