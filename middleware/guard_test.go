package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	goAccount "github.com/MrEthical07/goAccount"
)

type fakeAuthenticator map[string]*goAccount.Session

func (f fakeAuthenticator) AuthenticateSession(_ context.Context, token string) (*goAccount.Session, error) {
	if s, ok := f[token]; ok {
		return s, nil
	}
	return nil, goAccount.ErrSessionInvalid
}

func TestRequireSession(t *testing.T) {
	authn := fakeAuthenticator{"good": {ID: "01J0000000000000000000000A", AccountID: "acct-1"}}

	var seen string
	h := RequireSession(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = AccountIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer good", http.StatusNoContent},
		{"lowercase scheme", "bearer good", http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"unknown token", "Bearer bad", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			want := ""
			if tt.status == http.StatusNoContent {
				want = "acct-1"
			}
			if seen != want {
				t.Fatalf("expected account %q in context, got %q", want, seen)
			}
		})
	}
}

func TestRequireSessionNilAuthenticator(t *testing.T) {
	h := RequireSession(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAccountIDFromContextEmpty(t *testing.T) {
	if got := AccountIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty account id, got %q", got)
	}
}
