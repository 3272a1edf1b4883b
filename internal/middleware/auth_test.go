package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trivianft/core/internal/app/domain/player"
)

var testSecret = []byte("test-hmac-secret")

func echoIdentity(t *testing.T) (http.Handler, *player.Player) {
	t.Helper()
	var got player.Player
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok {
			t.Fatal("no identity on request context")
		}
		got = p
		w.WriteHeader(http.StatusOK)
	}), &got
}

func TestBearerTokenResolvesPlayer(t *testing.T) {
	m := NewAuthMiddleware(testSecret, nil, nil)
	token, err := m.IssueToken(Claims{
		PlayerID: "p1",
		Stake:    "stake1abc",
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	next, got := echoIdentity(t)
	req := httptest.NewRequest(http.MethodGet, "/eligibilities", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	m.Handler(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body.String())
	}
	if got.ID != "p1" || got.Stake != "stake1abc" || got.Username != "alice" {
		t.Fatalf("identity = %+v", got)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	m := NewAuthMiddleware(testSecret, nil, nil)

	for _, header := range []string{"Bearer not-a-token", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/eligibilities", nil)
		req.Header.Set("Authorization", header)
		resp := httptest.NewRecorder()
		m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatalf("handler reached with header %q", header)
		})).ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("header %q status = %d", header, resp.Code)
		}
	}

	// Tokens signed with another key fail verification.
	other := NewAuthMiddleware([]byte("other-secret"), nil, nil)
	token, err := other.IssueToken(Claims{PlayerID: "p1"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/eligibilities", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	m.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler reached with foreign token")
	})).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("foreign token status = %d", resp.Code)
	}
}

func TestGuestGetsAnonID(t *testing.T) {
	m := NewAuthMiddleware(testSecret, nil, nil)
	next, got := echoIdentity(t)

	req := httptest.NewRequest(http.MethodPost, "/sessions/start", nil)
	resp := httptest.NewRecorder()
	m.Handler(next).ServeHTTP(resp, req)

	if got.AnonID == "" || got.Stake != "" {
		t.Fatalf("guest identity = %+v", got)
	}
	if resp.Header().Get("X-Anon-Id") != got.AnonID {
		t.Fatalf("anon id not echoed: %q", resp.Header().Get("X-Anon-Id"))
	}

	// A returning guest keeps its id.
	req = httptest.NewRequest(http.MethodPost, "/sessions/start", nil)
	req.Header.Set("X-Anon-Id", "anon-42")
	resp = httptest.NewRecorder()
	m.Handler(next).ServeHTTP(resp, req)
	if got.AnonID != "anon-42" {
		t.Fatalf("returning guest id = %q", got.AnonID)
	}
}

func TestSkipPathsBypassAuth(t *testing.T) {
	m := NewAuthMiddleware(testSecret, nil, []string{"/health"})
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); ok {
			t.Fatal("skip path resolved an identity")
		}
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	m.Handler(next).ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("skip path did not reach handler")
	}
}
