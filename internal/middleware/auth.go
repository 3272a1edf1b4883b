// Package middleware provides HTTP middleware for the game API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/trivianft/core/internal/app/domain/player"
	"github.com/trivianft/core/pkg/logger"
)

// Claims are the JWT claims minted at wallet connect.
type Claims struct {
	PlayerID string `json:"player_id"`
	Stake    string `json:"stake,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

type ctxKey int

const playerKey ctxKey = iota

// FromContext returns the identity attached by AuthMiddleware.
func FromContext(ctx context.Context) (player.Player, bool) {
	p, ok := ctx.Value(playerKey).(player.Player)
	return p, ok
}

// WithPlayer attaches an identity to the context. Exposed for handler tests.
func WithPlayer(ctx context.Context, p player.Player) context.Context {
	return context.WithValue(ctx, playerKey, p)
}

// AuthMiddleware resolves the caller identity. A bearer token identifies a
// connected wallet; without one the caller plays as a guest keyed by the
// X-Anon-Id header, which the middleware mints on first contact.
type AuthMiddleware struct {
	secret    []byte
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates the middleware. skipPaths bypass identity
// resolution entirely (health, metrics).
func NewAuthMiddleware(secret []byte, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{secret: secret, log: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r.WithContext(WithPlayer(r.Context(), m.guest(w, r))))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.unauthorized(w, "invalid Authorization header format")
			return
		}
		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.log.WithError(err).Warn("token validation failed")
			m.unauthorized(w, "invalid token")
			return
		}

		p := player.Player{ID: claims.PlayerID, Stake: claims.Stake, Username: claims.Username}
		next.ServeHTTP(w, r.WithContext(WithPlayer(r.Context(), p)))
	})
}

// guest resolves the anonymous identity, minting one on first contact. The
// header echoes back so the client can persist it.
func (m *AuthMiddleware) guest(w http.ResponseWriter, r *http.Request) player.Player {
	anon := r.Header.Get("X-Anon-Id")
	if anon == "" {
		anon = uuid.NewString()
	}
	w.Header().Set("X-Anon-Id", anon)
	return player.Player{AnonID: anon}
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// IssueToken mints a signed token for a connected player. Token issuance
// lives with the wallet-connect service; this exists for tests and tooling.
func (m *AuthMiddleware) IssueToken(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *AuthMiddleware) unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "UNAUTHORIZED", "message": msg},
	})
}
