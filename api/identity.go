/*
identity.go - Bearer-token identity middleware

PURPOSE:
  Authentication lives upstream; this layer only needs to know WHO is
  calling so the transfer workflow can enforce sender/recipient ownership.
  Identity validates an HS256 Bearer token and injects the caller into the
  request context as an allocation.Actor.

CLAIMS:
  sub:  user ID (matched against Node.OwnerUserID)
  role: "admin" bypasses ownership checks

SEE ALSO:
  - allocation/types.go: Actor
  - server.go: middleware wiring
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stepperslife/ticket-engine/allocation"
)

type contextKey string

const actorKey contextKey = "actor"

// Identity returns middleware that validates a Bearer access token and
// places the caller's allocation.Actor in the request context. The secret
// must match the one used when issuing tokens.
func Identity(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
				return
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				writeError(w, http.StatusUnauthorized, "Invalid token", nil)
				return
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Invalid claims", nil)
				return
			}

			actor := allocation.Actor{}
			if sub, ok := claims["sub"].(string); ok {
				actor.UserID = sub
			}
			if role, ok := claims["role"].(string); ok && role == "admin" {
				actor.IsAdmin = true
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext returns the authenticated caller. The zero Actor means
// the identity middleware did not run (tests hitting handlers directly).
func ActorFromContext(ctx context.Context) allocation.Actor {
	actor, _ := ctx.Value(actorKey).(allocation.Actor)
	return actor
}

// NewAccessToken builds and signs an HS256 JWT for a user. Used by tests
// and token-issuing tooling; production tokens come from the identity
// service upstream.
func NewAccessToken(secret, userID, role string, ttlSeconds int64) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"exp":  jwt.NewNumericDate(now.Add(time.Duration(ttlSeconds) * time.Second)),
		"iat":  jwt.NewNumericDate(now),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
