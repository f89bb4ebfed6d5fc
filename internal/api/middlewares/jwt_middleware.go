package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/crypto/bcrypt"
)

type ctxKey string

const subjectKey ctxKey = "subject"

// Subject returns the authenticated caller attached by Auth.
func Subject(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok
}

// Auth accepts either a HS256 bearer token signed with secret or an X-API-Key
// whose bcrypt hash is listed in keyHashes. With neither configured every request passes.
func Auth(secret string, keyHashes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" && len(keyHashes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := authenticate(r, secret, keyHashes)
			if err != nil {
				hlog.FromRequest(r).Info().Err(err).Msg("unauthorized request")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","kind":"unauthorized"}` + "\n"))
				return
			}
			ctx := context.WithValue(r.Context(), subjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, secret string, keyHashes []string) (string, error) {
	if key := r.Header.Get("X-API-Key"); key != "" && len(keyHashes) > 0 {
		for _, h := range keyHashes {
			if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
				return "api-key", nil
			}
		}
		return "", errors.New("unknown api key")
	}

	auth := r.Header.Get("Authorization")
	if secret == "" || !strings.HasPrefix(auth, "Bearer ") {
		return "", errors.New("missing credentials")
	}
	tokenStr := strings.TrimPrefix(auth, "Bearer ")
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "token", nil
	}
	return claims.Subject, nil
}
