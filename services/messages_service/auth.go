package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type userIDKey struct{}

type tokenValidator struct {
	key    ed25519.PublicKey
	parser *jwt.Parser
}

func newTokenValidator(publicKey, issuer, audience string) (*tokenValidator, error) {
	pubBytes, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return nil, errors.New("invalid JWT public key")
	}
	return &tokenValidator{
		key: ed25519.PublicKey(pubBytes),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

func (tv *tokenValidator) validate(token string) (int64, error) {
	claims := jwt.RegisteredClaims{}
	_, err := tv.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return tv.key, nil
	})
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(claims.Subject, 10, 64)
}

// authorize rejects requests without a valid bearer token and stores the
// caller id in the request context.
func (tv *tokenValidator) authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing token"})
			return
		}
		userId, err := tv.validate(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userId)))
	}
}

func callerID(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey{}).(int64)
	return id
}
