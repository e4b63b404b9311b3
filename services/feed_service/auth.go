package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"github.com/golang-jwt/jwt/v5"
)

var errUnauthorized = errors.New("unauthorized")

type tokenValidator struct {
	key      ed25519.PublicKey
	issuer   string
	audience string
}

func newTokenValidator(config models.AuthConfig) (*tokenValidator, error) {
	pubBytes, err := base64.StdEncoding.DecodeString(config.PublicKey)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return nil, errors.New("invalid JWT public key")
	}
	return &tokenValidator{
		key:      ed25519.PublicKey(pubBytes),
		issuer:   config.Issuer,
		audience: config.Audience,
	}, nil
}

// ValidateToken returns the user id carried in the token subject.
func (tv *tokenValidator) ValidateToken(token string) (int64, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(tv.audience),
		jwt.WithIssuer(tv.issuer),
	)
	claims := jwt.RegisteredClaims{}
	parse, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return tv.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, fmt.Errorf("%w: token expired", errUnauthorized)
		}
		return 0, fmt.Errorf("%w: %v", errUnauthorized, err)
	}
	if !parse.Valid {
		return 0, fmt.Errorf("%w: token is not valid", errUnauthorized)
	}
	userId, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad subject", errUnauthorized)
	}
	return userId, nil
}

// userFromRequest accepts a bearer header, or a token query parameter for
// websocket upgrades where browsers cannot set headers.
func (tv *tokenValidator) userFromRequest(r *http.Request) (int64, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return 0, fmt.Errorf("%w: missing token", errUnauthorized)
	}
	return tv.ValidateToken(token)
}
