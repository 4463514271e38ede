package local

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kartik102005/ecolearn/internal/core/auth"
)

const issuer = "ecolearn-local"

// accessTTL bounds a single access token. The refresh token, and so the
// stored session, lives for the configured session TTL.
const accessTTL = time.Hour

type accessClaims struct {
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

type signer struct {
	secret []byte
}

// issue mints a new session for user at now.
func (s signer) issue(user auth.User, now time.Time) (*auth.Session, error) {
	exp := now.Add(accessTTL)
	claims := accessClaims{
		Email:    user.Email,
		Metadata: user.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign jwt: %w", err)
	}

	refresh, err := refreshToken()
	if err != nil {
		return nil, err
	}

	return &auth.Session{
		AccessToken:  token,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    exp.Truncate(time.Second),
		User:         user,
	}, nil
}

// parse verifies token and returns its subject. Expiry is checked against now.
func (s signer) parse(token string, now time.Time) (string, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func refreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
