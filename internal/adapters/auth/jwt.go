// Package auth resolves connection identity from HMAC-signed JWTs.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Chat/internal/domain"
	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Verifier checks tokens issued by the account service. The user id is the
// "sub" claim.
type Verifier struct {
	secret []byte
	method jwtlib.SigningMethod
}

func NewVerifier(secret []byte, alg string) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}
	return &Verifier{secret: secret, method: method}, nil
}

// Verify returns the user id carried by token. Every failure is reported as
// domain.ErrUnauthenticated.
func (v *Verifier) Verify(token string) (domain.UserID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: missing token", domain.ErrUnauthenticated)
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwtlib.WithValidMethods([]string{v.method.Alg()}), jwtlib.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	return domain.ParseUserID(sub)
}

// Sign issues a token for user. Token issuance belongs to the account
// service; this exists for tests and local tooling.
func (v *Verifier) Sign(user domain.UserID, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	now := time.Now()
	claims := jwtlib.RegisteredClaims{
		Subject:   string(user),
		IssuedAt:  jwtlib.NewNumericDate(now),
		NotBefore: jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
	}
	return jwtlib.NewWithClaims(v.method, claims).SignedString(v.secret)
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("auth: unsupported alg %s (use HS256/HS384/HS512)", alg)
	}
}
