// Package utils holds the bearer-token helpers.  Tokens are issued by the
// institution's identity service; this service only verifies them.
// NewAccessToken exists for tests and for operators minting a token with
// the shared secret.
package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aplabs/labreserve/internal/model"
)

// ErrInvalidToken is returned for any token that cannot be trusted.
var ErrInvalidToken = errors.New("invalid token")

// AccessToken is a signed JWT together with its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// Claims are the parts of a verified token the service uses.
type Claims struct {
	UserID    uint64
	Role      model.Role
	ExpiresAt time.Time
}

// Actor returns the caller described by the claims.
func (c Claims) Actor() model.Actor { return model.Actor{ID: c.UserID, Role: c.Role} }

// NewAccessToken signs an HS256 token with sub, role, exp and iat claims.
func NewAccessToken(secret string, userID uint64, role model.Role, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  strconv.FormatUint(userID, 10),
		"role": string(role),
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies raw with secret and extracts its claims.  Only
// HMAC-signed tokens with an expiry and a numeric subject are accepted;
// the subject may be encoded as a string or a number.
func ParseAccessToken(secret, raw string) (Claims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	id, err := subject(mc["sub"])
	if err != nil {
		return Claims{}, err
	}
	out := Claims{UserID: id}
	if r, ok := mc["role"].(string); ok {
		out.Role = model.ParseRole(r)
	} else {
		out.Role = model.RoleUser
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

func subject(v any) (uint64, error) {
	switch s := v.(type) {
	case string:
		id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err == nil && id > 0 {
			return id, nil
		}
	case float64:
		if s > 0 && s == float64(uint64(s)) {
			return uint64(s), nil
		}
	}
	return 0, fmt.Errorf("%w: subject %v is not a user id", ErrInvalidToken, v)
}
