// Package auth signs and verifies the HS256 bearer tokens that carry a
// session's user id.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const Issuer = "event-tracker"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type Claims struct {
	Subject  string `json:"sub"`
	Username string `json:"username"`
	Issuer   string `json:"iss"`
	IssuedAt int64  `json:"iat"`
	Exp      int64  `json:"exp"`
}

var tokenHeader = mustSegment(map[string]string{"alg": "HS256", "typ": "JWT"})

type Manager struct {
	Secret []byte
	Now    func() time.Time
	TTL    time.Duration
}

func NewManager(secret string, ttl time.Duration) Manager {
	return Manager{
		Secret: []byte(secret),
		Now:    func() time.Time { return time.Now().UTC() },
		TTL:    ttl,
	}
}

func (m Manager) Sign(userID, username string) (string, error) {
	now := m.Now()
	payload, err := segment(Claims{
		Subject:  userID,
		Username: username,
		Issuer:   Issuer,
		IssuedAt: now.Unix(),
		Exp:      now.Add(m.TTL).Unix(),
	})
	if err != nil {
		return "", err
	}
	signed := tokenHeader + "." + payload
	return signed + "." + base64.RawURLEncoding.EncodeToString(m.mac(signed)), nil
}

func (m Manager) Parse(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != tokenHeader {
		return Claims{}, ErrInvalidToken
	}

	gotSig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(m.mac(parts[0]+"."+parts[1]), gotSig) {
		return Claims{}, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.Exp == 0 || claims.Issuer != Issuer {
		return Claims{}, ErrInvalidToken
	}
	if m.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// Authenticate parses the token from an Authorization header value.
func (m Manager) Authenticate(authHeader string) (Claims, error) {
	token := BearerToken(authHeader)
	if token == "" {
		return Claims{}, ErrMissingToken
	}
	return m.Parse(token)
}

func (m Manager) mac(data string) []byte {
	h := hmac.New(sha256.New, m.Secret)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func segment(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func mustSegment(v any) string {
	s, err := segment(v)
	if err != nil {
		panic(err)
	}
	return s
}

func BearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
