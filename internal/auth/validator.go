package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken signals that no bearer token was supplied.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrNoSubject signals a valid token that names no user.
	ErrNoSubject = errors.New("user id missing in token")
)

// Claims are the fields the credit service reads from access tokens.
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Validator verifies RS256 access tokens issued by the auth service.
type Validator struct {
	publicKey *rsa.PublicKey
	issuer    string
}

// NewValidator loads the PEM encoded RSA public key at publicKeyPath.
func NewValidator(publicKeyPath, issuer string) (*Validator, error) {
	data, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return NewValidatorWithKey(key, issuer), nil
}

func NewValidatorWithKey(key *rsa.PublicKey, issuer string) *Validator {
	return &Validator{publicKey: key, issuer: issuer}
}

// Parse validates a raw token and returns its claims. UserID falls back to
// the registered subject.
func (v *Validator) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	}, opts...); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, ErrNoSubject
	}
	return claims, nil
}

// FromHeader validates the bearer token in an Authorization header value.
func (v *Validator) FromHeader(header string) (*Claims, error) {
	header = strings.TrimSpace(header)
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		header = rest
	}
	return v.Parse(header)
}
