package guesttoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const issuer = "hanko-field/orders"

var (
	// ErrInvalidToken is returned when a token fails signature or claim validation.
	ErrInvalidToken = errors.New("guesttoken: invalid token")
	// ErrExpiredToken is returned when a token's validity window has passed.
	ErrExpiredToken = errors.New("guesttoken: token expired")
)

// Claims carries the order reference embedded in a guest access token.
type Claims struct {
	OrderID string `json:"oid"`
	jwt.RegisteredClaims
}

// Minter issues and verifies HS256 tokens that grant read access to a
// single order without an account.
type Minter struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewMinter validates the signing secret and returns a Minter.
func NewMinter(secret string, ttl time.Duration, now func() time.Time) (*Minter, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("guesttoken: signing secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("guesttoken: ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &Minter{secret: []byte(secret), ttl: ttl, now: now}, nil
}

// Mint issues a token scoped to the given order.
func (m *Minter) Mint(orderID string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", errors.New("guesttoken: order id is required")
	}
	issuedAt := m.now().UTC()
	claims := Claims{
		OrderID: orderID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   orderID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("guesttoken: sign: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and validity window and returns the order
// id the token grants access to.
func (m *Minter) Verify(raw string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return m.now().UTC() }),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Issuer != issuer {
		return "", ErrInvalidToken
	}
	orderID := strings.TrimSpace(claims.OrderID)
	if orderID == "" {
		return "", ErrInvalidToken
	}
	return orderID, nil
}
