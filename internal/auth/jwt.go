package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"carelink/backend/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// ErrSecretMissing is returned when the verifier has no signing secret.
var ErrSecretMissing = errors.New("jwt secret not configured")

// Identity is what a verified credential says about the caller.
type Identity struct {
	ID   string
	Role models.Role
	Name string
}

// Claims mirrors the payload issued by the platform's login endpoint.
type Claims struct {
	ID       string      `json:"id"`
	UserType models.Role `json:"userType"`
	Name     string      `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier signs and validates HS256 access tokens.
type Verifier struct {
	secret []byte
	expiry time.Duration
}

func NewVerifier(secret string, expiry time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), expiry: expiry}
}

// Issue signs a token for id. A non-positive expiry produces a token without exp.
func (v *Verifier) Issue(id Identity) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", ErrSecretMissing
	}
	if strings.TrimSpace(id.ID) == "" || !id.Role.Valid() {
		return "", fmt.Errorf("issue token: %w", models.ErrValidationFailed)
	}

	now := time.Now()
	claims := Claims{
		ID:       id.ID,
		UserType: id.Role,
		Name:     strings.TrimSpace(id.Name),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if v.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(v.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify parses a bearer credential. Every failure maps to models.ErrUnauthenticated.
func (v *Verifier) Verify(token string) (*Identity, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, models.ErrUnauthenticated
	}
	if strings.TrimSpace(token) == "" {
		return nil, models.ErrUnauthenticated
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, models.ErrUnauthenticated
	}
	id := strings.TrimSpace(claims.ID)
	if id == "" {
		id = strings.TrimSpace(claims.Subject)
	}
	if id == "" || !claims.UserType.Valid() {
		return nil, models.ErrUnauthenticated
	}
	return &Identity{ID: id, Role: claims.UserType, Name: strings.TrimSpace(claims.Name)}, nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, bool) {
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}
