package broadcast

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleGuest = "guest"
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var (
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrForbidden    = errors.New("forbidden")
)

// Identity is the authenticated principal behind a connection.
type Identity struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Privileged reports whether the identity may read other users' topics.
func (i Identity) Privileged() bool {
	return i.Role == RoleAdmin
}

type claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens. Without a secret every token is
// rejected and only guests can connect.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Identify resolves token to an identity. An empty token is a fresh guest.
func (a *Authenticator) Identify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{ID: "guest-" + uuid.NewString(), Role: RoleGuest}, nil
	}
	if a == nil || len(a.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: tokens are not accepted", ErrInvalidToken)
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(c.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	role := c.Role
	if role == "" {
		role = RoleUser
	}
	return Identity{ID: strings.ToLower(c.Subject), Role: role}, nil
}

// Require resolves token and checks it carries role.
func (a *Authenticator) Require(token, role string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, fmt.Errorf("%w: token required", ErrInvalidToken)
	}
	id, err := a.Identify(token)
	if err != nil {
		return Identity{}, err
	}
	if id.Role != role {
		return Identity{}, fmt.Errorf("%w: role %s required", ErrForbidden, role)
	}
	return id, nil
}

// BearerToken extracts the token from the Authorization header, falling back
// to the token query parameter browsers use for WebSocket upgrades.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return header
	}
	return r.URL.Query().Get("token")
}
