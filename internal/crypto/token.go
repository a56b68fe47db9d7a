package crypto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Jacobpac15/chatapp-parcial3/internal/apperr"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// TokenConfig holds the shared secret and lifetime for bearer tokens.
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Claims are the JWT claims carried by a relay bearer token.
type Claims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 bearer tokens.
type TokenManager struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenManager creates a TokenManager with the given configuration.
func NewTokenManager(config TokenConfig) *TokenManager {
	return &TokenManager{config: config, now: time.Now}
}

// Issue signs a token for the given identity.
func (m *TokenManager) Issue(id models.Identity) (string, error) {
	now := m.now()
	claims := Claims{
		UserID:   id.ID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   fmt.Sprintf("%d", id.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.Secret))
}

// Verify validates a token and returns the identity it carries. Every
// rejection wraps apperr.ErrAuthenticationFailed.
func (m *TokenManager) Verify(tokenString string) (models.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return models.Identity{}, apperr.Wrap(apperr.ErrAuthenticationFailed, "token required", ErrMissingToken)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.config.Secret), nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, apperr.Wrap(apperr.ErrAuthenticationFailed, "token expired", ErrExpiredToken)
		}
		return models.Identity{}, apperr.Wrap(apperr.ErrAuthenticationFailed, "invalid token", ErrInvalidToken)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID <= 0 || strings.TrimSpace(claims.Username) == "" {
		return models.Identity{}, apperr.Wrap(apperr.ErrAuthenticationFailed, "invalid token", ErrInvalidToken)
	}

	return models.Identity{ID: claims.UserID, Username: claims.Username}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
