// Package auth проверяет bearer-токены сервиса аутентификации и превращает их в models.Identity.
// Сам сервис токены не выпускает: Issue нужен для локальной отладки и тестов.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pribylovaa/comments-moderation/internal/config"
	"github.com/pribylovaa/comments-moderation/internal/models"
)

// RoleModerator - значение claim role, дающее права модератора.
const RoleModerator = "moderator"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

type accessClaims struct {
	UserID string `json:"uid"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier проверяет HS256-токены по общему секрету, издателю и аудитории.
type Verifier struct {
	secret   []byte
	issuer   string
	audience []string
}

// NewVerifier создаёт Verifier из секции auth конфигурации.
func NewVerifier(cfg config.AuthConfig) *Verifier {
	return &Verifier{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
}

// Verify валидирует токен и возвращает identity.
// Истёкший токен - ErrTokenExpired, остальные проблемы - ErrInvalidToken.
func (v *Verifier) Verify(tokenStr string) (models.Identity, error) {
	const op = "auth/Verify"

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if len(v.audience) > 0 {
		opts = append(opts, jwt.WithAudience(v.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
			}

			return v.secret, nil
		},
		opts...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return models.Identity{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return models.Identity{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil || uid == uuid.Nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return models.Identity{
		UserID:      uid,
		DisplayName: strings.TrimSpace(claims.Name),
		Moderator:   claims.Role == RoleModerator,
	}, nil
}

// Issue подписывает токен для identity с заданным временем жизни.
func (v *Verifier) Issue(id models.Identity, now time.Time, ttl time.Duration) (string, error) {
	const op = "auth/Issue"

	claims := accessClaims{
		UserID: id.UserID.String(),
		Name:   id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			Subject:   id.UserID.String(),
			Audience:  jwt.ClaimStrings(v.audience),
		},
	}
	if id.Moderator {
		claims.Role = RoleModerator
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}
