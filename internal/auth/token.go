package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken はトークンの検証に失敗した場合に返される。
var ErrInvalidToken = errors.New("invalid token")

// clockSkew はexp/nbf/iatの検証で許容する時刻のずれ。
const clockSkew = 30 * time.Second

// Claims はIdPが発行したIDトークンから利用するクレーム。
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// TokenVerifier はBearerトークン（HS256署名のJWT）を検証する。
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// VerifierConfig はTokenVerifierの設定。
// Issuer、Audienceが空の場合はそのクレームを検証しない。
type VerifierConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// NewTokenVerifier はTokenVerifierを生成する。
func NewTokenVerifier(cfg VerifierConfig) (*TokenVerifier, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &TokenVerifier{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify はトークンの署名と有効期限を検証し、クレームを返す。
// subクレームは必須。
func (v *TokenVerifier) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	return claims, nil
}
