package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/walletauth/internal/model"
)

const tokenIssuer = "walletauth"

// ErrInvalidToken はセッショントークンが無効または期限切れであることを表す。
var ErrInvalidToken = errors.New("invalid session token")

// Claims はセッショントークンのクレーム。Subjectにはウォレットアドレスが入る。
type Claims struct {
	WalletAddress string `json:"wallet_address"`
	Role          string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256で署名したセッショントークンの発行と検証を行う。
type TokenIssuer struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。maxAgeが0以下の場合は24時間とする。
func NewTokenIssuer(secret string, maxAge time.Duration) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("session secret must be at least 16 bytes")
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), maxAge: maxAge, now: time.Now}, nil
}

// Issue はユーザーレコードに対するトークンを発行する。
func (ti *TokenIssuer) Issue(u *model.User) (string, error) {
	now := ti.now()
	claims := Claims{
		WalletAddress: u.WalletAddress,
		Role:          u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.WalletAddress,
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.maxAge)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
}

// Parse はトークンを検証してクレームを返す。
func (ti *TokenIssuer) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(ti.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.WalletAddress == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
