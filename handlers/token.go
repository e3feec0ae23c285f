package handlers

import (
	"errors"
	"fmt"
	"time"

	"jankenserver/models"

	jwt "github.com/dgrijalva/jwt-go"
)

var ErrInvalidToken = errors.New("invalid session token")

// SessionClaims はトークンに内包するデータ
type SessionClaims struct {
	models.Session
	jwt.StandardClaims
}

// Tokens はセッショントークンの発行と検証を行う
type Tokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{key: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue は Session を HS256 で署名したトークンにする
func (t *Tokens) Issue(session models.Session) (string, error) {
	now := t.now()
	claims := &SessionClaims{
		Session: session,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(t.ttl).Unix(),
			Subject:   session.PlayerID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.key)
}

// Parse はトークンを検証して Session を取り出す
func (t *Tokens) Parse(tokenString string) (models.Session, error) {
	if tokenString == "" {
		return models.Session{}, fmt.Errorf("empty token: %w", ErrInvalidToken)
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.key, nil
	})
	if err != nil || !token.Valid {
		return models.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.RoomID == "" || claims.PlayerID == "" {
		return models.Session{}, fmt.Errorf("incomplete claims: %w", ErrInvalidToken)
	}
	return claims.Session, nil
}
