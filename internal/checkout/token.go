package checkout

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OrderAccessToken signs a short-lived token scoped to one order. The client
// presents it to read payment state for that order without holding a full
// customer session.
func OrderAccessToken(orderID string, secret []byte, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("order token secret is not configured")
	}
	claims := jwt.MapClaims{
		"sub":   orderID,
		"scope": "order",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// VerifyOrderAccessToken checks the signature and scope and returns the order
// id the token grants access to.
func VerifyOrderAccessToken(tokenString string, secret []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if scope, _ := claims["scope"].(string); scope != "order" {
		return "", fmt.Errorf("token scope is not order")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}
