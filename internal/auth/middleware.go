package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	roleKey   contextKey = "role"
)

// RoleService marks calls authenticated with the shared service credential.
const RoleService = "service"

// Middleware authenticates bearer tokens. Three paths, checked in order:
// the static service credential (machine callers), an OIDC verifier when
// OIDC_ISSUER is configured, and HS256 verification against JWT_SECRET
// otherwise. Role comes from the "role" claim.
func Middleware() func(http.Handler) http.Handler {
	serviceToken := os.Getenv("SERVICE_TOKEN")
	jwtSecret := os.Getenv("JWT_SECRET")
	issuer := os.Getenv("OIDC_ISSUER")

	var verifier *oidc.IDTokenVerifier
	if issuer != "" {
		provider, err := oidc.NewProvider(context.Background(), issuer)
		if err != nil {
			panic(fmt.Sprintf("Failed to create OIDC provider: %v", err))
		}
		verifier = provider.Verifier(&oidc.Config{
			SkipClientIDCheck: true,
		})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			if serviceToken != "" && subtle.ConstantTimeCompare([]byte(rawToken), []byte(serviceToken)) == 1 {
				ctx := context.WithValue(r.Context(), userIDKey, "service")
				ctx = context.WithValue(ctx, roleKey, RoleService)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			var sub, role string

			if verifier != nil {
				idToken, err := verifier.Verify(r.Context(), rawToken)
				if err != nil {
					http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
					return
				}
				var claims struct {
					Sub  string `json:"sub"`
					Role string `json:"role"`
				}
				if err := idToken.Claims(&claims); err != nil {
					http.Error(w, "failed to parse claims", http.StatusUnauthorized)
					return
				}
				sub, role = claims.Sub, claims.Role
			} else {
				if jwtSecret == "" {
					http.Error(w, "authentication is not configured", http.StatusUnauthorized)
					return
				}
				sub, role, err = VerifyHS256(rawToken, []byte(jwtSecret))
				if err != nil {
					http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
					return
				}
			}

			ctx := context.WithValue(r.Context(), userIDKey, sub)
			ctx = context.WithValue(ctx, roleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers whose role claim is not "admin".
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Role(r.Context()) != "admin" {
			http.Error(w, "admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// VerifyHS256 validates an HS256-signed JWT and returns (sub, role).
func VerifyHS256(tokenString string, secret []byte) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" {
		return "", "", fmt.Errorf("subject claim not found in token")
	}
	return sub, role, nil
}

// ExtractTokenFromRequest extracts a bearer token from the Authorization header.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("authorization header is missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("authorization header format must be 'Bearer {token}'")
	}
	return parts[1], nil
}

// UserID returns the authenticated subject from the request context.
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}

// Role returns the authenticated role from the request context.
func Role(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey).(string); ok {
		return role
	}
	return ""
}
