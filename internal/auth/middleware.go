package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "authUserID"

// GetUserID retrieves the authenticated subject from context.
func GetUserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(userIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// Credentials is the static user/secret pair accepted alongside bearer
// tokens. An empty pair disables that scheme.
type Credentials struct {
	User   string
	Secret string
}

func (c Credentials) enabled() bool {
	return c.User != "" && c.Secret != ""
}

// Middleware authenticates requests with either the configured credential
// pair or an HS256 bearer token, and injects the user identity. The pair is
// read from the X-Api-User and X-Api-Secret headers, falling back to
// api_user/api_secret form fields.
func Middleware(creds Credentials, jwtSecret, jwtAudience string) gin.HandlerFunc {
	jwtSecret = strings.TrimSpace(jwtSecret)
	jwtAudience = strings.TrimSpace(jwtAudience)

	return func(c *gin.Context) {
		if creds.enabled() {
			user, secret := pairFromRequest(c)
			if user != "" || secret != "" {
				if !pairMatches(creds, user, secret) {
					unauthorized(c, "invalid credentials")
					return
				}
				setUser(c, user)
				c.Next()
				return
			}
		}

		tokenString, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		subject, err := validateToken(tokenString, jwtSecret, jwtAudience)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		setUser(c, subject)
		c.Next()
	}
}

func pairFromRequest(c *gin.Context) (string, string) {
	user := strings.TrimSpace(c.GetHeader("X-Api-User"))
	secret := strings.TrimSpace(c.GetHeader("X-Api-Secret"))
	if user == "" && secret == "" {
		user = strings.TrimSpace(c.PostForm("api_user"))
		secret = strings.TrimSpace(c.PostForm("api_secret"))
	}
	return user, secret
}

func pairMatches(creds Credentials, user, secret string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(creds.User), []byte(user)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(creds.Secret), []byte(secret)) == 1
	return userOK && secretOK
}

func validateToken(tokenString, secret, audience string) (string, error) {
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	}
	if secret == "" {
		return "", errors.New("missing JWT secret")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}

	if audience == "" {
		audience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	}
	if audience != "" && !containsAudience(claims.Audience, audience) {
		return "", errors.New("invalid audience")
	}

	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}

	return claims.Subject, nil
}

func setUser(c *gin.Context, userID string) {
	ctx := context.WithValue(c.Request.Context(), userIDKey, userID)
	c.Request = c.Request.WithContext(ctx)
	c.Set(string(userIDKey), userID)
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

func containsAudience(claims jwt.ClaimStrings, expected string) bool {
	for _, aud := range claims {
		if aud == expected {
			return true
		}
	}
	return false
}
