package middleware

import (
	"net/http"
	"strings"

	"leadwire/internal/common"

	"github.com/gin-gonic/gin"
)

// UserIDKey is where Auth stores the authenticated user id.
const UserIDKey = "userID"

// AccessVerifier validates an access token and returns its subject.
type AccessVerifier func(token string) (userID string, err error)

// Auth returns middleware that requires a valid "Authorization: Bearer" access
// token. Any failure is a 401 so clients can refresh and replay.
func Auth(verify AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			common.Error(c, http.StatusUnauthorized, "missing bearer token")
			c.Abort()
			return
		}

		userID, err := verify(token)
		if err != nil {
			common.Error(c, http.StatusUnauthorized, "invalid or expired access token")
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
