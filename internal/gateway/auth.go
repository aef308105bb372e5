package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/voxcord/voxcord/internal/domain"
)

// Claims is the bearer token payload issued by the identity service. The
// gateway only needs the subject (user id) and a display name.
type Claims struct {
	Username string `json:"name"`
	jwt.RegisteredClaims
}

// IssueToken signs a development token for username. Production deployments
// use the external identity service instead; the signing shape is the same.
func IssueToken(secret, username string, ttl time.Duration) (string, domain.UserID, error) {
	user, err := domain.NewUser(username)
	if err != nil {
		return "", "", err
	}
	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user.ID),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", "", err
	}
	return tok, user.ID, nil
}

// AuthMiddleware validates the bearer token before the websocket upgrade and
// stores the resolved identity on the request context. Browsers that cannot
// set headers on websocket requests may pass the token as a query parameter.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.Request)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing token"})
			return
		}

		var claims Claims
		_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "gateway.auth").Msg("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}
		if claims.Subject == "" || claims.Username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "incomplete claims"})
			return
		}

		c.Set("user_id", claims.Subject)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
