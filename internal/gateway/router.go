package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/voxcord/voxcord/internal/config"
)

// SetupRouter wires the voice endpoint and the development token issuer.
func SetupRouter(ctx context.Context, cfg *config.Config, ctl *Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")

	// Development stand-in for the external identity service.
	api.POST("/token", func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
			c.JSON(http.StatusBadRequest, gin.H{"message": "missing or invalid username"})
			return
		}
		tok, uid, err := IssueToken(cfg.Secret, req.Username, 24*time.Hour)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": tok, "userId": uid})
	})

	api.GET("/ws/voice", AuthMiddleware(cfg.Secret), func(c *gin.Context) {
		log.Info().Str("module", "gateway.router").Str("user", c.GetString("user_id")).Msg("voice endpoint hit")
		ctl.HandleVoice(ctx, c)
	})

	return r
}
