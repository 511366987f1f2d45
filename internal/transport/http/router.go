package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

// NewRouter wires the core's one HTTP-facing surface: login (magic link)
// and the two trigger ingress points. Job/schedule CRUD administration is
// an external collaborator's concern, not the core's.
func NewRouter(
	triggerHandler *handler.TriggerHandler,
	authHandler *handler.AuthHandler,
	users repository.UserRepository,
	jwtKey []byte,
	logger *slog.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), sloggin.New(logger), middleware.Metrics())

	r.POST("/auth/magic-link", authHandler.RequestMagicLink)
	r.GET("/auth/verify", authHandler.Verify)

	// Webhook ingress is unauthenticated — the HMAC signature is the
	// credential.
	r.POST("/w/:path", triggerHandler.WebhookTrigger)

	manual := r.Group("/jobs", middleware.Auth(jwtKey), middleware.EnsureUser(users, logger))
	manual.POST("/:id/trigger", triggerHandler.ManualTrigger)

	return r
}
