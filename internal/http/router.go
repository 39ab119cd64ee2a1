// Package httptransport assembles the Console's thin admin/control HTTP
// surface (§12): health, metrics, operator sign-in, manual trigger/kill,
// workflow start, and the Comet and Agent-bootstrap callbacks
// (resolve-identity, upstream, issue-assign-token). It intentionally
// does not build the product REST/admin API the web UI needs — that is the
// §1 Non-goal "admin endpoints".
package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/http/handler"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(
	logger *slog.Logger,
	healthHandler *handler.HealthHandler,
	controlHandler *handler.ControlHandler,
	identityHandler *handler.IdentityHandler,
	provisionHandler *handler.ProvisionHandler,
	upstreamHandler *handler.UpstreamHandler,
	authHandler *handler.AuthHandler,
	workflowHandler *handler.WorkflowHandler,
	jwksURL string,
	hmacKey []byte,
	cometSecret string,
	adminUsername, adminPassword string,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.GET("/healthz", healthHandler.Liveness)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := r.Group("/auth")
	authGroup.POST("/magic-link", authHandler.RequestMagicLink)
	authGroup.GET("/verify", authHandler.Verify)

	authMW := middleware.Auth(jwksURL, hmacKey)
	internalGroup := r.Group("/internal/schedules", authMW)
	internalGroup.POST("/:eid/trigger", controlHandler.Trigger)
	internalGroup.POST("/:eid/kill", controlHandler.Kill)

	workflowGroup := r.Group("/internal/workflows", authMW)
	workflowGroup.POST("/:workflowId/start", workflowHandler.Start)

	cometGroup := r.Group("/internal", middleware.SharedSecret(cometSecret))
	cometGroup.POST("/resolve-identity", identityHandler.ResolveIdentity)
	cometGroup.POST("/upstream", upstreamHandler.Push)

	provisionGroup := r.Group("/internal", middleware.BasicAuth(adminUsername, adminPassword))
	provisionGroup.POST("/issue-assign-token", provisionHandler.IssueAssignToken)

	return r
}
