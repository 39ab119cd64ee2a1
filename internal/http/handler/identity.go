package handler

import (
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/usecase"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
	"github.com/gin-gonic/gin"
)

// IdentityHandler serves Console's resolve_identity endpoint, which every
// Comet calls on each new Agent link (§4.B).
type IdentityHandler struct {
	resolver *usecase.IdentityResolver
	logger   *slog.Logger
}

func NewIdentityHandler(resolver *usecase.IdentityResolver, logger *slog.Logger) *IdentityHandler {
	return &IdentityHandler{resolver: resolver, logger: logger.With("component", "identity_handler")}
}

func (h *IdentityHandler) ResolveIdentity(c *gin.Context) {
	var hello wire.HelloPayload
	if err := c.ShouldBindJSON(&hello); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.resolver.ResolveIdentity(c.Request.Context(), hello); err != nil {
		h.logger.WarnContext(c.Request.Context(), "resolve identity rejected", "instance_id", hello.InstanceID, "error", err)
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}
