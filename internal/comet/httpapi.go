package comet

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/http/middleware"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type forwardRequest struct {
	InstanceID string          `json:"instanceId"`
	Kind       wire.Kind       `json:"kind"`
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
}

// NewRouter builds the HTTP surface a Comet process exposes alongside its
// Agent WebSocket listener: health, metrics, and the Console-facing forward
// endpoint the dispatcher's Forwarder calls into (§4.C, §12).
func (s *Server) NewRouter(secret string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "up"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", gin.WrapF(s.ServeAgentLink))
	r.POST("/assign-token", s.handleAssignToken)

	forward := r.Group("/internal", middleware.SharedSecret(secret))
	forward.POST("/forward", s.handleForward)

	return r
}

type assignTokenRequest struct {
	AssignTokenRequest
	AssignUsername string `json:"assignUsername" binding:"required"`
	AssignPassword string `json:"assignPassword" binding:"required"`
}

// handleAssignToken is deliberately outside the shared-secret group — an
// Agent calling this has no credential yet except its own claimed
// assign_username/assign_password, which it hands straight to Console (§6).
func (s *Server) handleAssignToken(c *gin.Context) {
	if s.assignToken == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "assign-token issuance not configured on this comet"})
		return
	}

	var req assignTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := s.assignToken.IssueAssignToken(c.Request.Context(), req.AssignUsername, req.AssignPassword, req.AssignTokenRequest)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignToken": token})
}

func (s *Server) handleForward(c *gin.Context) {
	var req forwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.Forward(c.Request.Context(), req.InstanceID, req.Kind, req.ID, req.Payload); err != nil {
		switch {
		case errors.Is(err, ErrNotConnected):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, ErrLinkClosed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.Status(http.StatusNoContent)
}
