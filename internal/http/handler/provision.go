package handler

import (
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/usecase"
	"github.com/gin-gonic/gin"
)

// ProvisionHandler serves the one-time assign-token issuance call an Agent
// makes before it ever dials Comet (§6 "--assign-username|--assign-password").
// It registers the instance if new, then mints the credential the Agent
// carries in every subsequent wire.HelloPayload.
type ProvisionHandler struct {
	issuer    *usecase.IdentityIssuer
	instances repository.InstanceRepository
	logger    *slog.Logger
}

func NewProvisionHandler(issuer *usecase.IdentityIssuer, instances repository.InstanceRepository, logger *slog.Logger) *ProvisionHandler {
	return &ProvisionHandler{issuer: issuer, instances: instances, logger: logger.With("component", "provision_handler")}
}

type issueAssignTokenRequest struct {
	InstanceID string `json:"instanceId" binding:"required"`
	IP         string `json:"ip"`
	MacAddr    string `json:"macAddr"`
	Namespace  string `json:"namespace" binding:"required"`
	SysUser    string `json:"sysUser"`
	SSHPort    int    `json:"sshPort"`
}

func (h *ProvisionHandler) IssueAssignToken(c *gin.Context) {
	var req issueAssignTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.instances.Upsert(c.Request.Context(), &domain.Instance{
		InstanceID: req.InstanceID,
		IP:         req.IP,
		MacAddr:    req.MacAddr,
		Namespace:  req.Namespace,
		Status:     domain.InstanceOffline,
		SysUser:    req.SysUser,
		SSHPort:    req.SSHPort,
	}); err != nil {
		h.logger.Error("upsert instance failed", "instance_id", req.InstanceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register instance failed"})
		return
	}

	token, err := h.issuer.IssueAssignToken(req.InstanceID, req.Namespace)
	if err != nil {
		h.logger.Error("issue assign token failed", "instance_id", req.InstanceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"assignToken": token})
}
