package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/accessctl/authz"
)

// AccessHandler handles instance-level ACL and self-service permission requests
type AccessHandler struct {
	accessService *authz.AccessService
	authorizer    authz.Authorizer
}

// NewAccessHandler creates a new AccessHandler
func NewAccessHandler(accessService *authz.AccessService, authorizer authz.Authorizer) *AccessHandler {
	return &AccessHandler{accessService: accessService, authorizer: authorizer}
}

type grantAccessRequest struct {
	UserID  string          `json:"user_id" binding:"required"`
	Actions authz.ActionSet `json:"actions" binding:"required"`
}

type updateAccessRequest struct {
	Actions authz.ActionSet `json:"actions" binding:"required"`
}

// GetMyPermissions handles GET /me/permissions
func (h *AccessHandler) GetMyPermissions(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	perms, err := h.authorizer.EffectivePermissions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, perms)
}

// GetAccessibleResources handles GET /access/:resource_type
func (h *AccessHandler) GetAccessibleResources(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	resourceType, ok := resourceTypeParam(c)
	if !ok {
		return
	}

	set, err := h.authorizer.AccessibleResourceIDs(c.Request.Context(), userID, resourceType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"resource_type": resourceType, "all": set.All, "ids": set.IDs})
}

// ListResourceAccess handles GET /access/:resource_type/:resource_id
func (h *AccessHandler) ListResourceAccess(c *gin.Context) {
	userID := c.GetString("user_id")
	resourceType, ok := resourceTypeParam(c)
	if !ok {
		return
	}
	resourceID := c.Param("resource_id")

	entries, err := h.accessService.ListResourceAccess(c.Request.Context(), userID, resourceType, resourceID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// GrantAccess handles POST /access/:resource_type/:resource_id
func (h *AccessHandler) GrantAccess(c *gin.Context) {
	userID := c.GetString("user_id")
	resourceType, ok := resourceTypeParam(c)
	if !ok {
		return
	}

	var req grantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	access, err := h.accessService.GrantAccess(c.Request.Context(), authz.GrantAccessInput{
		ResourceType: resourceType,
		ResourceID:   c.Param("resource_id"),
		UserID:       req.UserID,
		Actions:      req.Actions,
		GrantedByID:  userID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, access)
}

// UpdateAccess handles PATCH /access/:resource_type/:resource_id/:user_id
func (h *AccessHandler) UpdateAccess(c *gin.Context) {
	userID := c.GetString("user_id")
	resourceType, ok := resourceTypeParam(c)
	if !ok {
		return
	}

	var req updateAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	access, err := h.accessService.UpdateAccess(c.Request.Context(), authz.GrantAccessInput{
		ResourceType: resourceType,
		ResourceID:   c.Param("resource_id"),
		UserID:       c.Param("user_id"),
		Actions:      req.Actions,
		GrantedByID:  userID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, access)
}

// RevokeAccess handles DELETE /access/:resource_type/:resource_id/:user_id
func (h *AccessHandler) RevokeAccess(c *gin.Context) {
	userID := c.GetString("user_id")
	resourceType, ok := resourceTypeParam(c)
	if !ok {
		return
	}

	err := h.accessService.RevokeAccess(c.Request.Context(), userID, resourceType, c.Param("resource_id"), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "access revoked"})
}

// resourceTypeParam parses :resource_type and writes a 400 when it is unknown
func resourceTypeParam(c *gin.Context) (authz.ResourceType, bool) {
	resourceType, err := authz.ParseResourceType(c.Param("resource_type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return resourceType, true
}

// respondError maps authz errors to HTTP status codes
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, authz.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, authz.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, authz.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, authz.ErrAlreadyExists), errors.Is(err, authz.ErrSystemRole):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		log.Printf("ERROR - %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
