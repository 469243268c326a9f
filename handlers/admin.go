package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/accessctl/authz"
)

// AdminHandler exposes role, group and global grant administration
type AdminHandler struct {
	adminService *authz.AdminService
}

func NewAdminHandler(adminService *authz.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

type replaceRoleIDsRequest struct {
	RoleIDs []string `json:"role_ids"`
}

type replaceGroupIDsRequest struct {
	GroupIDs []string `json:"group_ids"`
}

type replaceUserIDsRequest struct {
	UserIDs []string `json:"user_ids"`
}

type replaceGrantsRequest struct {
	Permissions []authz.PermissionGrant `json:"permissions" binding:"dive"`
}

// ListRoles handles GET /admin/roles
func (h *AdminHandler) ListRoles(c *gin.Context) {
	roles, err := h.adminService.ListRoles(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": roles})
}

// CreateRole handles POST /admin/roles
func (h *AdminHandler) CreateRole(c *gin.Context) {
	var req authz.CreateRoleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role, err := h.adminService.CreateRole(c.Request.Context(), c.GetString("user_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

// DeleteRole handles DELETE /admin/roles/:id
func (h *AdminHandler) DeleteRole(c *gin.Context) {
	if err := h.adminService.DeleteRole(c.Request.Context(), c.GetString("user_id"), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "role deleted"})
}

// ReplaceRolePermissions handles PUT /admin/roles/:id/permissions
func (h *AdminHandler) ReplaceRolePermissions(c *gin.Context) {
	var req replaceGrantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.adminService.ReplaceRolePermissions(c.Request.Context(), c.GetString("user_id"), c.Param("id"), req.Permissions)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReplaceUserRoles handles PUT /admin/users/:id/roles
func (h *AdminHandler) ReplaceUserRoles(c *gin.Context) {
	var req replaceRoleIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.adminService.ReplaceUserRoles(c.Request.Context(), c.GetString("user_id"), c.Param("id"), req.RoleIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReplaceUserGroups handles PUT /admin/users/:id/groups
func (h *AdminHandler) ReplaceUserGroups(c *gin.Context) {
	var req replaceGroupIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.adminService.ReplaceUserGroups(c.Request.Context(), c.GetString("user_id"), c.Param("id"), req.GroupIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReplaceUserPermissions handles PUT /admin/users/:id/permissions
func (h *AdminHandler) ReplaceUserPermissions(c *gin.Context) {
	var req replaceGrantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.adminService.ReplaceUserPermissions(c.Request.Context(), c.GetString("user_id"), c.Param("id"), req.Permissions)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListGroups handles GET /admin/groups
func (h *AdminHandler) ListGroups(c *gin.Context) {
	groups, err := h.adminService.ListGroups(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// CreateGroup handles POST /admin/groups
func (h *AdminHandler) CreateGroup(c *gin.Context) {
	var req authz.CreateGroupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.adminService.CreateGroup(c.Request.Context(), c.GetString("user_id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

// DeleteGroup handles DELETE /admin/groups/:id
func (h *AdminHandler) DeleteGroup(c *gin.Context) {
	if err := h.adminService.DeleteGroup(c.Request.Context(), c.GetString("user_id"), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "group deleted"})
}

// ReplaceGroupMembers handles PUT /admin/groups/:id/members
func (h *AdminHandler) ReplaceGroupMembers(c *gin.Context) {
	var req replaceUserIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.adminService.ReplaceGroupMembers(c.Request.Context(), c.GetString("user_id"), c.Param("id"), req.UserIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReplaceGroupRoles handles PUT /admin/groups/:id/roles
func (h *AdminHandler) ReplaceGroupRoles(c *gin.Context) {
	var req replaceRoleIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.adminService.ReplaceGroupRoles(c.Request.Context(), c.GetString("user_id"), c.Param("id"), req.RoleIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReplaceGroupPermissions handles PUT /admin/groups/:id/permissions
func (h *AdminHandler) ReplaceGroupPermissions(c *gin.Context) {
	var req replaceGrantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.adminService.ReplaceGroupPermissions(c.Request.Context(), c.GetString("user_id"), c.Param("id"), req.Permissions)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
