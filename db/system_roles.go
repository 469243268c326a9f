package db

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/phonginreallife/accessctl/authz"
)

// SystemRole describes a role created by the migrate command.
type SystemRole struct {
	Slug        string
	Name        string
	Description string
	Grants      []authz.PermissionGrant
}

// SystemRoles returns the roles every installation starts with.
// The admin role needs no permission rows; the engine grants it everything by slug.
func SystemRoles(adminSlug string) []SystemRole {
	if adminSlug == "" {
		adminSlug = authz.DefaultAdminRoleSlug
	}

	auditAll := make([]authz.PermissionGrant, 0, len(authz.AllResourceTypes()))
	for _, rt := range authz.AllResourceTypes() {
		auditAll = append(auditAll, authz.PermissionGrant{ResourceType: rt, Actions: authz.NewActionSet(authz.ActionRead, authz.ActionExport)})
	}

	return []SystemRole{
		{
			Slug:        adminSlug,
			Name:        "Security Administrator",
			Description: "Full access to every resource type",
		},
		{
			Slug:        "auditor",
			Name:        "Auditor",
			Description: "Read and export access to every resource type",
			Grants:      auditAll,
		},
	}
}

// SeedSystemRoles creates missing system roles and optionally assigns the
// admin role to adminUserID. Existing roles are left untouched.
func SeedSystemRoles(ctx context.Context, roles authz.RoleStore, adminSlug, adminUserID string) error {
	if adminSlug == "" {
		adminSlug = authz.DefaultAdminRoleSlug
	}

	existing, err := roles.ListRoles(ctx)
	if err != nil {
		return err
	}
	bySlug := make(map[string]string, len(existing))
	for _, r := range existing {
		bySlug[r.Slug] = r.ID
	}

	for _, sr := range SystemRoles(adminSlug) {
		if _, ok := bySlug[sr.Slug]; ok {
			continue
		}
		role := &authz.Role{Slug: sr.Slug, Name: sr.Name, Description: sr.Description, IsSystem: true}
		if err := roles.CreateRole(ctx, role); err != nil {
			if errors.Is(err, authz.ErrAlreadyExists) {
				// Created concurrently by another seed run
				id, lookupErr := roleIDBySlug(ctx, roles, sr.Slug)
				if lookupErr != nil {
					return lookupErr
				}
				bySlug[sr.Slug] = id
				continue
			}
			return fmt.Errorf("failed to seed role %s: %w", sr.Slug, err)
		}
		if len(sr.Grants) > 0 {
			if err := roles.ReplaceRolePermissions(ctx, role.ID, sr.Grants); err != nil {
				return fmt.Errorf("failed to seed permissions for %s: %w", sr.Slug, err)
			}
		}
		bySlug[sr.Slug] = role.ID
		log.Printf("Seeded system role %s", sr.Slug)
	}

	if adminUserID == "" {
		return nil
	}

	current, err := roles.ListUserRoles(ctx, adminUserID)
	if err != nil {
		return err
	}
	roleIDs := make([]string, 0, len(current)+1)
	for _, r := range current {
		if r.Slug == adminSlug {
			return nil
		}
		roleIDs = append(roleIDs, r.ID)
	}
	adminID := bySlug[adminSlug]
	if adminID == "" {
		return fmt.Errorf("failed to assign admin role: role %s not found", adminSlug)
	}
	roleIDs = append(roleIDs, adminID)
	if err := roles.ReplaceUserRoles(ctx, adminUserID, roleIDs); err != nil {
		return fmt.Errorf("failed to assign admin role: %w", err)
	}
	log.Printf("Assigned %s to user %s", adminSlug, adminUserID)
	return nil
}

func roleIDBySlug(ctx context.Context, roles authz.RoleStore, slug string) (string, error) {
	all, err := roles.ListRoles(ctx)
	if err != nil {
		return "", err
	}
	for _, r := range all {
		if r.Slug == slug {
			return r.ID, nil
		}
	}
	return "", fmt.Errorf("%w: role %s", authz.ErrNotFound, slug)
}
