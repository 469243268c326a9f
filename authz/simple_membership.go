package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SimpleResourceAccessStore implements ResourceAccessStore using SQL
type SimpleResourceAccessStore struct {
	db *sql.DB
}

// NewSimpleResourceAccessStore creates a new SimpleResourceAccessStore
func NewSimpleResourceAccessStore(db *sql.DB) *SimpleResourceAccessStore {
	return &SimpleResourceAccessStore{db: db}
}

// Ensure SimpleResourceAccessStore implements ResourceAccessStore
var _ ResourceAccessStore = (*SimpleResourceAccessStore)(nil)

const resourceAccessColumns = `id, resource_type, resource_id, user_id, actions, COALESCE(granted_by_id, ''), created_at, updated_at`

// GetResourceAccess gets a specific ACL entry
func (s *SimpleResourceAccessStore) GetResourceAccess(ctx context.Context, resourceType ResourceType, resourceID, userID string) (*ResourceAccess, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+resourceAccessColumns+`
		FROM resource_access
		WHERE resource_type = $1 AND resource_id = $2 AND user_id = $3
	`, string(resourceType), resourceID, userID)

	access, err := scanResourceAccess(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get resource access: %w", err)
	}
	return access, nil
}

// ListUserResourceAccess returns a user's entries, optionally for one resource type
func (s *SimpleResourceAccessStore) ListUserResourceAccess(ctx context.Context, userID string, resourceType ResourceType) ([]ResourceAccess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resourceAccessColumns+`
		FROM resource_access
		WHERE user_id = $1 AND ($2 = '' OR resource_type = $2)
		ORDER BY resource_type, resource_id
	`, userID, string(resourceType))
	if err != nil {
		return nil, fmt.Errorf("failed to list user resource access: %w", err)
	}
	defer rows.Close()

	return scanResourceAccessRows(rows)
}

// ListUserResourceAccessByIDs returns a user's entries for the given instances
func (s *SimpleResourceAccessStore) ListUserResourceAccessByIDs(ctx context.Context, userID string, resourceType ResourceType, resourceIDs []string) ([]ResourceAccess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resourceAccessColumns+`
		FROM resource_access
		WHERE user_id = $1 AND resource_type = $2 AND resource_id = ANY($3)
	`, userID, string(resourceType), pq.Array(resourceIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list resource access: %w", err)
	}
	defer rows.Close()

	return scanResourceAccessRows(rows)
}

// ListResourceAccess returns every entry on one instance
func (s *SimpleResourceAccessStore) ListResourceAccess(ctx context.Context, resourceType ResourceType, resourceID string) ([]ResourceAccess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resourceAccessColumns+`
		FROM resource_access
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at
	`, string(resourceType), resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource access: %w", err)
	}
	defer rows.Close()

	return scanResourceAccessRows(rows)
}

// UpsertResourceAccess creates the entry or replaces actions and grantor.
// The unique key (resource_type, resource_id, user_id) makes concurrent grants
// to the same pair collapse into one row; the last write wins.
func (s *SimpleResourceAccessStore) UpsertResourceAccess(ctx context.Context, access *ResourceAccess) error {
	id := access.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO resource_access (id, resource_type, resource_id, user_id, actions, granted_by_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $7)
		ON CONFLICT (resource_type, resource_id, user_id)
		DO UPDATE SET actions = EXCLUDED.actions, granted_by_id = EXCLUDED.granted_by_id, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`, id, string(access.ResourceType), access.ResourceID, access.UserID, pq.Array(access.Actions.Strings()), access.GrantedByID, now,
	).Scan(&access.ID, &access.CreatedAt, &access.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert resource access: %w", err)
	}
	return nil
}

// UpdateResourceAccess replaces actions and grantor of an existing entry
func (s *SimpleResourceAccessStore) UpdateResourceAccess(ctx context.Context, access *ResourceAccess) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE resource_access
		SET actions = $1, granted_by_id = NULLIF($2, ''), updated_at = $3
		WHERE resource_type = $4 AND resource_id = $5 AND user_id = $6
		RETURNING id, created_at, updated_at
	`, pq.Array(access.Actions.Strings()), access.GrantedByID, time.Now(), string(access.ResourceType), access.ResourceID, access.UserID,
	).Scan(&access.ID, &access.CreatedAt, &access.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update resource access: %w", err)
	}
	return nil
}

// DeleteResourceAccess removes an entry
func (s *SimpleResourceAccessStore) DeleteResourceAccess(ctx context.Context, resourceType ResourceType, resourceID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM resource_access
		WHERE resource_type = $1 AND resource_id = $2 AND user_id = $3
	`, string(resourceType), resourceID, userID)

	if err != nil {
		return fmt.Errorf("failed to delete resource access: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanResourceAccess(row rowScanner) (*ResourceAccess, error) {
	var access ResourceAccess
	var rt string
	var actions pq.StringArray
	if err := row.Scan(&access.ID, &rt, &access.ResourceID, &access.UserID, &actions, &access.GrantedByID, &access.CreatedAt, &access.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if access.ResourceType, err = scanResourceType(rt); err != nil {
		return nil, err
	}
	if access.Actions, err = scanActionSet(actions); err != nil {
		return nil, err
	}
	return &access, nil
}

// Helper function to scan resource access rows
func scanResourceAccessRows(rows *sql.Rows) ([]ResourceAccess, error) {
	out := make([]ResourceAccess, 0)
	for rows.Next() {
		access, err := scanResourceAccess(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource access: %w", err)
		}
		out = append(out, *access)
	}
	return out, rows.Err()
}
