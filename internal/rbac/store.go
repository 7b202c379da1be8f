package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zedops/warden/internal/users"
)

var ErrAssignmentNotFound = errors.New("role assignment not found")

// ServerAgentLookup resolves the owning agent of a server so agent-scoped
// grants cascade. Implemented by the servers store.
type ServerAgentLookup interface {
	AgentOfServer(ctx context.Context, serverID string) (string, error)
}

type Service struct {
	pool    *pgxpool.Pool
	users   *users.Service
	servers ServerAgentLookup
}

func NewService(pool *pgxpool.Pool, userService *users.Service, servers ServerAgentLookup) *Service {
	return &Service{pool: pool, users: userService, servers: servers}
}

// Grant validates and persists a role assignment. Violating combinations are
// rejected before touching the database.
func (s *Service) Grant(ctx context.Context, a Assignment) (*Assignment, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO role_assignments (user_id, role, scope, resource_id)
		 VALUES ($1, $2, $3, NULLIF($4, '')::uuid)
		 RETURNING id, created_at`,
		a.UserID, a.Role, a.Scope, a.ResourceID,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("grant role: %w", err)
	}
	return &a, nil
}

func (s *Service) Revoke(ctx context.Context, assignmentID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_assignments WHERE id = $1`, assignmentID)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]Assignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, role, scope, COALESCE(resource_id::text, ''), created_at
		 FROM role_assignments WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var result []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.Role, &a.Scope, &a.ResourceID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// EffectivePermission resolves the capability set of a user for one resource.
func (s *Service) EffectivePermission(ctx context.Context, userID string, resourceType ResourceType, resourceID string) (Permission, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Permission{}, err
	}
	if user.Role == users.RoleAdmin {
		return Full(), nil
	}

	assignments, err := s.ListByUser(ctx, userID)
	if err != nil {
		return Permission{}, err
	}

	res := Resource{Type: resourceType, ID: resourceID}
	if resourceType == ResourceServer && s.servers != nil {
		agentID, err := s.servers.AgentOfServer(ctx, resourceID)
		if err == nil {
			res.AgentID = agentID
		}
	}

	return Evaluate(user.Role, assignments, res), nil
}
