package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrNotPending    = errors.New("agent is not a pending install")
)

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func (s *Service) GetByID(ctx context.Context, agentID string) (*Agent, error) {
	var a Agent
	var metadata []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, last_seen_at, metadata, created_at
		 FROM agents WHERE id = $1`, agentID,
	).Scan(&a.ID, &a.Name, &a.Status, &a.LastSeenAt, &metadata, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.Metadata = decodeMetadata(metadata)
	return &a, nil
}

func (s *Service) List(ctx context.Context) ([]Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, status, last_seen_at, metadata, created_at
		 FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var result []Agent
	for rows.Next() {
		var a Agent
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.Name, &a.Status, &a.LastSeenAt, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.Metadata = decodeMetadata(metadata)
		result = append(result, a)
	}
	return result, rows.Err()
}

// VerifyKey checks an agent's channel credential (issued at enrollment).
func (s *Service) VerifyKey(ctx context.Context, agentID, key string) error {
	var keyHash string
	err := s.pool.QueryRow(ctx, `SELECT key_hash FROM agents WHERE id = $1`, agentID).Scan(&keyHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAgentNotFound
		}
		return fmt.Errorf("verify agent key: %w", err)
	}
	if HashKey(key) != keyHash {
		return errors.New("agent key mismatch")
	}
	return nil
}

func (s *Service) MarkOnline(ctx context.Context, agentID string) error {
	return s.setStatus(ctx, agentID, StatusOnline)
}

func (s *Service) MarkOffline(ctx context.Context, agentID string) error {
	return s.setStatus(ctx, agentID, StatusOffline)
}

func (s *Service) setStatus(ctx context.Context, agentID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $1, last_seen_at = now() WHERE id = $2`,
		status, agentID)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAgentNotFound
	}
	slog.Info("Agent status updated", "agent_id", agentID, "status", status)
	return nil
}

func (s *Service) UpdateLastSeen(ctx context.Context, agentID string, t time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE agents SET last_seen_at = $1 WHERE id = $2`, t, agentID)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	return nil
}

// UpdateMetrics stores the latest agent-pushed metrics snapshot under
// metadata.metrics, preserving the rest of the metadata blob.
func (s *Service) UpdateMetrics(ctx context.Context, agentID string, metrics json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE agents SET metadata = jsonb_set(metadata, '{metrics}', $1::jsonb) WHERE id = $2`,
		metrics, agentID)
	if err != nil {
		return fmt.Errorf("update agent metrics: %w", err)
	}
	return nil
}

// CancelPending removes a pending-install placeholder. Agents that have ever
// connected are not deletable this way.
func (s *Service) CancelPending(ctx context.Context, agentID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM agents WHERE id = $1 AND status = 'pending'`, agentID)
	if err != nil {
		return fmt.Errorf("cancel pending agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, agentID); err != nil {
			return err
		}
		return ErrNotPending
	}
	slog.Info("Pending agent install cancelled", "agent_id", agentID)
	return nil
}

func (s *Service) LogConnect(ctx context.Context, agentID string, connectedAt time.Time) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agent_connection_logs (agent_id, connected_at)
		 VALUES ($1, $2) RETURNING id`,
		agentID, connectedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create connection log: %w", err)
	}
	return id, nil
}

func (s *Service) LogDisconnect(ctx context.Context, logID string, disconnectedAt time.Time, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE agent_connection_logs
		 SET disconnected_at = $1, disconnect_reason = $2
		 WHERE id = $3`,
		disconnectedAt, reason, logID)
	if err != nil {
		return fmt.Errorf("update connection log: %w", err)
	}
	return nil
}

func (s *Service) ConnectionHistory(ctx context.Context, agentID string, limit int) ([]ConnectionLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, connected_at, disconnected_at, COALESCE(disconnect_reason, '')
		 FROM agent_connection_logs
		 WHERE agent_id = $1 ORDER BY connected_at DESC LIMIT $2`,
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("get connection history: %w", err)
	}
	defer rows.Close()

	var result []ConnectionLog
	for rows.Next() {
		var l ConnectionLog
		if err := rows.Scan(&l.ID, &l.AgentID, &l.ConnectedAt, &l.DisconnectedAt, &l.DisconnectReason); err != nil {
			return nil, fmt.Errorf("scan connection log: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}
