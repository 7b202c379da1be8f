package agents

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	enrollKeyPrefix = "ek_"
	agentKeyPrefix  = "ak_"
	keyLength       = 32
)

var (
	ErrKeyNotFound  = errors.New("enroll key not found")
	ErrKeyExpired   = errors.New("enroll key expired")
	ErrKeyExhausted = errors.New("enroll key exhausted")
)

// GenerateKey produces a random credential with the given prefix.
func GenerateKey(prefix string) (string, error) {
	bytes := make([]byte, keyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(bytes), nil
}

// HashKey computes the SHA-256 hex digest stored in place of the key.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash)
}

// CreateEnrollKey generates a one-time install key for a named agent and
// creates the pending placeholder shown in the UI until the agent connects.
// The plaintext key is returned once and never stored.
func (s *Service) CreateEnrollKey(ctx context.Context, userID, agentName string, expiresIn time.Duration) (*EnrollKey, string, error) {
	key, err := GenerateKey(enrollKeyPrefix)
	if err != nil {
		return nil, "", err
	}

	var ek EnrollKey
	err = s.pool.QueryRow(ctx,
		`INSERT INTO agent_enroll_keys (key_hash, created_by, agent_name, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, key_hash, created_by, agent_name, status, max_uses, used_count, expires_at, created_at`,
		HashKey(key), userID, agentName, time.Now().Add(expiresIn),
	).Scan(&ek.ID, &ek.KeyHash, &ek.CreatedBy, &ek.AgentName, &ek.Status,
		&ek.MaxUses, &ek.UsedCount, &ek.ExpiresAt, &ek.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("store enroll key: %w", err)
	}

	slog.Info("Enroll key created", "key_id", ek.ID, "agent_name", agentName, "user_id", userID)
	return &ek, key, nil
}

// Redeem exchanges an enroll key for an agent identity. The usage increment
// is guarded by the WHERE clause so concurrent redemptions cannot exceed
// max_uses; only one request wins the last use.
func (s *Service) Redeem(ctx context.Context, key string) (*EnrollResult, error) {
	keyHash := HashKey(key)

	var keyID, agentName string
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, agent_name, expires_at FROM agent_enroll_keys
		 WHERE key_hash = $1 AND status = 'active'`, keyHash,
	).Scan(&keyID, &agentName, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.Warn("Enrollment attempt with unknown key")
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("lookup enroll key: %w", err)
	}

	if time.Now().After(expiresAt) {
		slog.Warn("Enrollment attempt with expired key", "key_id", keyID)
		return nil, ErrKeyExpired
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_enroll_keys SET used_count = used_count + 1
		 WHERE id = $1 AND used_count < max_uses AND status = 'active'`, keyID)
	if err != nil {
		return nil, fmt.Errorf("increment key usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		slog.Warn("Enrollment attempt with exhausted key", "key_id", keyID)
		return nil, ErrKeyExhausted
	}

	agentKey, err := GenerateKey(agentKeyPrefix)
	if err != nil {
		return nil, err
	}

	var agentID string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO agents (name, status, key_hash)
		 VALUES ($1, 'pending', $2)
		 ON CONFLICT (name) DO UPDATE SET key_hash = EXCLUDED.key_hash
		 RETURNING id`,
		agentName, HashKey(agentKey),
	).Scan(&agentID)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	slog.Info("Agent enrolled", "agent_id", agentID, "agent_name", agentName, "key_id", keyID)
	return &EnrollResult{AgentID: agentID, AgentKey: agentKey}, nil
}

func (s *Service) ListEnrollKeys(ctx context.Context, userID string) ([]EnrollKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, key_hash, created_by, agent_name, status, max_uses, used_count, expires_at, created_at
		 FROM agent_enroll_keys WHERE created_by = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list enroll keys: %w", err)
	}
	defer rows.Close()

	var result []EnrollKey
	for rows.Next() {
		var ek EnrollKey
		if err := rows.Scan(&ek.ID, &ek.KeyHash, &ek.CreatedBy, &ek.AgentName, &ek.Status,
			&ek.MaxUses, &ek.UsedCount, &ek.ExpiresAt, &ek.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan enroll key: %w", err)
		}
		result = append(result, ek)
	}
	return result, rows.Err()
}

func (s *Service) RevokeEnrollKey(ctx context.Context, keyID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_enroll_keys SET status = 'revoked' WHERE id = $1 AND status = 'active'`, keyID)
	if err != nil {
		return fmt.Errorf("revoke enroll key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}
