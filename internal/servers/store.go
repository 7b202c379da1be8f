package servers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrServerNotFound = errors.New("server not found")
	ErrNameConflict   = errors.New("server name already in use on this agent")
	ErrPortConflict   = errors.New("port already in use on this agent")
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const serverColumns = `id, agent_id, name, COALESCE(container_id, ''), config,
	COALESCE(image, ''), image_tag, game_port, udp_port, rcon_port,
	COALESCE(server_data_path, ''), status, data_exists, deleted_at, created_at, updated_at`

func scanServer(row pgx.Row) (*Server, error) {
	var s Server
	var config []byte
	err := row.Scan(&s.ID, &s.AgentID, &s.Name, &s.ContainerID, &config,
		&s.Image, &s.ImageTag, &s.GamePort, &s.UDPPort, &s.RCONPort,
		&s.ServerDataPath, &s.Status, &s.DataExists, &s.DeletedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServerNotFound
		}
		return nil, fmt.Errorf("scan server: %w", err)
	}
	if len(config) > 0 {
		_ = json.Unmarshal(config, &s.Config)
	}
	return &s, nil
}

// Create persists a new desired-state record with status creating. Name and
// port uniqueness per agent are enforced here; a conflicting request leaves
// no record behind.
func (st *Store) Create(ctx context.Context, req CreateRequest) (*Server, error) {
	if err := ValidateCreate(req); err != nil {
		return nil, err
	}

	var taken int
	err := st.pool.QueryRow(ctx,
		`SELECT count(*) FROM servers
		 WHERE agent_id = $1 AND deleted_at IS NULL
		   AND (game_port IN ($2, $3, $4) OR udp_port IN ($2, $3, $4) OR rcon_port IN ($2, $3, $4))`,
		req.AgentID, req.GamePort, req.UDPPort, req.RCONPort,
	).Scan(&taken)
	if err != nil {
		return nil, fmt.Errorf("check port conflicts: %w", err)
	}
	if taken > 0 {
		return nil, ErrPortConflict
	}

	config := req.Config
	if config == nil {
		config = map[string]string{}
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	imageTag := req.ImageTag
	if imageTag == "" {
		imageTag = "latest"
	}

	row := st.pool.QueryRow(ctx,
		`INSERT INTO servers (agent_id, name, config, image, image_tag, game_port, udp_port, rcon_port, server_data_path)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, NULLIF($9, ''))
		 RETURNING `+serverColumns,
		req.AgentID, req.Name, configJSON, req.Image, imageTag,
		req.GamePort, req.UDPPort, req.RCONPort, req.ServerDataPath)

	s, err := scanServer(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "servers_agent_name_unique" {
				return nil, ErrNameConflict
			}
			return nil, ErrPortConflict
		}
		return nil, fmt.Errorf("create server: %w", err)
	}
	return s, nil
}

// AgentOfServer resolves the owning agent id for permission cascading.
func (st *Store) AgentOfServer(ctx context.Context, serverID string) (string, error) {
	var agentID string
	err := st.pool.QueryRow(ctx, `SELECT agent_id FROM servers WHERE id = $1`, serverID).Scan(&agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrServerNotFound
		}
		return "", fmt.Errorf("resolve server agent: %w", err)
	}
	return agentID, nil
}

func (st *Store) Get(ctx context.Context, id string) (*Server, error) {
	row := st.pool.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id)
	return scanServer(row)
}

func (st *Store) ListByAgent(ctx context.Context, agentID string) ([]Server, error) {
	return st.list(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE agent_id = $1 AND status <> 'deleted' ORDER BY name`,
		agentID)
}

func (st *Store) ListDeletedByAgent(ctx context.Context, agentID string) ([]Server, error) {
	return st.list(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE agent_id = $1 AND status = 'deleted' ORDER BY deleted_at DESC`,
		agentID)
}

func (st *Store) ListFailedByAgent(ctx context.Context, agentID string) ([]Server, error) {
	return st.list(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE agent_id = $1 AND status = 'failed' ORDER BY name`,
		agentID)
}

func (st *Store) list(ctx context.Context, query string, args ...any) ([]Server, error) {
	rows, err := st.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var result []Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// UpdateObserved rewrites the fields the reconciler computes from agent
// ground truth. Config fields are never touched here.
func (st *Store) UpdateObserved(ctx context.Context, id string, status Status, containerID string) error {
	tag, err := st.pool.Exec(ctx,
		`UPDATE servers SET status = $1, container_id = NULLIF($2, ''), updated_at = now() WHERE id = $3`,
		status, containerID, id)
	if err != nil {
		return fmt.Errorf("update observed state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServerNotFound
	}
	return nil
}

func (st *Store) UpdateStatus(ctx context.Context, id string, status Status) error {
	tag, err := st.pool.Exec(ctx,
		`UPDATE servers SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServerNotFound
	}
	return nil
}

type ConfigUpdate struct {
	Config         map[string]string `json:"config,omitempty"`
	ImageTag       string            `json:"image_tag,omitempty"`
	ServerDataPath *string           `json:"server_data_path,omitempty"`
}

// UpdateConfig applies a config PATCH and reports which restart-relevant
// fields changed.
type ConfigChange struct {
	PendingRestart  bool `json:"pendingRestart"`
	DataPathChanged bool `json:"dataPathChanged"`
	ImageTagChanged bool `json:"imageTagChanged"`
}

func (st *Store) UpdateConfig(ctx context.Context, id string, upd ConfigUpdate) (*Server, ConfigChange, error) {
	current, err := st.Get(ctx, id)
	if err != nil {
		return nil, ConfigChange{}, err
	}

	var change ConfigChange
	newConfig := current.Config
	if upd.Config != nil {
		newConfig = upd.Config
		change.PendingRestart = !equalConfig(current.Config, upd.Config)
	}
	newTag := current.ImageTag
	if upd.ImageTag != "" && upd.ImageTag != current.ImageTag {
		newTag = upd.ImageTag
		change.ImageTagChanged = true
		change.PendingRestart = true
	}
	newPath := current.ServerDataPath
	if upd.ServerDataPath != nil && *upd.ServerDataPath != current.ServerDataPath {
		newPath = *upd.ServerDataPath
		change.DataPathChanged = true
		change.PendingRestart = true
	}

	configJSON, err := json.Marshal(newConfig)
	if err != nil {
		return nil, ConfigChange{}, fmt.Errorf("marshal config: %w", err)
	}

	row := st.pool.QueryRow(ctx,
		`UPDATE servers SET config = $1, image_tag = $2, server_data_path = NULLIF($3, ''), updated_at = now()
		 WHERE id = $4 RETURNING `+serverColumns,
		configJSON, newTag, newPath, id)
	s, err := scanServer(row)
	if err != nil {
		return nil, ConfigChange{}, err
	}
	return s, change, nil
}

func equalConfig(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// SoftDelete marks the record deleted and stamps deleted_at. The row survives
// until an explicit purge.
func (st *Store) SoftDelete(ctx context.Context, id string) error {
	tag, err := st.pool.Exec(ctx,
		`UPDATE servers SET status = 'deleted', deleted_at = now(), container_id = NULL, updated_at = now()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("soft delete server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServerNotFound
	}
	return nil
}

// Restore clears deleted_at; the container is still absent so the record
// lands on missing until a start recreates it.
func (st *Store) Restore(ctx context.Context, id string) (*Server, error) {
	row := st.pool.QueryRow(ctx,
		`UPDATE servers SET status = 'missing', deleted_at = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'deleted' RETURNING `+serverColumns, id)
	return scanServer(row)
}

// Purge hard-removes the record. Irreversible.
func (st *Store) Purge(ctx context.Context, id string) error {
	tag, err := st.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("purge server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServerNotFound
	}
	return nil
}

func (st *Store) SetDataExists(ctx context.Context, id string, exists bool) error {
	_, err := st.pool.Exec(ctx,
		`UPDATE servers SET data_exists = $1, updated_at = now() WHERE id = $2`, exists, id)
	if err != nil {
		return fmt.Errorf("set data_exists: %w", err)
	}
	return nil
}

// Backups

func (st *Store) CreateBackup(ctx context.Context, b Backup) error {
	_, err := st.pool.Exec(ctx,
		`INSERT INTO backups (id, server_id, server_name, size_bytes, archive_path)
		 VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.ServerID, b.ServerName, b.SizeBytes, b.ArchivePath)
	if err != nil {
		return fmt.Errorf("record backup: %w", err)
	}
	return nil
}

func (st *Store) SetBackupSize(ctx context.Context, backupID string, sizeBytes int64) error {
	_, err := st.pool.Exec(ctx,
		`UPDATE backups SET size_bytes = $1 WHERE id = $2`, sizeBytes, backupID)
	if err != nil {
		return fmt.Errorf("update backup size: %w", err)
	}
	return nil
}

// ListBackups enumerates a server's backups independent of live container
// state, so restore works while the server is missing.
func (st *Store) ListBackups(ctx context.Context, serverID string) ([]Backup, error) {
	rows, err := st.pool.Query(ctx,
		`SELECT id, server_id, server_name, size_bytes, archive_path, created_at
		 FROM backups WHERE server_id = $1 ORDER BY created_at DESC`, serverID)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var result []Backup
	for rows.Next() {
		var b Backup
		if err := rows.Scan(&b.ID, &b.ServerID, &b.ServerName, &b.SizeBytes, &b.ArchivePath, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (st *Store) GetBackup(ctx context.Context, backupID string) (*Backup, error) {
	var b Backup
	err := st.pool.QueryRow(ctx,
		`SELECT id, server_id, server_name, size_bytes, archive_path, created_at
		 FROM backups WHERE id = $1`, backupID,
	).Scan(&b.ID, &b.ServerID, &b.ServerName, &b.SizeBytes, &b.ArchivePath, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("backup %s: %w", backupID, ErrServerNotFound)
		}
		return nil, fmt.Errorf("get backup: %w", err)
	}
	return &b, nil
}
