package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Unjuno/FLM-sub001/internal/flmerr"
	"github.com/Unjuno/FLM-sub001/internal/ports"
)

var configMigrations = []string{
	`CREATE TABLE IF NOT EXISTS proxy_handles (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS engine_registry (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS health_logs (
		id TEXT PRIMARY KEY,
		engine_id TEXT NOT NULL,
		error_rate REAL NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_health_logs_engine ON health_logs(engine_id, created_at)`,
}

// ConfigRepo implements ports.ConfigRepo (config.db: proxy_handles,
// engine_registry, health_logs).
type ConfigRepo struct {
	db *DB
}

func NewConfigRepo(db *DB) (*ConfigRepo, error) {
	if !db.readOnly {
		if err := db.Migrate(configMigrations); err != nil {
			return nil, err
		}
	}
	return &ConfigRepo{db: db}, nil
}

func (r *ConfigRepo) ReadOnly() bool { return r.db.readOnly }

func (r *ConfigRepo) SaveHandle(ctx context.Context, h ports.ProxyHandle) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal handle: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO proxy_handles(id, data, updated_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		h.ID, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (r *ConfigRepo) GetHandle(ctx context.Context, id string) (*ports.ProxyHandle, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM proxy_handles WHERE id=?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var h ports.ProxyHandle
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *ConfigRepo) ListHandles(ctx context.Context) ([]ports.ProxyHandle, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM proxy_handles ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ports.ProxyHandle
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var h ports.ProxyHandle
		if err := json.Unmarshal([]byte(data), &h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *ConfigRepo) DeleteHandle(ctx context.Context, id string) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM proxy_handles WHERE id=?`, id)
	return err
}

func (r *ConfigRepo) SaveEngineState(ctx context.Context, e ports.EngineState) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO engine_registry(id, data, updated_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		e.ID, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (r *ConfigRepo) ListEngineStates(ctx context.Context) ([]ports.EngineState, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM engine_registry ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ports.EngineState
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e ports.EngineState
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ConfigRepo) AppendHealthLog(ctx context.Context, row ports.HealthLogRow) error {
	if r.db.readOnly {
		return readOnlyErr()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO health_logs(id, engine_id, error_rate, created_at) VALUES(?,?,?,?)`,
		row.ID, row.EngineID, row.ErrorRate, row.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *ConfigRepo) ListHealthLogs(ctx context.Context, engineID string, limit int) ([]ports.HealthLogRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if engineID == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, engine_id, error_rate, created_at FROM health_logs
			 ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, engine_id, error_rate, created_at FROM health_logs
			 WHERE engine_id=? ORDER BY created_at DESC LIMIT ?`, engineID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ports.HealthLogRow
	for rows.Next() {
		var row ports.HealthLogRow
		var created string
		if err := rows.Scan(&row.ID, &row.EngineID, &row.ErrorRate, &created); err != nil {
			return nil, err
		}
		row.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *ConfigRepo) Close() error { return r.db.Close() }

func readOnlyErr() error {
	return flmerr.Repo(flmerr.RepoReadOnly, fmt.Errorf("repository is in read-only mode"))
}
