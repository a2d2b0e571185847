// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/segmentio/ksuid"

	"github.com/platform-engineering-labs/portage/internal/store"
	"github.com/platform-engineering-labs/portage/pkg/model"
)

// SqliteConfig configures the SQLite-backed datastore. FilePath may be
// ":memory:" for throwaway stores.
type SqliteConfig struct {
	FilePath string
}

type SQLite struct {
	conn *sql.DB
}

func NewSQLite(ctx context.Context, cfg SqliteConfig) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", cfg.FilePath)
	if err != nil {
		slog.Error("Failed to connect to sqlite database", "error", err)
		return nil, err
	}

	// WAL lets readers proceed during writes.
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		slog.Error("Failed to enable WAL mode", "error", err)
		return nil, err
	}

	// Wait instead of failing immediately when the database is locked.
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=10000"); err != nil {
		slog.Error("Failed to set busy timeout", "error", err)
		return nil, err
	}

	// SQLite doesn't handle concurrent writes well - limit to a single
	// connection to avoid "database is locked" errors.
	conn.SetMaxOpenConns(1)

	if err := runMigrations(conn); err != nil {
		return nil, err
	}

	slog.Info("Started SQLite datastore", "filePath", cfg.FilePath)

	return &SQLite{conn: conn}, nil
}

func (d *SQLite) Close() error {
	return d.conn.Close()
}

func (d *SQLite) SaveResource(ctx context.Context, resource Resource) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	status := resource.Status
	if status == "" {
		status = StatusPending
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resources (id, key, target_type, spec, status, record_id, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			target_type = excluded.target_type,
			spec = excluded.spec,
			status = excluded.status,
			record_id = excluded.record_id,
			last_error = excluded.last_error`,
		ksuid.New().String(),
		resource.Key.String(),
		resource.Spec.TargetType,
		string(resource.Spec.Attributes),
		string(status),
		string(resource.RecordID),
		resource.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resource %s: %w", resource.Key, err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM resource_dependencies WHERE resource_key = ?",
		resource.Key.String(),
	); err != nil {
		return fmt.Errorf("failed to clear dependencies for %s: %w", resource.Key, err)
	}

	for _, dep := range resource.Dependencies {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO resource_dependencies (resource_key, depends_on_key) VALUES (?, ?)",
			resource.Key.String(), dep.String(),
		); err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", resource.Key, dep, err)
		}
	}

	return tx.Commit()
}

func (d *SQLite) Resource(ctx context.Context, key model.Key) (Resource, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT key, target_type, spec, status, record_id, last_error, created_at, materialized_at
		FROM resources WHERE key = ?`,
		key.String(),
	)

	resource, err := scanResource(row)
	if err == sql.ErrNoRows {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, fmt.Errorf("failed to load resource %s: %w", key, err)
	}

	deps, err := d.dependencies(ctx, []model.Key{key})
	if err != nil {
		return Resource{}, err
	}
	resource.Dependencies = deps[key]

	return resource, nil
}

func (d *SQLite) ListPending(ctx context.Context) ([]Resource, error) {
	return d.list(ctx, StatusPending)
}

func (d *SQLite) ListByStatus(ctx context.Context, status Status) ([]Resource, error) {
	return d.list(ctx, status)
}

func (d *SQLite) list(ctx context.Context, status Status) ([]Resource, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT key, target_type, spec, status, record_id, last_error, created_at, materialized_at
		FROM resources WHERE status = ?
		ORDER BY created_at, key`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s resources: %w", status, err)
	}
	defer rows.Close()

	var resources []Resource
	var keys []model.Key
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource row: %w", err)
		}
		resources = append(resources, resource)
		keys = append(keys, resource.Key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	deps, err := d.dependencies(ctx, keys)
	if err != nil {
		return nil, err
	}
	for i := range resources {
		resources[i].Dependencies = deps[resources[i].Key]
	}

	return resources, nil
}

func (d *SQLite) MarkMaterialized(ctx context.Context, key model.Key, id store.RecordID) error {
	result, err := d.conn.ExecContext(ctx, `
		UPDATE resources
		SET status = ?, record_id = ?, last_error = '', materialized_at = CURRENT_TIMESTAMP
		WHERE key = ?`,
		string(StatusMaterialized), string(id), key.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s materialized: %w", key, err)
	}
	return requireRow(result, key)
}

func (d *SQLite) MarkFailed(ctx context.Context, key model.Key, reason string) error {
	result, err := d.conn.ExecContext(ctx, `
		UPDATE resources SET status = ?, last_error = ? WHERE key = ?`,
		string(StatusFailed), reason, key.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s failed: %w", key, err)
	}
	return requireRow(result, key)
}

func (d *SQLite) dependencies(ctx context.Context, keys []model.Key) (map[model.Key][]model.Key, error) {
	out := make(map[model.Key][]model.Key, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(keys))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key.String()
	}

	rows, err := d.conn.QueryContext(ctx,
		"SELECT resource_key, depends_on_key FROM resource_dependencies WHERE resource_key IN ("+placeholders+") ORDER BY resource_key, depends_on_key",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rawOwner, rawDep string
		if err := rows.Scan(&rawOwner, &rawDep); err != nil {
			return nil, err
		}
		owner, err := model.ParseKey(rawOwner)
		if err != nil {
			return nil, err
		}
		dep, err := model.ParseKey(rawDep)
		if err != nil {
			return nil, err
		}
		out[owner] = append(out[owner], dep)
	}

	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanResource(row scannable) (Resource, error) {
	var rawKey, targetType, spec, status, recordID, lastError string
	var createdAt time.Time
	var materializedAt sql.NullTime

	if err := row.Scan(&rawKey, &targetType, &spec, &status, &recordID, &lastError, &createdAt, &materializedAt); err != nil {
		return Resource{}, err
	}

	key, err := model.ParseKey(rawKey)
	if err != nil {
		return Resource{}, err
	}

	resource := Resource{
		Key:       key,
		Spec:      model.Spec{TargetType: targetType, Attributes: []byte(spec)},
		Status:    Status(status),
		RecordID:  store.RecordID(recordID),
		LastError: lastError,
		CreatedAt: createdAt,
	}
	if materializedAt.Valid {
		resource.MaterializedAt = materializedAt.Time
	}

	return resource, nil
}

func requireRow(result sql.Result, key model.Key) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}
