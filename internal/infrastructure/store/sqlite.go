package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/occopus/infra-processor/internal/config"
	"github.com/occopus/infra-processor/internal/node"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
)

//go:embed schema.sql
var ddl string

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary creates) the database at the
// configured path and applies the schema.
func NewSQLiteStore(cfg config.SQLiteConfig) (*SQLiteStore, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RegisterStartedNode(ctx context.Context, infraID, name string, inst *node.Instance) error {
	doc, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO nodes (infra_id, node_id, name, document) VALUES (?, ?, ?, ?)`,
		infraID, inst.NodeID, name, string(doc))
	if err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetNode(ctx context.Context, infraID, nodeID string) (*node.Instance, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM nodes WHERE infra_id = ? AND node_id = ?`,
		infraID, nodeID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return decodeInstance(doc)
}

func (s *SQLiteStore) FindNodesByName(ctx context.Context, infraID, name string) ([]*node.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM nodes WHERE infra_id = ? AND name = ? ORDER BY created_at`,
		infraID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to find nodes: %w", err)
	}
	defer rows.Close()
	return scanInstances(rows)
}

func (s *SQLiteStore) ListNodes(ctx context.Context, infraID string) ([]*node.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM nodes WHERE infra_id = ? ORDER BY created_at`, infraID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()
	return scanInstances(rows)
}

func (s *SQLiteStore) RemoveNode(ctx context.Context, infraID, nodeID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM nodes WHERE infra_id = ? AND node_id = ?`, infraID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to remove node: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errs.ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM node_attributes WHERE node_id = ?`, nodeID)
	return err
}

func (s *SQLiteStore) DropInfrastructure(ctx context.Context, infraID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM node_attributes WHERE node_id IN (SELECT node_id FROM nodes WHERE infra_id = ?)`,
		infraID)
	if err != nil {
		return fmt.Errorf("failed to drop infrastructure attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM nodes WHERE infra_id = ?`, infraID)
	if err != nil {
		return fmt.Errorf("failed to drop infrastructure: %w", err)
	}
	return nil
}

func (s *SQLiteStore) NodeAttribute(ctx context.Context, nodeID, attribute string) (any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM node_attributes WHERE node_id = ? AND attribute = ?`,
		nodeID, attribute).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attribute: %w", err)
	}
	var val any
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return nil, fmt.Errorf("failed to decode attribute: %w", err)
	}
	return val, nil
}

func (s *SQLiteStore) SetNodeAttribute(ctx context.Context, nodeID, attribute string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode attribute: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO node_attributes (node_id, attribute, value) VALUES (?, ?, ?)`,
		nodeID, attribute, string(raw))
	return err
}

func (s *SQLiteStore) Definitions(ctx context.Context, nodeType string) ([]*node.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM definitions WHERE node_type = ? ORDER BY backend_id`, nodeType)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}
	defer rows.Close()

	var defs []*node.Definition
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var def node.Definition
		if err := json.Unmarshal([]byte(doc), &def); err != nil {
			return nil, fmt.Errorf("failed to decode definition: %w", err)
		}
		defs = append(defs, &def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, errs.ErrNotFound
	}
	return defs, nil
}

func (s *SQLiteStore) SaveDefinition(ctx context.Context, nodeType string, def *node.Definition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO definitions (node_type, backend_id, document) VALUES (?, ?, ?)`,
		nodeType, def.BackendID, string(doc))
	return err
}

func (s *SQLiteStore) DefaultContext(ctx context.Context, backendID string) (string, error) {
	var tmpl string
	err := s.db.QueryRowContext(ctx,
		`SELECT context_template FROM backend_contexts WHERE backend_id = ?`, backendID).Scan(&tmpl)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get default context: %w", err)
	}
	return tmpl, nil
}

func (s *SQLiteStore) SetDefaultContext(ctx context.Context, backendID, contextTemplate string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO backend_contexts (backend_id, context_template) VALUES (?, ?)`,
		backendID, contextTemplate)
	return err
}

func (s *SQLiteStore) AuthData(ctx context.Context, backendID string, userID int64) (map[string]string, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM auth_data WHERE backend_id = ? AND user_id = ?`,
		backendID, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auth data: %w", err)
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(doc), &data); err != nil {
		return nil, fmt.Errorf("failed to decode auth data: %w", err)
	}
	return data, nil
}

func (s *SQLiteStore) SaveAuthData(ctx context.Context, backendID string, userID int64, data map[string]string) error {
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode auth data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO auth_data (backend_id, user_id, document) VALUES (?, ?, ?)`,
		backendID, userID, string(doc))
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeInstance(doc string) (*node.Instance, error) {
	var inst node.Instance
	if err := json.Unmarshal([]byte(doc), &inst); err != nil {
		return nil, fmt.Errorf("failed to decode instance: %w", err)
	}
	return &inst, nil
}

func scanInstances(rows *sql.Rows) ([]*node.Instance, error) {
	var out []*node.Instance
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		inst, err := decodeInstance(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}
