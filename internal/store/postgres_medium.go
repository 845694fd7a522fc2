package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresMedium は user_store_containers テーブルの1行にコンテナを保存する。
// テーブルは database.RunMigrations で作成する。
type PostgresMedium struct {
	db   *sql.DB
	name string
}

// NewPostgresMedium はPostgresMediumを生成する。dbの所有権は呼び出し側に残る。
func NewPostgresMedium(db *sql.DB, name string) *PostgresMedium {
	return &PostgresMedium{db: db, name: name}
}

// Load はコンテナを取得する。
func (m *PostgresMedium) Load(ctx context.Context) ([]byte, error) {
	var payload string
	err := m.db.QueryRowContext(ctx,
		`SELECT payload FROM user_store_containers WHERE name = $1`,
		m.name,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContainerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select container %s: %w", m.name, err)
	}
	return []byte(payload), nil
}

// Save はコンテナをUPSERTする。
func (m *PostgresMedium) Save(ctx context.Context, data []byte) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO user_store_containers (name, payload, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`,
		m.name, string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert container %s: %w", m.name, err)
	}
	return nil
}

// Close は何もしない。
func (m *PostgresMedium) Close() error {
	return nil
}
