package repository

import (
	"context"
	"database/sql"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"perpguard/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// schema - таблицы журнала алертов, сверок и overfill
var schema = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMP DEFAULT NOW(),
		type VARCHAR(50) NOT NULL,
		severity VARCHAR(10) DEFAULT 'info',
		source VARCHAR(50) DEFAULT '',
		message TEXT NOT NULL,
		meta JSONB DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_timestamp ON notifications (timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS reconciliation_reports (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		total_positions INT NOT NULL DEFAULT 0,
		matched INT NOT NULL DEFAULT 0,
		discrepancies INT NOT NULL DEFAULT 0,
		adjustments INT NOT NULL DEFAULT 0,
		applied INT NOT NULL DEFAULT 0,
		apply_errors JSONB DEFAULT '[]',
		results JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS position_adjustments (
		id SERIAL PRIMARY KEY,
		symbol VARCHAR(30) NOT NULL,
		action VARCHAR(30) NOT NULL,
		side VARCHAR(10) DEFAULT '',
		quantity DECIMAL(30, 12) NOT NULL DEFAULT 0,
		price DECIMAL(30, 12) NOT NULL DEFAULT 0,
		reason TEXT DEFAULT '',
		created_at TIMESTAMP DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS overfills (
		id UUID PRIMARY KEY,
		order_id VARCHAR(100) NOT NULL,
		overfill_qty DECIMAL(30, 12) NOT NULL,
		expected_qty DECIMAL(30, 12) NOT NULL,
		received_qty DECIMAL(30, 12) NOT NULL,
		handled VARCHAR(20) NOT NULL,
		timestamp TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_overfills_order_id ON overfills (order_id)`,
}

// Migrate создаёт недостающие таблицы и индексы
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// marshalJSON сериализует значение для JSONB колонки; пустое значение - NULL.
// Ошибка сериализации не исправится повтором, поэтому она Permanent.
func marshalJSON(v interface{}, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal jsonb: %w", err))
	}
	return data, nil
}
