package repository

import (
	"context"
	"database/sql"
	"time"

	"perpguard/internal/models"
)

// OverfillRepository - аудит превышений объёма ордеров
type OverfillRepository struct {
	db *sql.DB
}

// NewOverfillRepository создает новый экземпляр репозитория
func NewOverfillRepository(db *sql.DB) *OverfillRepository {
	return &OverfillRepository{db: db}
}

// Create сохраняет запись overfill; повтор той же записи игнорируется
func (r *OverfillRepository) Create(ctx context.Context, rec *models.OverfillRecord) error {
	query := `
		INSERT INTO overfills (id, order_id, overfill_qty, expected_qty, received_qty, handled, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.OrderID,
		rec.OverfillQty,
		rec.ExpectedQty,
		rec.ReceivedQty,
		rec.Handled,
		rec.Timestamp,
	)
	return err
}

// GetRecent возвращает последние limit записей (новые первыми)
func (r *OverfillRepository) GetRecent(ctx context.Context, limit int) ([]*models.OverfillRecord, error) {
	query := `
		SELECT id, order_id, overfill_qty, expected_qty, received_qty, handled, timestamp
		FROM overfills
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOverfills(rows)
}

// GetByOrderID возвращает записи по ордеру в хронологическом порядке
func (r *OverfillRepository) GetByOrderID(ctx context.Context, orderID string) ([]*models.OverfillRecord, error) {
	query := `
		SELECT id, order_id, overfill_qty, expected_qty, received_qty, handled, timestamp
		FROM overfills
		WHERE order_id = $1
		ORDER BY timestamp ASC`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOverfills(rows)
}

// CountSince - число overfill начиная с момента since
func (r *OverfillRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM overfills WHERE timestamp >= $1`, since).Scan(&count)
	return count, err
}

func scanOverfills(rows *sql.Rows) ([]*models.OverfillRecord, error) {
	records := make([]*models.OverfillRecord, 0)
	for rows.Next() {
		rec := &models.OverfillRecord{}
		if err := rows.Scan(
			&rec.ID,
			&rec.OrderID,
			&rec.OverfillQty,
			&rec.ExpectedQty,
			&rec.ReceivedQty,
			&rec.Handled,
			&rec.Timestamp,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
