package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"perpguard/internal/models"
)

// Ошибки репозитория сверок
var (
	ErrReportNotFound = errors.New("reconciliation report not found")
)

// ReconciliationRepository - отчёты сверки и журнал корректировок позиций
type ReconciliationRepository struct {
	db *sql.DB
}

// NewReconciliationRepository создает новый экземпляр репозитория
func NewReconciliationRepository(db *sql.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// SaveReport сохраняет отчёт; результаты по позициям хранятся одним JSONB
func (r *ReconciliationRepository) SaveReport(ctx context.Context, report *models.ReconciliationReport) error {
	query := `
		INSERT INTO reconciliation_reports
			(id, timestamp, total_positions, matched, discrepancies, adjustments, applied, apply_errors, results)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	errorsJSON, err := marshalJSON(report.ApplyErrors, len(report.ApplyErrors) == 0)
	if err != nil {
		return err
	}
	resultsJSON, err := marshalJSON(report.Results, false)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query,
		report.ID,
		report.Timestamp,
		report.TotalPositions,
		report.Matched,
		report.Discrepancies,
		report.Adjustments,
		report.Applied,
		errorsJSON,
		resultsJSON,
	)
	return err
}

// GetReport возвращает отчёт по ID
func (r *ReconciliationRepository) GetReport(ctx context.Context, id string) (*models.ReconciliationReport, error) {
	query := `
		SELECT id, timestamp, total_positions, matched, discrepancies, adjustments, applied, apply_errors, results
		FROM reconciliation_reports
		WHERE id = $1`

	report, err := scanReport(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return report, nil
}

// GetRecentReports возвращает последние limit отчётов (новые первыми)
func (r *ReconciliationRepository) GetRecentReports(ctx context.Context, limit int) ([]*models.ReconciliationReport, error) {
	query := `
		SELECT id, timestamp, total_positions, matched, discrepancies, adjustments, applied, apply_errors, results
		FROM reconciliation_reports
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]*models.ReconciliationReport, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return reports, nil
}

// DeleteReportsOlderThan удаляет отчёты старше cutoff
func (r *ReconciliationRepository) DeleteReportsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reconciliation_reports WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SaveAdjustment записывает применённую корректировку и заполняет её ID
func (r *ReconciliationRepository) SaveAdjustment(ctx context.Context, rec *models.AdjustmentRecord) error {
	query := `
		INSERT INTO position_adjustments (symbol, action, side, quantity, price, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	return r.db.QueryRowContext(ctx, query,
		rec.Symbol,
		rec.Action,
		rec.Side,
		rec.Quantity,
		rec.Price,
		rec.Reason,
		rec.CreatedAt,
	).Scan(&rec.ID)
}

// GetAdjustments возвращает корректировки по символу (пусто - по всем)
func (r *ReconciliationRepository) GetAdjustments(ctx context.Context, symbol string, limit int) ([]*models.AdjustmentRecord, error) {
	query := `
		SELECT id, symbol, action, side, quantity, price, reason, created_at
		FROM position_adjustments
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*models.AdjustmentRecord, 0)
	for rows.Next() {
		rec := &models.AdjustmentRecord{}
		if err := rows.Scan(
			&rec.ID,
			&rec.Symbol,
			&rec.Action,
			&rec.Side,
			&rec.Quantity,
			&rec.Price,
			&rec.Reason,
			&rec.CreatedAt,
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

// rowScanner - общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (*models.ReconciliationReport, error) {
	report := &models.ReconciliationReport{}
	var errorsJSON, resultsJSON []byte
	err := row.Scan(
		&report.ID,
		&report.Timestamp,
		&report.TotalPositions,
		&report.Matched,
		&report.Discrepancies,
		&report.Adjustments,
		&report.Applied,
		&errorsJSON,
		&resultsJSON,
	)
	if err != nil {
		return nil, err
	}

	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &report.ApplyErrors); err != nil {
			return nil, err
		}
	}
	report.Results = make([]*models.ReconciliationResult, 0)
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &report.Results); err != nil {
			return nil, err
		}
	}
	return report, nil
}
