package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"perpguard/internal/models"
)

// NotificationRepository - журнал алертов в таблице notifications
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create сохраняет уведомление и заполняет его ID
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (timestamp, type, severity, source, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	metaJSON, err := marshalJSON(n.Meta, len(n.Meta) == 0)
	if err != nil {
		return err
	}

	return r.db.QueryRowContext(ctx, query,
		n.Timestamp,
		n.Type,
		n.Severity,
		n.Source,
		n.Message,
		metaJSON,
	).Scan(&n.ID)
}

// GetRecent возвращает последние limit уведомлений (новые первыми)
func (r *NotificationRepository) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, source, message, meta
		FROM notifications
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// GetByTypes возвращает последние уведомления указанных типов
func (r *NotificationRepository) GetByTypes(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	if len(types) == 0 {
		return r.GetRecent(ctx, limit)
	}

	query := `
		SELECT id, timestamp, type, severity, source, message, meta
		FROM notifications
		WHERE type = ANY($1)
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(types), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// DeleteOlderThan удаляет уведомления старше cutoff, возвращает число удалённых
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ping проверяет соединение с БД (health check)
func (r *NotificationRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func scanNotifications(rows *sql.Rows) ([]*models.Notification, error) {
	notifications := make([]*models.Notification, 0)
	for rows.Next() {
		n := &models.Notification{}
		var source sql.NullString
		var metaJSON []byte
		if err := rows.Scan(&n.ID, &n.Timestamp, &n.Type, &n.Severity, &source, &n.Message, &metaJSON); err != nil {
			return nil, err
		}
		n.Source = source.String
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &n.Meta); err != nil {
				return nil, err
			}
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}
