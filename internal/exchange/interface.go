package exchange

import (
	"context"

	"perpguard/internal/models"
)

// Venue - источник истины о позициях на бирже.
// Только чтение: размещение ордеров вне зоны ответственности ядра.
type Venue interface {
	// GetName возвращает имя биржи
	GetName() string

	// GetOpenPositions получает открытые позиции (нулевые отфильтрованы)
	GetOpenPositions(ctx context.Context) ([]*models.VenuePosition, error)

	// Ping проверяет доступность API
	Ping(ctx context.Context) error
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}
