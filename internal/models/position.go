package models

import "time"

// Направление позиции
const (
	PositionLong  = "LONG"
	PositionShort = "SHORT"
)

// LocalPosition - позиция, которую бот восстановил из собственных исполнений
type LocalPosition struct {
	Symbol        string       `json:"symbol"`
	Side          string       `json:"side"` // LONG, SHORT
	Quantity      float64      `json:"quantity"`
	Price         float64      `json:"price"`
	UnrealizedPnl float64      `json:"unrealized_pnl"`
	Fills         []*FillEvent `json:"fills,omitempty"`
}

// VenuePosition - позиция по данным биржи (источник истины)
type VenuePosition struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
}

// DiscrepancyType - вид расхождения
type DiscrepancyType string

const (
	DiscrepancyQuantity        DiscrepancyType = "QUANTITY"
	DiscrepancyPrice           DiscrepancyType = "PRICE"
	DiscrepancySide            DiscrepancyType = "SIDE"
	DiscrepancyMissingPosition DiscrepancyType = "MISSING_POSITION"
	DiscrepancyGhostPosition   DiscrepancyType = "GHOST_POSITION"
)

// Discrepancy создаётся только когда проверка допуска не прошла
type Discrepancy struct {
	Type        DiscrepancyType `json:"type"`
	LocalValue  interface{}     `json:"local_value"`
	VenueValue  interface{}     `json:"venue_value"`
	Difference  float64         `json:"difference"`
	PercentDiff float64         `json:"percent_diff"`
}

// AdjustmentAction - вид корректирующей команды
type AdjustmentAction string

const (
	ActionAddFill        AdjustmentAction = "ADD_FILL"
	ActionAdjustPosition AdjustmentAction = "ADJUST_POSITION"
	ActionSyncPosition   AdjustmentAction = "SYNC_POSITION"
	ActionClosePosition  AdjustmentAction = "CLOSE_POSITION"
)

// AdjustmentDetails - полезная нагрузка команды.
// Для ADD_FILL Side - сторона синтетического fill (BUY/SELL),
// для остальных действий - сторона позиции (LONG/SHORT).
type AdjustmentDetails struct {
	Side     string  `json:"side,omitempty"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Reason   string  `json:"reason,omitempty"`
}

// ReconciliationAdjustment - команда для внешнего исполнителя, а не выполненное действие
type ReconciliationAdjustment struct {
	Action  AdjustmentAction  `json:"action"`
	Symbol  string            `json:"symbol"`
	Details AdjustmentDetails `json:"details"`
}

// ReconciliationResult - результат сверки одной позиции
type ReconciliationResult struct {
	Symbol      string                    `json:"symbol"`
	Matched     bool                      `json:"matched"`
	Discrepancy *Discrepancy              `json:"discrepancy,omitempty"`
	Adjustment  *ReconciliationAdjustment `json:"adjustment,omitempty"`
	Local       *LocalPosition            `json:"local,omitempty"`
	Venue       *VenuePosition            `json:"venue,omitempty"`
}

// ReconciliationReport - итог одного прохода сверки
type ReconciliationReport struct {
	ID             string                  `json:"id"`
	Timestamp      time.Time               `json:"timestamp"`
	TotalPositions int                     `json:"total_positions"`
	Matched        int                     `json:"matched"`
	Discrepancies  int                     `json:"discrepancies"`
	Adjustments    int                     `json:"adjustments"`
	Applied        int                     `json:"applied"`
	ApplyErrors    []string                `json:"apply_errors,omitempty"`
	Results        []*ReconciliationResult `json:"results"`
}

// AdjustmentRecord - журнал корректирующих команд, применённых к локальным позициям
type AdjustmentRecord struct {
	ID        int              `json:"id" db:"id"`
	Symbol    string           `json:"symbol" db:"symbol"`
	Action    AdjustmentAction `json:"action" db:"action"`
	Side      string           `json:"side,omitempty" db:"side"`
	Quantity  float64          `json:"quantity" db:"quantity"`
	Price     float64          `json:"price" db:"price"`
	Reason    string           `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}
