package models

import "time"

// OrderState - локальное представление ордера, по которому приходят исполнения
type OrderState struct {
	OrderID       string      `json:"order_id" db:"order_id"`
	ClientOrderID string      `json:"client_order_id" db:"client_order_id"`
	VenueOrderID  string      `json:"venue_order_id,omitempty" db:"venue_order_id"`
	Symbol        string      `json:"symbol" db:"symbol"`
	Side          string      `json:"side" db:"side"` // BUY, SELL
	OrderQty      float64     `json:"order_qty" db:"order_qty"`
	FilledQty     float64     `json:"filled_qty" db:"filled_qty"`
	AvgPx         float64     `json:"avg_px" db:"avg_px"` // средневзвешенная цена исполнения
	Status        OrderStatus `json:"status" db:"status"`
	Timestamp     time.Time   `json:"timestamp" db:"timestamp"`
}

// RemainingQty возвращает неисполненный остаток (может быть отрицательным при overfill)
func (o *OrderState) RemainingQty() float64 {
	return o.OrderQty - o.FilledQty
}

// FillEvent - одно исполнение ордера. Неизменяемо после записи.
type FillEvent struct {
	FillID       string    `json:"fill_id" db:"fill_id"` // глобально уникален
	OrderID      string    `json:"order_id" db:"order_id"`
	VenueOrderID string    `json:"venue_order_id,omitempty" db:"venue_order_id"`
	Symbol       string    `json:"symbol" db:"symbol"`
	Side         string    `json:"side" db:"side"`
	FillQty      float64   `json:"fill_qty" db:"fill_qty"`
	FillPx       float64   `json:"fill_px" db:"fill_px"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// OverfillRecord - запись аудита о превышении объёма ордера
type OverfillRecord struct {
	ID          string         `json:"id" db:"id"`
	OrderID     string         `json:"order_id" db:"order_id"`
	OverfillQty float64        `json:"overfill_qty" db:"overfill_qty"`
	ExpectedQty float64        `json:"expected_qty" db:"expected_qty"` // остаток ордера на момент проверки
	ReceivedQty float64        `json:"received_qty" db:"received_qty"` // объём пришедшего fill
	Timestamp   time.Time      `json:"timestamp" db:"timestamp"`
	Handled     OverfillAction `json:"handled" db:"handled"`
}

// OrderStatus - статус ордера
type OrderStatus string

// Статусы ордера
const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusOpen     OrderStatus = "OPEN"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusRejected OrderStatus = "REJECTED"
)

// OverfillAction - как был обработан overfill
type OverfillAction string

const (
	OverfillAllowed  OverfillAction = "ALLOWED"
	OverfillAdjusted OverfillAction = "ADJUSTED"
	OverfillRejected OverfillAction = "REJECTED"
)

// Стороны ордера
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)
