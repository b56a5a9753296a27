package utils

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Ошибки валидации
var (
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrInvalidSide       = errors.New("invalid side")
	ErrNotFinite         = errors.New("value must be a finite number")
)

// символ: 2-30 знаков, буквы/цифры и разделители - _ /
var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_/\-]{1,29}$`)

// ValidateSymbol проверяет формат символа (BTCUSDT, btc-usdt, BTC/USDT)
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// IsValidSymbol - булева форма ValidateSymbol
func IsValidSymbol(symbol string) bool {
	return ValidateSymbol(symbol) == nil
}

// NormalizeSymbol приводит символ к виду биржи: верхний регистр без разделителей
func NormalizeSymbol(symbol string) string {
	replacer := strings.NewReplacer("-", "", "_", "", "/", "")
	return strings.ToUpper(replacer.Replace(strings.TrimSpace(symbol)))
}

// ValidatePercentage проверяет процент в диапазоне [0, 100]
func ValidatePercentage(pct float64) error {
	if err := validateFinite(pct); err != nil {
		return err
	}
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w, got %v", ErrInvalidPercentage, pct)
	}
	return nil
}

// ValidateQuantity - объём строго больше нуля
func ValidateQuantity(qty float64) error {
	if err := validateFinite(qty); err != nil {
		return err
	}
	if qty <= 0 {
		return fmt.Errorf("%w, got %v", ErrInvalidQuantity, qty)
	}
	return nil
}

// ValidatePrice - цена строго больше нуля
func ValidatePrice(px float64) error {
	if err := validateFinite(px); err != nil {
		return err
	}
	if px <= 0 {
		return fmt.Errorf("%w, got %v", ErrInvalidPrice, px)
	}
	return nil
}

// ValidateSide проверяет, что сторона входит в allowed (без учёта регистра)
func ValidateSide(side string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(side, a) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q, expected one of %s", ErrInvalidSide, side, strings.Join(allowed, ", "))
}

func validateFinite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrNotFinite
	}
	return nil
}

// ValidationError - ошибка одного поля
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors собирает ошибки нескольких полей запроса
type ValidationErrors []ValidationError

// Add добавляет ошибку поля
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// AddError добавляет ошибку, если err != nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

// HasErrors - есть ли хотя бы одна ошибка
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Err возвращает nil, если ошибок нет (чтобы не получить non-nil error с пустым срезом)
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
