package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition — переход запрещен таблицей конечного автомата
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyProcessed — по заявке уже принято терминальное решение (конфликт)
	ErrAlreadyProcessed = errors.New("approval request already processed")
	// ErrNotFound — сущность не существует или не принадлежит вызывающему
	ErrNotFound = errors.New("entity not found")
	// ErrNoEligibleAgent — ни один агент не проходит по capabilities
	ErrNoEligibleAgent = errors.New("no eligible agent for task")
)

// ValidationError несет ПОЛНЫЙ список нарушенных правил.
// Мутация при этом не происходит — вызывающий получает причины синхронно.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

// NewValidationError — nil, если нарушений нет
func NewValidationError(violations []string) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// IsValidation помогает хендлерам маппить ошибку в 400
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
