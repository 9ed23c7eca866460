package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType — тип доменного события в журнале.
type EventType string

const (
	// EventRequestCreated — создан новый request; триггер диспетчеризации.
	EventRequestCreated EventType = "REQUEST_CREATED"

	// EventItemFound — по позиции найдены и сохранены документы.
	EventItemFound EventType = "ITEM_FOUND"

	// EventItemNotFound — позиция обработана, документов нет.
	EventItemNotFound EventType = "ITEM_NOT_FOUND"

	// EventItemFailed — позиция завершилась ошибкой после всех retry.
	EventItemFailed EventType = "ITEM_FAILED"

	// EventRequestCompleted — request финализирован.
	EventRequestCompleted EventType = "REQUEST_COMPLETED"
)

// Event — неизменяемый факт в append-only журнале событий.
//
// Доставка at-least-once: событие может быть выбрано повторно, пока не
// помечено обработанным, поэтому все потребители обязаны быть
// идемпотентными. Lease (краткоживущая аренда) снижает вероятность
// параллельной обработки одного события двумя циклами, но не исключает её.
type Event struct {
	// ID — уникальный идентификатор события.
	ID uuid.UUID `json:"id"`

	// Type — тип события.
	Type EventType `json:"type"`

	// RequestID — request, к которому относится событие.
	RequestID uuid.UUID `json:"request_id"`

	// Metadata — произвольные данные события (portal, case_number и т.п.).
	Metadata map[string]any `json:"metadata,omitempty"`

	// Processed — событие обработано (успешно или нет).
	Processed bool `json:"processed"`

	// ProcessedAt — время пометки обработанным.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// Success — исход обработки (имеет смысл только при Processed).
	Success bool `json:"success"`

	// Error — текст ошибки обработки.
	Error string `json:"error,omitempty"`

	// LeaseUntil — до какого момента событие арендовано обработчиком.
	LeaseUntil *time.Time `json:"lease_until,omitempty"`

	// CreatedAt — время публикации.
	CreatedAt time.Time `json:"created_at"`
}

// IsLeased возвращает true, если аренда события ещё действует.
func (e *Event) IsLeased(now time.Time) bool {
	return e.LeaseUntil != nil && e.LeaseUntil.After(now)
}
