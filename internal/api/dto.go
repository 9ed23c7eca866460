package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Caseflow/internal/domain"
)

// Request DTOs

// CreateRequestRequest — запрос на создание пакетной заявки.
type CreateRequestRequest struct {
	ClientID    string   `json:"client_id"`
	Portal      string   `json:"portal"`
	CaseNumbers []string `json:"case_numbers"`
}

// ValidationDetails — отклонённые значения из списка номеров процессов.
type ValidationDetails struct {
	Invalid    []string `json:"invalid,omitempty"`
	Duplicates []string `json:"duplicates,omitempty"`
}

// RequestResponse — ответ с request.
type RequestResponse struct {
	ID             uuid.UUID           `json:"id"`
	ClientID       string              `json:"client_id"`
	Portal         string              `json:"portal"`
	CaseNumbers    []string            `json:"case_numbers"`
	Status         string              `json:"status"`
	ItemsTotal     int                 `json:"items_total"`
	ItemsProcessed int                 `json:"items_processed"`
	ItemsSucceeded int                 `json:"items_succeeded"`
	ItemsFailed    int                 `json:"items_failed"`
	Results        []domain.ItemResult `json:"results,omitempty"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// RequestFromDomain конвертирует domain.Request в RequestResponse.
func RequestFromDomain(req domain.Request) RequestResponse {
	return RequestResponse{
		ID:             req.ID,
		ClientID:       req.ClientID,
		Portal:         string(req.Portal),
		CaseNumbers:    req.CaseNumbers,
		Status:         string(req.Status),
		ItemsTotal:     req.ItemsTotal,
		ItemsProcessed: req.ItemsProcessed,
		ItemsSucceeded: req.ItemsSucceeded,
		ItemsFailed:    req.ItemsFailed,
		Results:        req.Results,
		StartedAt:      req.StartedAt,
		CompletedAt:    req.CompletedAt,
		CreatedAt:      req.CreatedAt,
	}
}

// Task DTOs

// TaskResponse — ответ с task.
type TaskResponse struct {
	ID            uuid.UUID  `json:"id"`
	RequestID     uuid.UUID  `json:"request_id"`
	CaseNumber    string     `json:"case_number"`
	Portal        string     `json:"portal"`
	Status        string     `json:"status"`
	Attempt       int        `json:"attempt"`
	ArtifactCount int        `json:"artifact_count"`
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:            t.ID,
		RequestID:     t.RequestID,
		CaseNumber:    t.CaseNumber,
		Portal:        string(t.Portal),
		Status:        string(t.Status),
		Attempt:       t.Attempt,
		ArtifactCount: t.ArtifactCount,
		Error:         t.Error,
		StartedAt:     t.StartedAt,
		FinishedAt:    t.FinishedAt,
		CreatedAt:     t.CreatedAt,
	}
}

// Event DTOs

// EventResponse — ответ с событием журнала.
type EventResponse struct {
	ID          uuid.UUID      `json:"id"`
	Type        string         `json:"type"`
	RequestID   uuid.UUID      `json:"request_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Processed   bool           `json:"processed"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// EventFromDomain конвертирует domain.Event в EventResponse.
func EventFromDomain(ev domain.Event) EventResponse {
	return EventResponse{
		ID:          ev.ID,
		Type:        string(ev.Type),
		RequestID:   ev.RequestID,
		Metadata:    ev.Metadata,
		Processed:   ev.Processed,
		ProcessedAt: ev.ProcessedAt,
		Success:     ev.Success,
		Error:       ev.Error,
		CreatedAt:   ev.CreatedAt,
	}
}

// Artifact DTOs

// ArtifactResponse — ссылка на артефакт с временным URL.
type ArtifactResponse struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}
