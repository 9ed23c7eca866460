package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Caseflow/internal/domain"
)

// EventRepo — репозиторий append-only журнала событий.
type EventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepo создаёт новый EventRepo.
func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// Publish добавляет событие в журнал.
func (r *EventRepo) Publish(ctx context.Context, ev *domain.Event) error {
	metadataJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	query := `
		INSERT INTO events (id, type, request_id, metadata, processed, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`
	_, err = r.pool.Exec(ctx, query,
		ev.ID,
		ev.Type,
		ev.RequestID,
		metadataJSON,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListUnprocessed возвращает необработанные события без действующей
// аренды, старые первыми.
func (r *EventRepo) ListUnprocessed(ctx context.Context, limit int) ([]domain.Event, error) {
	query := selectEvent + `
		WHERE NOT processed
		  AND (lease_until IS NULL OR lease_until < now())
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// Claim арендует событие на время lease.
//
// Возвращает true ровно одному из конкурирующих циклов. Аренда снижает
// вероятность двойной обработки при перекрытии циклов, но потребители
// всё равно обязаны быть идемпотентными: после истечения аренды событие
// снова доступно.
func (r *EventRepo) Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (bool, error) {
	query := `
		UPDATE events
		SET lease_until = now() + $2
		WHERE id = $1
		  AND NOT processed
		  AND (lease_until IS NULL OR lease_until < now())
	`
	result, err := r.pool.Exec(ctx, query, id, lease)
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkProcessed помечает событие обработанным с исходом.
// Вызов идемпотентен: повтор для уже обработанного события — no-op.
func (r *EventRepo) MarkProcessed(ctx context.Context, id uuid.UUID, success bool, errMsg string) error {
	query := `
		UPDATE events
		SET processed = TRUE, processed_at = now(), success = $2, error = $3
		WHERE id = $1 AND NOT processed
	`
	_, err := r.pool.Exec(ctx, query, id, success, nullString(errMsg))
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// ListByRequestID возвращает все события одного request.
func (r *EventRepo) ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]domain.Event, error) {
	query := selectEvent + `
		WHERE request_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list events by request: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// --- Helpers ---

const selectEvent = `
	SELECT id, type, request_id, metadata, processed, processed_at,
	       success, error, lease_until, created_at
	FROM events
`

// scanEvent сканирует одну строку в Event.
func scanEvent(row pgx.Row) (*domain.Event, error) {
	var ev domain.Event
	var metadataJSON []byte
	var success *bool
	var evError *string

	err := row.Scan(
		&ev.ID,
		&ev.Type,
		&ev.RequestID,
		&metadataJSON,
		&ev.Processed,
		&ev.ProcessedAt,
		&success,
		&evError,
		&ev.LeaseUntil,
		&ev.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal event metadata: %w", err)
		}
	}
	if success != nil {
		ev.Success = *success
	}
	if evError != nil {
		ev.Error = *evError
	}
	return &ev, nil
}
