package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Caseflow/internal/domain"
)

// RequestRepo — репозиторий для работы с requests.
//
// Все мутации — одиночные условные UPDATE: конкурирующие writer'ы
// сериализуются на уровне строки, транзакции и блокировки не нужны.
type RequestRepo struct {
	pool *pgxpool.Pool
}

// NewRequestRepo создаёт новый RequestRepo.
func NewRequestRepo(pool *pgxpool.Pool) *RequestRepo {
	return &RequestRepo{pool: pool}
}

// Create создаёт новый request.
func (r *RequestRepo) Create(ctx context.Context, req *domain.Request) error {
	caseNumbersJSON, err := json.Marshal(req.CaseNumbers)
	if err != nil {
		return fmt.Errorf("marshal case numbers: %w", err)
	}

	query := `
		INSERT INTO requests (id, client_id, portal, case_numbers, status, items_total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		req.ID,
		req.ClientID,
		req.Portal,
		caseNumbersJSON,
		req.Status,
		req.ItemsTotal,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("%w: request %s", ErrAlreadyExists, req.ID)
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// GetByID возвращает request по ID.
func (r *RequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	query := selectRequest + ` WHERE id = $1`
	return scanRequest(r.pool.QueryRow(ctx, query, id))
}

// List возвращает список requests с фильтрацией.
func (r *RequestRepo) List(ctx context.Context, filter RequestFilter) ([]domain.Request, error) {
	query := selectRequest + `
		WHERE ($1::text IS NULL OR client_id = $1)
		  AND ($2::text IS NULL OR status = $2::request_status)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.ClientID),
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// ListStalled возвращает RUNNING requests, у которых все позиции уже
// обработаны. В норме таких нет: финализацию делает worker после каждой
// записи результата. Этот запрос — сеть безопасности для реконсиляции.
func (r *RequestRepo) ListStalled(ctx context.Context, limit int) ([]domain.Request, error) {
	query := selectRequest + `
		WHERE status = 'RUNNING' AND items_processed >= items_total
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// ClaimForExecution атомарно переводит request из PENDING в RUNNING.
//
// Возвращает true ровно одному из конкурирующих вызовов; остальные
// получают false без ошибки. Повторный вызов для уже RUNNING request
// также возвращает false — продолжение работы при этом корректно.
func (r *RequestRepo) ClaimForExecution(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE requests
		SET status = 'RUNNING', started_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim request: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// RecordItemResult атомарно дописывает результат позиции и обновляет
// счётчики.
//
// Запись проходит один раз на номер процесса: повтор по тому же номеру
// возвращает ErrDuplicateResult, запись в не-RUNNING request —
// ErrRequestNotRunning. Оба условия проверяются тем же UPDATE, который
// пишет результат, поэтому гонка двух writer'ов по одному номеру
// невозможна.
func (r *RequestRepo) RecordItemResult(ctx context.Context, id uuid.UUID, item domain.ItemResult) error {
	itemJSON, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item result: %w", err)
	}

	succeeded := 0
	failed := 0
	if item.Outcome == domain.ItemOutcomeSucceeded {
		succeeded = 1
	} else {
		failed = 1
	}

	query := `
		UPDATE requests
		SET results = results || $3::jsonb,
		    items_processed = items_processed + 1,
		    items_succeeded = items_succeeded + $4,
		    items_failed = items_failed + $5,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'RUNNING'
		  AND NOT EXISTS (
		      SELECT 1 FROM jsonb_array_elements(results) r
		      WHERE r->>'case_number' = $2
		  )
	`
	result, err := r.pool.Exec(ctx, query, id, item.CaseNumber, itemJSON, succeeded, failed)
	if err != nil {
		return fmt.Errorf("record item result: %w", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	// Ноль строк: выясняем, какое из условий не прошло.
	req, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	for _, existing := range req.Results {
		if existing.CaseNumber == item.CaseNumber {
			return ErrDuplicateResult
		}
	}
	if req.Status != domain.RequestStatusRunning {
		return ErrRequestNotRunning
	}
	return ErrInvalidState
}

// TryFinalize переводит request в терминальный статус, если все позиции
// обработаны.
//
// Статус вычисляется в том же UPDATE: все позиции с ошибкой — FAILED;
// хотя бы один результат с артефактами — COMPLETED; иначе
// PARTIAL_NO_RESULTS ("не найдено" — успех без документов, и request
// из одних таких успехов не считается COMPLETED).
// Вызов идемпотентен: для уже финализированного или ещё не готового
// request возвращает ("", nil) без побочных эффектов.
func (r *RequestRepo) TryFinalize(ctx context.Context, id uuid.UUID) (domain.RequestStatus, error) {
	query := `
		UPDATE requests
		SET status = CASE
		        WHEN items_failed = items_total THEN 'FAILED'::request_status
		        WHEN items_succeeded > 0 AND EXISTS (
		            SELECT 1 FROM jsonb_array_elements(results) r
		            WHERE jsonb_array_length(COALESCE(r->'artifacts', '[]'::jsonb)) > 0
		        ) THEN 'COMPLETED'::request_status
		        ELSE 'PARTIAL_NO_RESULTS'::request_status
		    END,
		    completed_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'RUNNING'
		  AND items_processed >= items_total
		RETURNING status
	`
	var status domain.RequestStatus
	err := r.pool.QueryRow(ctx, query, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("finalize request: %w", err)
	}
	return status, nil
}

// Cancel переводит request из PENDING или RUNNING в CANCELLED.
// Для уже терминального request возвращает ErrInvalidState.
func (r *RequestRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE requests
		SET status = 'CANCELLED', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}

// --- Helpers ---

// RequestFilter — параметры фильтрации requests.
type RequestFilter struct {
	ClientID string
	Status   domain.RequestStatus
	Limit    int
	Offset   int
}

const selectRequest = `
	SELECT id, client_id, portal, case_numbers, status,
	       items_total, items_processed, items_succeeded, items_failed,
	       results, started_at, completed_at, created_at, updated_at
	FROM requests
`

// scanRequest сканирует одну строку в Request.
func scanRequest(row pgx.Row) (*domain.Request, error) {
	var req domain.Request
	var caseNumbersJSON, resultsJSON []byte

	err := row.Scan(
		&req.ID,
		&req.ClientID,
		&req.Portal,
		&caseNumbersJSON,
		&req.Status,
		&req.ItemsTotal,
		&req.ItemsProcessed,
		&req.ItemsSucceeded,
		&req.ItemsFailed,
		&resultsJSON,
		&req.StartedAt,
		&req.CompletedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}

	if err := json.Unmarshal(caseNumbersJSON, &req.CaseNumbers); err != nil {
		return nil, fmt.Errorf("unmarshal case numbers: %w", err)
	}
	if err := json.Unmarshal(resultsJSON, &req.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}

	return &req, nil
}

func collectRequests(rows pgx.Rows) ([]domain.Request, error) {
	var requests []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
