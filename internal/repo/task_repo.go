package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Caseflow/internal/domain"
)

// TaskRepo — репозиторий для работы с tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// CreateBatch создаёт пачку tasks для одного request.
//
// Вставка идемпотентна за счёт UNIQUE (request_id, case_number):
// при повторной доставке события уже существующие tasks молча
// пропускаются. Возвращает количество реально вставленных строк.
func (r *TaskRepo) CreateBatch(ctx context.Context, tasks []*domain.Task) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO tasks (id, request_id, case_number, portal, status, attempt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id, case_number) DO NOTHING
	`
	batch := &pgx.Batch{}
	for _, t := range tasks {
		batch.Queue(query,
			t.ID,
			t.RequestID,
			t.CaseNumber,
			t.Portal,
			t.Status,
			t.Attempt,
			t.CreatedAt,
			t.UpdatedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range tasks {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert task batch: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := selectTask + ` WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// Claim атомарно захватывает task на выполнение.
//
// Переводит PENDING → CLAIMED и увеличивает attempt; при гонке
// воркеров побеждает ровно один, остальные получают false.
func (r *TaskRepo) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'CLAIMED', attempt = attempt + 1,
		    started_at = COALESCE(started_at, now()), updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Release возвращает CLAIMED task в PENDING для повторной попытки.
// Текст последней ошибки сохраняется для диагностики.
func (r *TaskRepo) Release(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE tasks
		SET status = 'PENDING', error = $2, updated_at = now()
		WHERE id = $1 AND status = 'CLAIMED'
	`
	result, err := r.pool.Exec(ctx, query, id, nullString(errMsg))
	if err != nil {
		return fmt.Errorf("release task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Update записывает терминальный статус task.
func (r *TaskRepo) Update(ctx context.Context, t *domain.Task) error {
	query := `
		UPDATE tasks
		SET status = $2, attempt = $3, artifact_count = $4, error = $5,
		    finished_at = $6, updated_at = now()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		t.ID,
		t.Status,
		t.Attempt,
		t.ArtifactCount,
		nullString(t.Error),
		t.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseStale возвращает в PENDING tasks, застрявшие в CLAIMED дольше
// порога: их воркер умер, не успев ни завершить task, ни вернуть его.
// Порог должен превышать жёсткий потолок выполнения.
func (r *TaskRepo) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
		UPDATE tasks
		SET status = 'PENDING', updated_at = now()
		WHERE status = 'CLAIMED' AND updated_at < $1
	`
	result, err := r.pool.Exec(ctx, query, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("release stale tasks: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// ListPending возвращает tasks в статусе PENDING, старые первыми.
// Используется polling-fallback воркера при недоступном RabbitMQ.
func (r *TaskRepo) ListPending(ctx context.Context, limit int) ([]domain.Task, error) {
	query := selectTask + `
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListByRequestID возвращает все tasks одного request.
func (r *TaskRepo) ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]domain.Task, error) {
	query := selectTask + `
		WHERE request_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by request: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// --- Helpers ---

const selectTask = `
	SELECT id, request_id, case_number, portal, status, attempt,
	       artifact_count, error, started_at, finished_at, created_at, updated_at
	FROM tasks
`

// scanTask сканирует одну строку в Task.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	var taskError *string

	err := row.Scan(
		&t.ID,
		&t.RequestID,
		&t.CaseNumber,
		&t.Portal,
		&t.Status,
		&t.Attempt,
		&t.ArtifactCount,
		&taskError,
		&t.StartedAt,
		&t.FinishedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if taskError != nil {
		t.Error = *taskError
	}
	return &t, nil
}

func collectTasks(rows pgx.Rows) ([]domain.Task, error) {
	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}
