package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Caseflow/internal/automation"
	"github.com/shaiso/Caseflow/internal/domain"
	"github.com/shaiso/Caseflow/internal/mq"
	"github.com/shaiso/Caseflow/internal/repo"
	"github.com/shaiso/Caseflow/internal/telemetry"
)

// handleTaskReady обрабатывает сигнал tasks.ready из MQ.
func (w *Worker) handleTaskReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskReadyPayload](&delivery.Message)
	if err != nil {
		// Кривой payload requeue не исправит; task подберёт polling.
		return fmt.Errorf("%w: task.ready payload: %v", mq.ErrBadMessage, err)
	}

	w.logger.Debug("received task.ready signal",
		"task_id", payload.TaskID,
		"request_id", payload.RequestID,
	)

	if err := w.processTask(ctx, payload.TaskID); err != nil {
		// Ожидаемые ситуации — ack без повторной доставки.
		if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrTaskNotPending) {
			w.logger.Debug("task not processed", "task_id", payload.TaskID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process task", "task_id", payload.TaskID, "error", err)
		return err
	}
	return nil
}

// processTask — полный цикл обработки одного task.
//
// Захват task и перевод request в RUNNING — условные записи, поэтому
// при гонке воркеров и при повторной доставке сигнала каждый шаг
// выполняется ровно один раз. Финализация пробуется на каждом выходе:
// последний записанный результат закрывает request.
func (w *Worker) processTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := w.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return fmt.Errorf("get task: %w", err)
	}

	if task.Status != domain.TaskStatusPending {
		return ErrTaskNotPending
	}

	claimed, err := w.tasks.Claim(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}
	if !claimed {
		return ErrTaskNotPending
	}
	task.Status = domain.TaskStatusClaimed
	task.Attempt++
	if task.StartedAt == nil {
		now := time.Now().UTC()
		task.StartedAt = &now
	}

	// Первый захваченный task переводит request в RUNNING; остальным
	// достаётся false — это нормально.
	if _, err := w.requests.ClaimForExecution(ctx, task.RequestID); err != nil {
		w.logger.Warn("failed to claim request for execution",
			"request_id", task.RequestID,
			"error", err,
		)
	}

	// Отменённый request: работу не начинаем, результат не пишем.
	req, err := w.requests.GetByID(ctx, task.RequestID)
	if err != nil {
		return fmt.Errorf("get request: %w", err)
	}
	if req.Status == domain.RequestStatusCancelled {
		task.MarkFailed(ErrRequestCancelled.Error())
		if err := w.tasks.Update(ctx, task); err != nil {
			return fmt.Errorf("update cancelled task: %w", err)
		}
		w.logger.Info("task discarded, request cancelled",
			"task_id", task.ID,
			"request_id", task.RequestID,
		)
		return nil
	}

	logger := w.logger.With(
		"task_id", task.ID,
		"request_id", task.RequestID,
		"case_number", task.CaseNumber,
		"portal", task.Portal,
	)
	logger.Info("task started", "attempt", task.Attempt)

	result, execErr := w.executeWithRetry(ctx, task)

	// Остановка воркера посреди выполнения — не сбой портала: task
	// возвращается в PENDING, результат не записывается.
	if execErr != nil && ctx.Err() != nil {
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if relErr := w.tasks.Release(relCtx, task.ID, execErr.Error()); relErr != nil {
			logger.Warn("failed to release task on shutdown", "error", relErr)
		} else {
			logger.Info("task released on shutdown", "attempt", task.Attempt)
		}
		return ctx.Err()
	}

	item := domain.ItemResult{
		CaseNumber:  task.CaseNumber,
		ProcessedAt: time.Now().UTC(),
	}
	var eventType domain.EventType

	switch {
	case execErr != nil:
		item.Outcome = domain.ItemOutcomeFailed
		item.Error = execErr.Error()
		eventType = domain.EventItemFailed
		task.MarkFailed(execErr.Error())
		logger.Warn("task failed", "attempt", task.Attempt, "error", execErr)

	case result.NotFound || len(result.Artifacts) == 0:
		item.Outcome = domain.ItemOutcomeSucceeded
		eventType = domain.EventItemNotFound
		task.MarkCompleted(0)
		logger.Info("task completed, no documents found", "attempt", task.Attempt)

	default:
		refs, uploadErr := w.storeArtifacts(ctx, task, result.Artifacts)
		if uploadErr != nil {
			item.Outcome = domain.ItemOutcomeFailed
			item.Error = uploadErr.Error()
			eventType = domain.EventItemFailed
			task.MarkFailed(uploadErr.Error())
			logger.Error("failed to store artifacts", "error", uploadErr)
		} else {
			item.Outcome = domain.ItemOutcomeSucceeded
			item.Artifacts = refs
			eventType = domain.EventItemFound
			task.MarkCompleted(len(refs))
			logger.Info("task completed",
				"attempt", task.Attempt,
				"artifacts", len(refs),
				"duration", task.Duration(),
			)
		}
	}

	if err := w.tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	telemetry.TasksProcessedTotal.WithLabelValues(string(task.Portal), string(task.Status)).Inc()

	if err := w.recordResult(ctx, task, item); err != nil {
		return err
	}
	telemetry.ItemResultsTotal.WithLabelValues(string(item.Outcome)).Inc()

	w.publishItemEvent(ctx, task, eventType, item)

	return w.tryFinalize(ctx, task.RequestID)
}

// executeWithRetry прогоняет автоматизацию с retry по временным сбоям.
//
// Бюджет попыток фиксирован; задержка между попытками растёт линейно
// с номером попытки. Постоянные сбои прекращают retry сразу. Жёсткий
// потолок времени действует на все попытки суммарно; после мягкого
// порога пишется предупреждение.
func (w *Worker) executeWithRetry(ctx context.Context, task *domain.Task) (*automation.Result, error) {
	auto, err := w.registry.Get(task.Portal)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, w.hardTimeLimit)
	defer cancel()

	softTimer := time.AfterFunc(w.softTimeLimit, func() {
		w.logger.Warn("task exceeded soft time limit",
			"task_id", task.ID,
			"soft_time_limit", w.softTimeLimit,
		)
	})
	defer softTimer.Stop()

	var lastErr error
	for {
		start := time.Now()
		result, err := auto.Fetch(ctx, task.CaseNumber)
		telemetry.AutomationDuration.WithLabelValues(string(task.Portal)).Observe(time.Since(start).Seconds())

		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("hard time limit: %w", lastErr)
		}
		if !automation.IsTransient(err) {
			return nil, err
		}
		if !task.CanRetry(w.maxAttempts) {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, task.Attempt, lastErr)
		}

		delay := w.retryBackoff * time.Duration(task.Attempt)
		telemetry.TaskRetriesTotal.WithLabelValues(string(task.Portal)).Inc()
		w.logger.Debug("retrying automation",
			"task_id", task.ID,
			"attempt", task.Attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
			task.Attempt++
		case <-ctx.Done():
			return nil, fmt.Errorf("hard time limit: %w", lastErr)
		}
	}
}

// storeArtifacts выгружает файлы бота в хранилище и чистит локальные копии.
func (w *Worker) storeArtifacts(ctx context.Context, task *domain.Task, artifacts []domain.Artifact) ([]domain.ArtifactRef, error) {
	refs := make([]domain.ArtifactRef, 0, len(artifacts))
	for _, a := range artifacts {
		ref, err := w.store.Save(ctx, task.RequestID, task.CaseNumber, a)
		if err != nil {
			return nil, fmt.Errorf("store artifact %s: %w", a.DisplayName, err)
		}
		refs = append(refs, ref)

		if err := os.Remove(a.LocalPath); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove local artifact",
				"path", a.LocalPath,
				"error", err,
			)
		}
	}
	return refs, nil
}

// recordResult записывает результат позиции в request.
//
// Запись — единственное место агрегации, поэтому у неё собственный
// короткий retry, независимый от бюджета автоматизации. Дубликат
// считается успехом: результат уже в request (at-least-once доставка).
func (w *Worker) recordResult(ctx context.Context, task *domain.Task, item domain.ItemResult) error {
	var lastErr error
	for try := 1; try <= w.recordTries; try++ {
		err := w.requests.RecordItemResult(ctx, task.RequestID, item)
		switch {
		case err == nil:
			return nil

		case errors.Is(err, repo.ErrDuplicateResult):
			w.logger.Debug("item result already recorded",
				"task_id", task.ID,
				"case_number", task.CaseNumber,
			)
			return nil

		case errors.Is(err, repo.ErrRequestNotRunning):
			// Request отменён или финализирован, пока task выполнялся.
			w.logger.Info("result dropped, request not running",
				"task_id", task.ID,
				"request_id", task.RequestID,
			)
			return nil
		}

		lastErr = err
		w.logger.Warn("failed to record item result, retrying",
			"task_id", task.ID,
			"try", try,
			"error", err,
		)

		select {
		case <-time.After(w.recordBackoff):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrRecordFailed, ctx.Err())
		}
	}
	return fmt.Errorf("%w: %v", ErrRecordFailed, lastErr)
}

// publishItemEvent пишет итог позиции в журнал событий.
// Сбой журнала не валит обработку: result уже записан в request.
func (w *Worker) publishItemEvent(ctx context.Context, task *domain.Task, eventType domain.EventType, item domain.ItemResult) {
	ev := &domain.Event{
		ID:        uuid.New(),
		Type:      eventType,
		RequestID: task.RequestID,
		Metadata: map[string]any{
			"task_id":     task.ID.String(),
			"case_number": task.CaseNumber,
			"portal":      string(task.Portal),
			"outcome":     string(item.Outcome),
			"artifacts":   len(item.Artifacts),
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := w.events.Publish(ctx, ev); err != nil {
		w.logger.Warn("failed to publish item event",
			"task_id", task.ID,
			"type", eventType,
			"error", err,
		)
	}
}

// tryFinalize пробует закрыть request; закрывает тот воркер, который
// записал последний результат (или dispatcher при реконсиляции).
func (w *Worker) tryFinalize(ctx context.Context, requestID uuid.UUID) error {
	final, err := w.requests.TryFinalize(ctx, requestID)
	if err != nil {
		return fmt.Errorf("finalize request: %w", err)
	}
	if final == "" {
		return nil
	}

	telemetry.FinalizationsTotal.WithLabelValues(string(final)).Inc()
	w.logger.Info("request finalized", "request_id", requestID, "status", final)

	ev := &domain.Event{
		ID:        uuid.New(),
		Type:      domain.EventRequestCompleted,
		RequestID: requestID,
		Metadata:  map[string]any{"status": string(final)},
		CreatedAt: time.Now().UTC(),
	}
	if err := w.events.Publish(ctx, ev); err != nil {
		w.logger.Warn("failed to publish completion event",
			"request_id", requestID,
			"error", err,
		)
	}
	return nil
}
