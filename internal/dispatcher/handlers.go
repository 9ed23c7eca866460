package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Caseflow/internal/domain"
	"github.com/shaiso/Caseflow/internal/mq"
	"github.com/shaiso/Caseflow/internal/repo"
	"github.com/shaiso/Caseflow/internal/telemetry"
)

// handleRequestCreated — обработчик сообщения requests.created из MQ.
//
// Сообщение — лишь сигнал: истина в журнале событий, поэтому обработка
// идёт через ту же аренду события, что и polling-путь.
func (d *Dispatcher) handleRequestCreated(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RequestCreatedPayload](&delivery.Message)
	if err != nil {
		// Некорректный payload не исправится от requeue; журнал
		// событий и polling остаются источником истины.
		return fmt.Errorf("%w: request.created payload: %v", mq.ErrBadMessage, err)
	}

	claimed, err := d.events.Claim(ctx, payload.EventID, d.eventLease)
	if err != nil {
		return fmt.Errorf("claim event %s: %w", payload.EventID, err)
	}
	if !claimed {
		// Событие уже обработано или арендовано polling-циклом.
		d.logger.Debug("event already claimed", "event_id", payload.EventID)
		return nil
	}

	ev := domain.Event{
		ID:        payload.EventID,
		Type:      domain.EventRequestCreated,
		RequestID: payload.RequestID,
	}
	d.processEvent(ctx, &ev)
	return nil
}

// runCycle выполняет один цикл обхода журнала: арендует необработанные
// события, обрабатывает их и доводит зависшие финализации.
func (d *Dispatcher) runCycle(ctx context.Context) {
	telemetry.DispatchCyclesTotal.Inc()

	events, err := d.events.ListUnprocessed(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to list unprocessed events", "error", err)
		return
	}

	if len(events) > 0 {
		d.logger.Debug("cycle found unprocessed events", "count", len(events))
	}

	for i := range events {
		ev := &events[i]

		claimed, err := d.events.Claim(ctx, ev.ID, d.eventLease)
		if err != nil {
			d.logger.Error("failed to claim event", "event_id", ev.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		d.processEvent(ctx, ev)
	}

	d.reconcile(ctx)
}

// processEvent обрабатывает одно арендованное событие.
func (d *Dispatcher) processEvent(ctx context.Context, ev *domain.Event) {
	var err error
	switch ev.Type {
	case domain.EventRequestCreated:
		err = d.dispatchRequest(ctx, ev.RequestID)

	case domain.EventItemFound, domain.EventItemNotFound, domain.EventItemFailed, domain.EventRequestCompleted:
		// Информационные события: остаются в журнале для аудита,
		// побочных действий не требуют.

	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}

	result := "ok"
	errMsg := ""
	if err != nil {
		result = "error"
		errMsg = err.Error()
		d.logger.Error("event processing failed",
			"event_id", ev.ID,
			"type", ev.Type,
			"request_id", ev.RequestID,
			"error", err,
		)
	}
	telemetry.EventsProcessedTotal.WithLabelValues(string(ev.Type), result).Inc()

	// Транзиентные сбои оставляют событие необработанным: аренда
	// истечёт, следующий цикл попробует снова. Остальное помечаем.
	if err != nil && !isRetryable(err) {
		if markErr := d.events.MarkProcessed(ctx, ev.ID, false, errMsg); markErr != nil {
			d.logger.Error("failed to mark event processed", "event_id", ev.ID, "error", markErr)
		}
		return
	}
	if err == nil {
		if markErr := d.events.MarkProcessed(ctx, ev.ID, true, ""); markErr != nil {
			d.logger.Error("failed to mark event processed", "event_id", ev.ID, "error", markErr)
		}
	}
}

// dispatchRequest создаёт tasks для request и раздаёт их воркерам.
//
// Идемпотентен: tasks вставляются с ON CONFLICT DO NOTHING, повторный
// сигнал task.ready безвреден (Claim воркера пропустит не-PENDING task).
func (d *Dispatcher) dispatchRequest(ctx context.Context, requestID uuid.UUID) error {
	req, err := d.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Событие ссылается на несуществующий request; повтор
			// ничего не изменит.
			return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
		}
		return fmt.Errorf("load request: %w", err)
	}

	if req.IsFinished() {
		d.logger.Debug("request already finished, skipping dispatch", "request_id", requestID)
		return nil
	}

	// Закрытый реестр порталов: неизвестное значение могло попасть
	// в БД только мимо API-валидации, событие помечается ошибкой.
	if _, err := domain.ParsePortalSystem(string(req.Portal)); err != nil {
		return fmt.Errorf("%w: request %s: %v", ErrUnsupportedPortal, requestID, err)
	}

	newTasks := make([]*domain.Task, 0, len(req.CaseNumbers))
	for _, cnj := range req.CaseNumbers {
		newTasks = append(newTasks, domain.NewTask(req.ID, cnj, req.Portal))
	}

	inserted, err := d.tasks.CreateBatch(ctx, newTasks)
	if err != nil {
		return fmt.Errorf("create tasks: %w", err)
	}

	d.logger.Info("request dispatched",
		"request_id", requestID,
		"portal", req.Portal,
		"tasks_total", len(newTasks),
		"tasks_inserted", inserted,
	)

	if d.notifier == nil {
		return nil
	}

	// Сигналим по фактическим tasks из БД: при повторной доставке
	// события ID вставленных ранее tasks отличаются от newTasks.
	tasks, err := d.tasks.ListByRequestID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for i := range tasks {
		t := &tasks[i]
		if t.Status != domain.TaskStatusPending {
			continue
		}
		if err := d.notifier.PublishTaskReady(ctx, t.ID, requestID); err != nil {
			// Потерянный сигнал подберёт polling воркера.
			d.logger.Warn("failed to publish task.ready",
				"task_id", t.ID,
				"request_id", requestID,
				"error", err,
			)
		}
	}
	return nil
}

// reconcile возвращает в очередь tasks умерших воркеров и доводит
// финализацию RUNNING requests, у которых все позиции уже обработаны.
// В норме финализацию делает worker; сюда попадают requests, у которых
// worker упал между записью результата и финализацией.
func (d *Dispatcher) reconcile(ctx context.Context) {
	// Task, зависший в CLAIMED дольше порога, брошен: воркер умер,
	// не дойдя ни до Update, ни до Release. Возврат в PENDING отдаёт
	// его живым воркерам через их polling.
	released, err := d.tasks.ReleaseStale(ctx, d.staleClaimAfter)
	if err != nil {
		d.logger.Error("failed to release stale tasks", "error", err)
	} else if released > 0 {
		d.logger.Warn("released stale claimed tasks", "count", released)
	}

	stalled, err := d.requests.ListStalled(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to list stalled requests", "error", err)
		return
	}

	for i := range stalled {
		req := &stalled[i]

		final, err := d.requests.TryFinalize(ctx, req.ID)
		if err != nil {
			d.logger.Error("failed to finalize stalled request", "request_id", req.ID, "error", err)
			continue
		}
		if final == "" {
			continue
		}

		telemetry.FinalizationsTotal.WithLabelValues(string(final)).Inc()
		d.logger.Info("stalled request finalized", "request_id", req.ID, "status", final)

		ev := &domain.Event{
			ID:        uuid.New(),
			Type:      domain.EventRequestCompleted,
			RequestID: req.ID,
			Metadata:  map[string]any{"status": string(final), "source": "reconcile"},
			CreatedAt: time.Now().UTC(),
		}
		if err := d.events.Publish(ctx, ev); err != nil {
			d.logger.Error("failed to publish completion event", "request_id", req.ID, "error", err)
		}
	}
}

// isRetryable решает, оставлять ли событие в журнале для повтора.
// Ошибки БД считаются временными; ошибки валидации — нет.
func isRetryable(err error) bool {
	return !errors.Is(err, ErrUnsupportedPortal) &&
		!errors.Is(err, ErrUnknownEventType) &&
		!errors.Is(err, ErrRequestNotFound)
}
