package worker

import "errors"

// Ошибки воркера.
var (
	// ErrTaskNotFound — task не найден в БД.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotPending — task не в статусе PENDING (уже захвачен или завершён).
	ErrTaskNotPending = errors.New("task is not in PENDING status")

	// ErrRequestCancelled — request отменён, работа по task отброшена.
	ErrRequestCancelled = errors.New("request cancelled")

	// ErrRetryExhausted — все попытки автоматизации исчерпаны.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrRecordFailed — результат не удалось записать после всех попыток.
	ErrRecordFailed = errors.New("failed to record item result")
)
