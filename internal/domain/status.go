package domain

// RequestStatus — статус выполнения request (пакетной заявки).
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED
//	                  ↘ PARTIAL_NO_RESULTS
//	          (или) → CANCELLED (из PENDING или RUNNING)
//
// Переходы монотонны: из терминального статуса возврата нет.
// Строковые значения — часть внешнего контракта, не переименовывать
// без миграции.
type RequestStatus string

const (
	// RequestStatusPending — request создан, но ещё не начал выполняться.
	RequestStatusPending RequestStatus = "PENDING"

	// RequestStatusRunning — хотя бы один worker начал обработку.
	RequestStatusRunning RequestStatus = "RUNNING"

	// RequestStatusCompleted — все позиции обработаны, есть хотя бы один успех.
	RequestStatusCompleted RequestStatus = "COMPLETED"

	// RequestStatusFailed — все позиции завершились ошибкой.
	RequestStatusFailed RequestStatus = "FAILED"

	// RequestStatusPartialNoResults — все позиции обработаны без ошибок,
	// но ни одного документа не найдено.
	RequestStatusPartialNoResults RequestStatus = "PARTIAL_NO_RESULTS"

	// RequestStatusCancelled — request отменён пользователем.
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (request завершён).
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusFailed,
		RequestStatusPartialNoResults, RequestStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	PENDING → CLAIMED → COMPLETED
//	                  ↘ FAILED (после исчерпания retry)
type TaskStatus string

const (
	// TaskStatusPending — task создан, ожидает диспетчеризации.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusClaimed — task захвачен воркером и выполняется.
	// Повторные попытки внутри воркера не меняют статус, только attempt.
	TaskStatusClaimed TaskStatus = "CLAIMED"

	// TaskStatusCompleted — task успешно завершён (включая "не найдено").
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed — task завершился с ошибкой после всех retry.
	TaskStatusFailed TaskStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// ItemOutcome — результат обработки одной позиции (номера процесса).
//
// "Не найдено" — это SUCCEEDED с нулём артефактов: отсутствие документов
// не маскируется под ошибку.
type ItemOutcome string

const (
	// ItemOutcomeSucceeded — автоматизация отработала, с документами или без.
	ItemOutcomeSucceeded ItemOutcome = "SUCCEEDED"

	// ItemOutcomeFailed — все попытки исчерпаны либо ошибка постоянная.
	ItemOutcomeFailed ItemOutcome = "FAILED"
)

// ComputeFinalStatus определяет финальный статус request по счётчикам.
//
// Правило приоритета (детерминированное, порядок важен):
//  1. все позиции завершились ошибкой → FAILED
//  2. есть хотя бы один успех с найденными документами → COMPLETED
//  3. иначе (всё обработано, документов нет) → PARTIAL_NO_RESULTS
//
// documentsFound — есть ли хотя бы один результат с артефактами:
// "не найдено" — это SUCCEEDED с нулём артефактов, и request, в котором
// все позиции так завершились, не считается COMPLETED.
//
// Вызывать только когда processed >= total; временной порядок записи
// результатов значения не имеет — считаются только счётчики.
func ComputeFinalStatus(total, succeeded, failed int, documentsFound bool) RequestStatus {
	switch {
	case failed == total:
		return RequestStatusFailed
	case succeeded > 0 && documentsFound:
		return RequestStatusCompleted
	default:
		return RequestStatusPartialNoResults
	}
}
