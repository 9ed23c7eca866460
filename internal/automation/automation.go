// Package automation выполняет выгрузку документов из внешних порталов.
//
// Сами браузерные боты живут в отдельном сервисе (bot-runner); этот пакет
// даёт воркеру типизированный интерфейс к ним и классифицирует ошибки
// на временные (стоит повторить) и постоянные (повтор бесполезен).
package automation

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Caseflow/internal/domain"
)

// Automation — выгрузка документов по одному номеру процесса.
//
// Контракт:
//   - документы найдены → Result с непустым Artifacts
//   - процесс найден, документов нет → Result с NotFound = true
//   - сбой → error; *TransientError означает, что повтор имеет смысл
type Automation interface {
	Fetch(ctx context.Context, caseNumber string) (*Result, error)
}

// Result — результат успешного прохода автоматизации.
type Result struct {
	// Artifacts — скачанные документы (локальные файлы бота).
	Artifacts []domain.Artifact

	// NotFound — процесс обработан, но документов по нему нет.
	// Это штатный исход, не ошибка.
	NotFound bool
}

// TransientError — временный сбой: таймаут, недоступность портала,
// падение браузера. Задачу стоит повторить.
type TransientError struct {
	Reason string
	Cause  error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("transient: %s", e.Reason)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// PermanentError — постоянный сбой: некорректный номер процесса,
// отказ в доступе, неподдерживаемый тип дела. Повтор бесполезен.
type PermanentError struct {
	Reason string
	Cause  error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("permanent: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("permanent: %s", e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// IsTransient сообщает, является ли ошибка временной.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent сообщает, является ли ошибка постоянной.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
