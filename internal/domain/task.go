package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task — независимая единица работы: выгрузка документов по одному
// номеру процесса.
//
// Tasks создаются пачкой при создании request (1:1 к позициям) и никогда
// не удаляются — хранятся для аудита и replay. Пара (RequestID, CaseNumber)
// уникальна, поэтому повторная доставка события REQUEST_CREATED не плодит
// дубликаты.
//
// Мутирует task только захвативший его worker.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// RequestID — ссылка на родительский request.
	RequestID uuid.UUID `json:"request_id"`

	// CaseNumber — номер процесса (CNJ), обрабатываемый этим task.
	CaseNumber string `json:"case_number"`

	// Portal — целевая система (копия из request, чтобы worker не
	// перечитывал request ради диспетчеризации).
	Portal PortalSystem `json:"portal"`

	// Status — текущий статус task.
	Status TaskStatus `json:"status"`

	// Attempt — номер попытки автоматизации (начиная с 1).
	Attempt int `json:"attempt"`

	// ArtifactCount — количество сохранённых документов.
	ArtifactCount int `json:"artifact_count"`

	// Error — текст ошибки при неудаче.
	Error string `json:"error,omitempty"`

	// StartedAt — время захвата воркером.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания task.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последней мутации.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask создаёт Task в статусе PENDING.
func NewTask(requestID uuid.UUID, caseNumber string, portal PortalSystem) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:         uuid.New(),
		RequestID:  requestID,
		CaseNumber: caseNumber,
		Portal:     portal,
		Status:     TaskStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsFinished возвращает true, если task завершён.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// MarkCompleted переводит task в статус COMPLETED.
func (t *Task) MarkCompleted(artifactCount int) {
	now := time.Now().UTC()
	t.Status = TaskStatusCompleted
	t.ArtifactCount = artifactCount
	t.FinishedAt = &now
	t.UpdatedAt = now
}

// MarkFailed переводит task в статус FAILED с ошибкой.
func (t *Task) MarkFailed(errMsg string) {
	now := time.Now().UTC()
	t.Status = TaskStatusFailed
	t.Error = errMsg
	t.FinishedAt = &now
	t.UpdatedAt = now
}

// CanRetry проверяет, остался ли бюджет попыток.
func (t *Task) CanRetry(maxAttempts int) bool {
	return t.Attempt < maxAttempts
}
