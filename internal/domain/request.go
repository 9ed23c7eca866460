package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Request — пакетная заявка клиента на выгрузку документов.
//
// Request создаётся API-слоем: клиент передаёт список номеров процессов
// (CNJ), каждый номер становится независимой единицей работы (Task).
// Результаты стекаются асинхронно и агрегируются в счётчики и список
// Results; финальный статус вычисляется реконсиляцией по счётчикам.
//
// Инварианты (поддерживаются атомарными условными записями репозитория):
//   - ItemsProcessed == len(Results) == ItemsSucceeded + ItemsFailed
//   - ItemsProcessed <= ItemsTotal
//   - статус монотонен: из терминального состояния возврата нет
type Request struct {
	// ID — уникальный идентификатор request.
	ID uuid.UUID `json:"id"`

	// ClientID — ссылка на клиента-владельца (opaque, auth вне системы).
	ClientID string `json:"client_id"`

	// Portal — целевая внешняя система для всех позиций заявки.
	Portal PortalSystem `json:"portal"`

	// CaseNumbers — номера процессов (CNJ), по одному на позицию.
	CaseNumbers []string `json:"case_numbers"`

	// Status — текущий статус выполнения.
	Status RequestStatus `json:"status"`

	// ItemsTotal — общее количество позиций (== len(CaseNumbers)).
	ItemsTotal int `json:"items_total"`

	// ItemsProcessed — количество записанных результатов.
	ItemsProcessed int `json:"items_processed"`

	// ItemsSucceeded — позиции с исходом SUCCEEDED.
	ItemsSucceeded int `json:"items_succeeded"`

	// ItemsFailed — позиции с исходом FAILED.
	ItemsFailed int `json:"items_failed"`

	// Results — накопленные результаты по позициям.
	// Порядок — порядок записи, не порядок подачи.
	Results []ItemResult `json:"results,omitempty"`

	// StartedAt — время первого захвата на выполнение (PENDING → RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время финализации (любой терминальный статус).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CreatedAt — время создания request.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последней мутации.
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemResult — результат обработки одной позиции.
//
// Добавляется ровно один раз на номер процесса: повторная запись того же
// номера отклоняется условием в репозитории.
type ItemResult struct {
	// CaseNumber — номер процесса, к которому относится результат.
	CaseNumber string `json:"case_number"`

	// Outcome — исход обработки.
	Outcome ItemOutcome `json:"outcome"`

	// Artifacts — ссылки на сохранённые документы (может быть пусто).
	Artifacts []ArtifactRef `json:"artifacts,omitempty"`

	// Error — текст ошибки; заполнен тогда и только тогда, когда
	// Outcome == FAILED.
	Error string `json:"error,omitempty"`

	// ProcessedAt — время записи результата.
	ProcessedAt time.Time `json:"processed_at"`
}

// NewRequest создаёт Request в статусе PENDING.
func NewRequest(clientID string, portal PortalSystem, caseNumbers []string) *Request {
	now := time.Now().UTC()
	return &Request{
		ID:          uuid.New(),
		ClientID:    clientID,
		Portal:      portal,
		CaseNumbers: caseNumbers,
		Status:      RequestStatusPending,
		ItemsTotal:  len(caseNumbers),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsFinished возвращает true, если request завершён (в любом статусе).
func (r *Request) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Remaining возвращает количество ещё не обработанных позиций.
func (r *Request) Remaining() int {
	return r.ItemsTotal - r.ItemsProcessed
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если request ещё не завершён.
func (r *Request) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// CheckCounters проверяет инварианты счётчиков.
// Нарушение означает баг в условных записях репозитория.
func (r *Request) CheckCounters() error {
	if r.ItemsProcessed != r.ItemsSucceeded+r.ItemsFailed {
		return fmt.Errorf("request %s: processed=%d != succeeded=%d + failed=%d",
			r.ID, r.ItemsProcessed, r.ItemsSucceeded, r.ItemsFailed)
	}
	if r.ItemsProcessed > r.ItemsTotal {
		return fmt.Errorf("request %s: processed=%d > total=%d",
			r.ID, r.ItemsProcessed, r.ItemsTotal)
	}
	return nil
}
