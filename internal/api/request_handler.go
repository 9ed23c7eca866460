package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Caseflow/internal/domain"
	"github.com/shaiso/Caseflow/internal/repo"
)

// maxBatchSize — максимальное количество позиций в одной заявке.
const maxBatchSize = 500

// CreateRequest создаёт пакетную заявку на выгрузку документов.
// POST /api/v1/requests
//
// Валидация целиком на входе: неизвестный портал, кривые номера или
// дубликаты отклоняют заявку — в систему попадают только чистые данные.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.ClientID == "" {
		BadRequest(w, "client_id is required")
		return
	}

	portal, err := domain.ParsePortalSystem(req.Portal)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	if len(req.CaseNumbers) == 0 {
		BadRequest(w, "case_numbers must not be empty")
		return
	}
	if len(req.CaseNumbers) > maxBatchSize {
		BadRequest(w, "too many case numbers, max "+strconv.Itoa(maxBatchSize))
		return
	}

	valid, invalid, duplicates := domain.ValidateCaseNumbers(req.CaseNumbers)
	if len(invalid) > 0 || len(duplicates) > 0 {
		BadRequestDetails(w, "case number validation failed", ValidationDetails{
			Invalid:    invalid,
			Duplicates: duplicates,
		})
		return
	}

	request := domain.NewRequest(req.ClientID, portal, valid)
	if err := h.requests.Create(r.Context(), request); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	ev := &domain.Event{
		ID:        uuid.New(),
		Type:      domain.EventRequestCreated,
		RequestID: request.ID,
		Metadata: map[string]any{
			"portal":      string(portal),
			"items_total": len(valid),
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := h.events.Publish(r.Context(), ev); err != nil {
		// Request уже создан; без события его создаст реконсиляция
		// сложнее, поэтому это ошибка, а не warning.
		InternalError(w, h.logger, err)
		return
	}

	// MQ-сигнал ускоряет диспетчеризацию; его потерю компенсирует
	// polling-цикл dispatcher'а.
	if h.publisher != nil {
		if err := h.publisher.PublishRequestCreated(r.Context(), request.ID, ev.ID); err != nil {
			h.logger.Warn("failed to publish request.created",
				"request_id", request.ID,
				"error", err,
			)
		}
	}

	h.logger.Info("request created",
		"request_id", request.ID,
		"client_id", req.ClientID,
		"portal", portal,
		"items_total", len(valid),
	)

	Created(w, RequestFromDomain(*request))
}

// ListRequests возвращает список requests с фильтрацией.
// GET /api/v1/requests?client_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter := repo.RequestFilter{
		ClientID: r.URL.Query().Get("client_id"),
		Status:   domain.RequestStatus(r.URL.Query().Get("status")),
		Limit:    parseIntParam(r, "limit", 50),
		Offset:   parseIntParam(r, "offset", 0),
	}

	requests, err := h.requests.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RequestResponse, len(requests))
	for i, req := range requests {
		result[i] = RequestFromDomain(req)
	}
	List(w, result, len(result))
}

// GetRequest возвращает request по ID.
// GET /api/v1/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	req, err := h.requests.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	Success(w, RequestFromDomain(*req))
}

// CancelRequest отменяет request.
// POST /api/v1/requests/{id}/cancel
//
// Уже выполняющиеся tasks доработают, но их результаты будут отброшены;
// терминальный request отменить нельзя (422).
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	if err := h.requests.Cancel(r.Context(), id); HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	h.logger.Info("request cancelled", "request_id", id)

	req, err := h.requests.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "request not found") {
		return
	}
	Success(w, RequestFromDomain(*req))
}

// ListRequestTasks возвращает tasks одного request.
// GET /api/v1/requests/{id}/tasks
func (h *Handler) ListRequestTasks(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	if _, err := h.requests.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	tasks, err := h.tasks.ListByRequestID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}
	List(w, result, len(result))
}

// ListRequestEvents возвращает журнал событий request.
// GET /api/v1/requests/{id}/events
func (h *Handler) ListRequestEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	if _, err := h.requests.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	events, err := h.events.ListByRequestID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]EventResponse, len(events))
	for i, ev := range events {
		result[i] = EventFromDomain(ev)
	}
	List(w, result, len(result))
}

// ListPortals возвращает поддерживаемые порталы.
// GET /api/v1/portals
func (h *Handler) ListPortals(w http.ResponseWriter, r *http.Request) {
	portals := domain.SupportedPortals()
	result := make([]string, len(portals))
	for i, p := range portals {
		result[i] = string(p)
	}
	List(w, result, len(result))
}

// parseIntParam парсит целочисленный query-параметр с значением по умолчанию.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
