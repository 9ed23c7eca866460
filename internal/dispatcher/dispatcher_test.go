package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Caseflow/internal/domain"
	"github.com/shaiso/Caseflow/internal/mq"
	"github.com/shaiso/Caseflow/internal/repo"
)

// --- Fakes ---

type fakeRequestStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*domain.Request
}

func newFakeRequestStore(reqs ...*domain.Request) *fakeRequestStore {
	s := &fakeRequestStore{requests: make(map[uuid.UUID]*domain.Request)}
	for _, r := range reqs {
		s.requests[r.ID] = r
	}
	return s
}

func (s *fakeRequestStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (s *fakeRequestStore) ListStalled(_ context.Context, limit int) ([]domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Request
	for _, r := range s.requests {
		if r.Status == domain.RequestStatusRunning && r.ItemsProcessed >= r.ItemsTotal && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeRequestStore) TryFinalize(_ context.Context, id uuid.UUID) (domain.RequestStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return "", repo.ErrNotFound
	}
	if r.Status != domain.RequestStatusRunning || r.ItemsProcessed < r.ItemsTotal {
		return "", nil
	}
	var documentsFound bool
	for _, res := range r.Results {
		if len(res.Artifacts) > 0 {
			documentsFound = true
		}
	}
	r.Status = domain.ComputeFinalStatus(r.ItemsTotal, r.ItemsSucceeded, r.ItemsFailed, documentsFound)
	return r.Status, nil
}

// fakeTaskStore повторяет семантику UNIQUE(request_id, case_number)
// с ON CONFLICT DO NOTHING.
type fakeTaskStore struct {
	mu    sync.Mutex
	tasks []*domain.Task
}

func (s *fakeTaskStore) CreateBatch(_ context.Context, tasks []*domain.Task) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, t := range tasks {
		exists := false
		for _, existing := range s.tasks {
			if existing.RequestID == t.RequestID && existing.CaseNumber == t.CaseNumber {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		copied := *t
		s.tasks = append(s.tasks, &copied)
		inserted++
	}
	return inserted, nil
}

func (s *fakeTaskStore) ListByRequestID(_ context.Context, requestID uuid.UUID) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.RequestID == requestID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeTaskStore) ReleaseStale(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	released := 0
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusClaimed && t.UpdatedAt.Before(cutoff) {
			t.Status = domain.TaskStatusPending
			t.UpdatedAt = time.Now().UTC()
			released++
		}
	}
	return released, nil
}

func (s *fakeTaskStore) get(id uuid.UUID) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			copied := *t
			return &copied
		}
	}
	return nil
}

func (s *fakeTaskStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

type fakeEventStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*domain.Event
}

func newFakeEventStore(events ...*domain.Event) *fakeEventStore {
	s := &fakeEventStore{events: make(map[uuid.UUID]*domain.Event)}
	for _, ev := range events {
		s.events[ev.ID] = ev
	}
	return s
}

func (s *fakeEventStore) Publish(_ context.Context, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *ev
	s.events[ev.ID] = &copied
	return nil
}

func (s *fakeEventStore) ListUnprocessed(_ context.Context, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []domain.Event
	for _, ev := range s.events {
		if !ev.Processed && !ev.IsLeased(now) && len(out) < limit {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (s *fakeEventStore) Claim(_ context.Context, id uuid.UUID, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok || ev.Processed || ev.IsLeased(time.Now()) {
		return false, nil
	}
	until := time.Now().Add(lease)
	ev.LeaseUntil = &until
	return true, nil
}

func (s *fakeEventStore) MarkProcessed(_ context.Context, id uuid.UUID, success bool, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok || ev.Processed {
		return nil
	}
	now := time.Now()
	ev.Processed = true
	ev.ProcessedAt = &now
	ev.Success = success
	ev.Error = errMsg
	return nil
}

func (s *fakeEventStore) get(id uuid.UUID) *domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id]
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []uuid.UUID
}

func (n *fakeNotifier) PublishTaskReady(_ context.Context, taskID, _ uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, taskID)
	return nil
}

// --- Test Setup ---

func newTestDispatcher(t *testing.T, requests RequestStore, tasks TaskStore, events EventStore, notifier TaskNotifier) *Dispatcher {
	t.Helper()
	d, err := New(Config{
		RequestStore: requests,
		TaskStore:    tasks,
		EventStore:   events,
		Notifier:     notifier,
	})
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	return d
}

func createdEvent(requestID uuid.UUID) *domain.Event {
	return &domain.Event{
		ID:        uuid.New(),
		Type:      domain.EventRequestCreated,
		RequestID: requestID,
		CreatedAt: time.Now().UTC(),
	}
}

// --- Dispatch Tests ---

func TestRunCycle_DispatchesRequest(t *testing.T) {
	req := domain.NewRequest("client-1", domain.PortalElawCogna, []string{
		"0001234-56.2023.8.26.0100",
		"7654321-00.2021.8.19.0001",
	})
	ev := createdEvent(req.ID)

	requests := newFakeRequestStore(req)
	tasks := &fakeTaskStore{}
	events := newFakeEventStore(ev)
	notifier := &fakeNotifier{}

	d := newTestDispatcher(t, requests, tasks, events, notifier)
	d.runCycle(context.Background())

	if tasks.count() != 2 {
		t.Errorf("expected 2 tasks, got %d", tasks.count())
	}
	if len(notifier.published) != 2 {
		t.Errorf("expected 2 task.ready signals, got %d", len(notifier.published))
	}

	processed := events.get(ev.ID)
	if !processed.Processed || !processed.Success {
		t.Errorf("event should be processed successfully: %+v", processed)
	}
}

func TestRunCycle_RedeliveryCreatesNoDuplicates(t *testing.T) {
	req := domain.NewRequest("client-1", domain.PortalElawCogna, []string{
		"0001234-56.2023.8.26.0100",
	})

	requests := newFakeRequestStore(req)
	tasks := &fakeTaskStore{}
	events := newFakeEventStore(createdEvent(req.ID))
	d := newTestDispatcher(t, requests, tasks, events, nil)

	d.runCycle(context.Background())
	if tasks.count() != 1 {
		t.Fatalf("expected 1 task after first cycle, got %d", tasks.count())
	}

	// То же событие доставлено повторно (журнал не успел пометиться).
	dup := createdEvent(req.ID)
	_ = events.Publish(context.Background(), dup)
	d.runCycle(context.Background())

	if tasks.count() != 1 {
		t.Errorf("redelivery must not create duplicate tasks, got %d", tasks.count())
	}
}

func TestRunCycle_SkipsFinishedRequest(t *testing.T) {
	req := domain.NewRequest("client-1", domain.PortalAdvwin, []string{"0001234-56.2023.8.26.0100"})
	req.Status = domain.RequestStatusCancelled
	ev := createdEvent(req.ID)

	tasks := &fakeTaskStore{}
	events := newFakeEventStore(ev)
	d := newTestDispatcher(t, newFakeRequestStore(req), tasks, events, nil)

	d.runCycle(context.Background())

	if tasks.count() != 0 {
		t.Errorf("no tasks expected for finished request, got %d", tasks.count())
	}
	if !events.get(ev.ID).Processed {
		t.Error("event should still be marked processed")
	}
}

func TestRunCycle_MissingRequestMarkedFailed(t *testing.T) {
	ev := createdEvent(uuid.New()) // request не существует

	events := newFakeEventStore(ev)
	d := newTestDispatcher(t, newFakeRequestStore(), &fakeTaskStore{}, events, nil)

	d.runCycle(context.Background())

	processed := events.get(ev.ID)
	if !processed.Processed {
		t.Fatal("event for missing request should be marked processed")
	}
	if processed.Success {
		t.Error("event should be marked failed")
	}
	if processed.Error == "" {
		t.Error("error message should be recorded")
	}
}

func TestRunCycle_UnknownEventTypeMarkedFailed(t *testing.T) {
	ev := &domain.Event{
		ID:        uuid.New(),
		Type:      domain.EventType("SOMETHING_ELSE"),
		RequestID: uuid.New(),
		CreatedAt: time.Now().UTC(),
	}

	events := newFakeEventStore(ev)
	d := newTestDispatcher(t, newFakeRequestStore(), &fakeTaskStore{}, events, nil)

	d.runCycle(context.Background())

	processed := events.get(ev.ID)
	if !processed.Processed || processed.Success {
		t.Errorf("unknown event type should be processed-with-error: %+v", processed)
	}
}

func TestRunCycle_ItemEventsAreInformational(t *testing.T) {
	ev := &domain.Event{
		ID:        uuid.New(),
		Type:      domain.EventItemFound,
		RequestID: uuid.New(),
		CreatedAt: time.Now().UTC(),
	}

	events := newFakeEventStore(ev)
	tasks := &fakeTaskStore{}
	d := newTestDispatcher(t, newFakeRequestStore(), tasks, events, nil)

	d.runCycle(context.Background())

	processed := events.get(ev.ID)
	if !processed.Processed || !processed.Success {
		t.Errorf("item event should be marked processed: %+v", processed)
	}
	if tasks.count() != 0 {
		t.Error("item events must not create tasks")
	}
}

func TestRunCycle_LeasedEventSkipped(t *testing.T) {
	req := domain.NewRequest("client-1", domain.PortalElawCogna, []string{"0001234-56.2023.8.26.0100"})
	ev := createdEvent(req.ID)
	until := time.Now().Add(time.Hour)
	ev.LeaseUntil = &until // арендовано другим циклом

	tasks := &fakeTaskStore{}
	d := newTestDispatcher(t, newFakeRequestStore(req), tasks, newFakeEventStore(ev), nil)

	d.runCycle(context.Background())

	if tasks.count() != 0 {
		t.Errorf("leased event must not be processed, got %d tasks", tasks.count())
	}
}

// --- MQ Handler Tests ---

func TestHandleRequestCreated_MalformedPayloadNotRetryable(t *testing.T) {
	tasks := &fakeTaskStore{}
	d := newTestDispatcher(t, newFakeRequestStore(), tasks, newFakeEventStore(), nil)

	delivery := &mq.Delivery{Message: mq.Message{
		ID:      uuid.NewString(),
		Type:    mq.MessageTypeRequestCreated,
		Payload: map[string]any{"request_id": "not-a-uuid"},
	}}

	err := d.handleRequestCreated(context.Background(), delivery)
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
	// Requeue кривой payload не чинит: consumer должен отправить
	// сообщение в DLQ, а не крутить его по кругу.
	if !errors.Is(err, mq.ErrBadMessage) {
		t.Errorf("expected ErrBadMessage, got %v", err)
	}
	if tasks.count() != 0 {
		t.Errorf("malformed payload must not create tasks, got %d", tasks.count())
	}
}

// --- Reconcile Tests ---

func TestReconcile_ReleasesStaleClaims(t *testing.T) {
	req := domain.NewRequest("client-1", domain.PortalElawCogna, []string{
		"0001234-56.2023.8.26.0100",
		"7654321-00.2021.8.19.0001",
	})

	// Воркер умер, не вернув task: CLAIMED старше порога.
	stale := domain.NewTask(req.ID, "0001234-56.2023.8.26.0100", req.Portal)
	stale.Status = domain.TaskStatusClaimed
	stale.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)

	// Живой захват трогать нельзя.
	fresh := domain.NewTask(req.ID, "7654321-00.2021.8.19.0001", req.Portal)
	fresh.Status = domain.TaskStatusClaimed

	tasks := &fakeTaskStore{}
	if _, err := tasks.CreateBatch(context.Background(), []*domain.Task{stale, fresh}); err != nil {
		t.Fatalf("seed tasks: %v", err)
	}

	d := newTestDispatcher(t, newFakeRequestStore(req), tasks, newFakeEventStore(), nil)
	d.reconcile(context.Background())

	if got := tasks.get(stale.ID).Status; got != domain.TaskStatusPending {
		t.Errorf("stale claim should return to PENDING, got %s", got)
	}
	if got := tasks.get(fresh.ID).Status; got != domain.TaskStatusClaimed {
		t.Errorf("fresh claim must stay CLAIMED, got %s", got)
	}
}

func TestReconcile_FinalizesStalledRequest(t *testing.T) {
	req := domain.NewRequest("client-1", domain.PortalElawCogna, []string{"0001234-56.2023.8.26.0100"})
	req.Status = domain.RequestStatusRunning
	req.ItemsProcessed = 1
	req.ItemsSucceeded = 1
	req.Results = []domain.ItemResult{{
		CaseNumber: "0001234-56.2023.8.26.0100",
		Outcome:    domain.ItemOutcomeSucceeded,
		Artifacts:  []domain.ArtifactRef{{Key: "k", Name: "doc.pdf"}},
	}}

	requests := newFakeRequestStore(req)
	events := newFakeEventStore()
	d := newTestDispatcher(t, requests, &fakeTaskStore{}, events, nil)

	d.reconcile(context.Background())

	finalized, _ := requests.GetByID(context.Background(), req.ID)
	if finalized.Status != domain.RequestStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", finalized.Status)
	}

	// Реконсиляция публикует REQUEST_COMPLETED.
	var completions int
	for _, ev := range events.events {
		if ev.Type == domain.EventRequestCompleted {
			completions++
		}
	}
	if completions != 1 {
		t.Errorf("expected 1 completion event, got %d", completions)
	}
}

func TestReconcile_IgnoresUnfinishedRequests(t *testing.T) {
	req := domain.NewRequest("client-1", domain.PortalElawCogna, []string{
		"0001234-56.2023.8.26.0100",
		"7654321-00.2021.8.19.0001",
	})
	req.Status = domain.RequestStatusRunning
	req.ItemsProcessed = 1
	req.ItemsSucceeded = 1

	requests := newFakeRequestStore(req)
	d := newTestDispatcher(t, requests, &fakeTaskStore{}, newFakeEventStore(), nil)

	d.reconcile(context.Background())

	current, _ := requests.GetByID(context.Background(), req.ID)
	if current.Status != domain.RequestStatusRunning {
		t.Errorf("half-done request must stay RUNNING, got %s", current.Status)
	}
}

// --- Config Tests ---

func TestNew_DefaultConfig(t *testing.T) {
	d, err := New(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.pollInterval != defaultPollInterval {
		t.Errorf("expected default poll interval %v, got %v", defaultPollInterval, d.pollInterval)
	}
	if d.eventLease != defaultEventLease {
		t.Errorf("expected default lease %v, got %v", defaultEventLease, d.eventLease)
	}
	if d.batchSize != defaultBatchSize {
		t.Errorf("expected default batch size %d, got %d", defaultBatchSize, d.batchSize)
	}
	if d.staleClaimAfter != defaultStaleClaimAfter {
		t.Errorf("expected default stale claim age %v, got %v", defaultStaleClaimAfter, d.staleClaimAfter)
	}
}

func TestNew_CronSchedule(t *testing.T) {
	d, err := New(Config{CronExpr: "*/5 * * * *"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.cronSchedule == nil {
		t.Error("cron schedule should be set")
	}
}

func TestNew_InvalidCron(t *testing.T) {
	if _, err := New(Config{CronExpr: "not a cron"}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestDispatcher_IsStopped(t *testing.T) {
	d, _ := New(Config{})

	if d.IsStopped() {
		t.Error("should not be stopped initially")
	}

	d.stoppedMu.Lock()
	d.stopped = true
	d.stoppedMu.Unlock()

	if !d.IsStopped() {
		t.Error("should be stopped")
	}
}
