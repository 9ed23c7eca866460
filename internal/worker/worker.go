// Package worker выполняет tasks: прогоняет автоматизацию портала по
// номеру процесса, складывает документы в хранилище и записывает
// результат в родительский request.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Caseflow/internal/automation"
	"github.com/shaiso/Caseflow/internal/domain"
	"github.com/shaiso/Caseflow/internal/mq"
	"github.com/shaiso/Caseflow/internal/storage"
)

// Default configuration values.
const (
	defaultPollInterval  = time.Minute
	defaultBatchSize     = 50
	defaultPrefetch      = 5
	defaultMaxAttempts   = 3
	defaultRetryBackoff  = time.Minute
	defaultSoftTimeLimit = 25 * time.Minute
	defaultHardTimeLimit = 30 * time.Minute
	defaultRecordTries   = 3
	defaultRecordBackoff = 2 * time.Second
)

// TaskStore — операции над tasks, нужные воркеру.
// Реализуется repo.TaskRepo; в тестах подменяется фейком.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	Release(ctx context.Context, id uuid.UUID, errMsg string) error
	Update(ctx context.Context, t *domain.Task) error
	ListPending(ctx context.Context, limit int) ([]domain.Task, error)
}

// RequestStore — операции над requests, нужные воркеру.
type RequestStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error)
	ClaimForExecution(ctx context.Context, id uuid.UUID) (bool, error)
	RecordItemResult(ctx context.Context, id uuid.UUID, item domain.ItemResult) error
	TryFinalize(ctx context.Context, id uuid.UUID) (domain.RequestStatus, error)
}

// EventStore — публикация событий в журнал.
type EventStore interface {
	Publish(ctx context.Context, ev *domain.Event) error
}

// Worker выполняет tasks.
//
// Stateless: вся истина в БД, воркеры масштабируются горизонтально и
// потребляют из одной очереди. Гонки за task разрешает условный UPDATE
// в Claim.
type Worker struct {
	tasks    TaskStore
	requests RequestStore
	events   EventStore

	registry *automation.Registry
	store    storage.Store

	conn     *mq.Connection
	consumer *mq.Consumer

	pollInterval  time.Duration
	batchSize     int
	maxAttempts   int
	retryBackoff  time.Duration
	softTimeLimit time.Duration
	hardTimeLimit time.Duration
	recordTries   int
	recordBackoff time.Duration

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	TaskStore    TaskStore
	RequestStore RequestStore
	EventStore   EventStore

	// Registry — реестр автоматизаций по порталам.
	Registry *automation.Registry

	// Store — хранилище артефактов.
	Store storage.Store

	// Conn — соединение с RabbitMQ (nil в polling-only режиме).
	Conn *mq.Connection

	// PollInterval — интервал polling fallback (default: 1m).
	PollInterval time.Duration

	// BatchSize — количество tasks за один poll (default: 50).
	BatchSize int

	// MaxAttempts — бюджет попыток автоматизации на task (default: 3).
	MaxAttempts int

	// RetryBackoff — базовая задержка между попытками; растёт линейно
	// с номером попытки (default: 1m).
	RetryBackoff time.Duration

	// SoftTimeLimit — порог предупреждения о долгой задаче (default: 25m).
	SoftTimeLimit time.Duration

	// HardTimeLimit — жёсткий потолок выполнения task (default: 30m).
	HardTimeLimit time.Duration

	// RecordAttempts — попытки записи результата в request (default: 3).
	RecordAttempts int

	// RecordBackoff — задержка между попытками записи (default: 2s).
	RecordBackoff time.Duration

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}

	softTimeLimit := cfg.SoftTimeLimit
	if softTimeLimit <= 0 {
		softTimeLimit = defaultSoftTimeLimit
	}

	hardTimeLimit := cfg.HardTimeLimit
	if hardTimeLimit <= 0 {
		hardTimeLimit = defaultHardTimeLimit
	}

	recordTries := cfg.RecordAttempts
	if recordTries <= 0 {
		recordTries = defaultRecordTries
	}

	recordBackoff := cfg.RecordBackoff
	if recordBackoff <= 0 {
		recordBackoff = defaultRecordBackoff
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		tasks:         cfg.TaskStore,
		requests:      cfg.RequestStore,
		events:        cfg.EventStore,
		registry:      cfg.Registry,
		store:         cfg.Store,
		conn:          cfg.Conn,
		pollInterval:  pollInterval,
		batchSize:     batchSize,
		maxAttempts:   maxAttempts,
		retryBackoff:  retryBackoff,
		softTimeLimit: softTimeLimit,
		hardTimeLimit: hardTimeLimit,
		recordTries:   recordTries,
		recordBackoff: recordBackoff,
		logger:        logger,
	}
}

// Start запускает Worker.
//
// Запускает consumer для tasks.ready (если есть MQ) и polling fallback.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"max_attempts", w.maxAttempts,
		"hard_time_limit", w.hardTimeLimit,
		"mq", w.conn != nil,
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueTasksReady),
			Handler:  w.handleTaskReady,
			Prefetch: defaultPrefetch,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("task consumer error", "error", err)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — polling fallback: подбирает PENDING tasks, чьи сигналы
// task.ready потерялись (или MQ вовсе нет).
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте.
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	tasks, err := w.tasks.ListPending(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list pending tasks", "error", err)
		return
	}

	if len(tasks) == 0 {
		return
	}

	w.logger.Debug("poll found pending tasks", "count", len(tasks))

	for i := range tasks {
		if ctx.Err() != nil {
			return
		}

		if err := w.processTask(ctx, tasks[i].ID); err != nil {
			if errors.Is(err, ErrTaskNotPending) {
				// Другой воркер успел первым.
				continue
			}
			w.logger.Error("failed to process task from poll",
				"task_id", tasks[i].ID,
				"error", err,
			)
		}
	}
}
