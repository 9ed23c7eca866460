// Package dispatcher превращает события журнала в работу: по REQUEST_CREATED
// создаёт tasks и раздаёт их воркерам, по зависшим requests доводит
// финализацию.
//
// Работает в двух режимах одновременно: подписка на RabbitMQ (низкая
// задержка) и периодический обход журнала (гарантия доставки). Оба пути
// сходятся в одну идемпотентную обработку, поэтому повторная доставка
// события безопасна.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Caseflow/internal/domain"
	"github.com/shaiso/Caseflow/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval = 5 * time.Minute
	defaultEventLease   = 10 * time.Minute
	defaultBatchSize    = 100

	// defaultStaleClaimAfter — порог возврата зависших CLAIMED tasks;
	// должен превышать жёсткий потолок выполнения воркера (30m).
	defaultStaleClaimAfter = 45 * time.Minute
)

// cronParser — парсер cron-выражений для расписания циклов.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RequestStore — операции над requests, нужные dispatcher'у.
// Реализуется repo.RequestRepo; в тестах подменяется фейком.
type RequestStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error)
	ListStalled(ctx context.Context, limit int) ([]domain.Request, error)
	TryFinalize(ctx context.Context, id uuid.UUID) (domain.RequestStatus, error)
}

// TaskStore — операции над tasks, нужные dispatcher'у.
type TaskStore interface {
	CreateBatch(ctx context.Context, tasks []*domain.Task) (int, error)
	ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]domain.Task, error)
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// EventStore — операции над журналом событий.
type EventStore interface {
	Publish(ctx context.Context, ev *domain.Event) error
	ListUnprocessed(ctx context.Context, limit int) ([]domain.Event, error)
	Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (bool, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, success bool, errMsg string) error
}

// TaskNotifier — публикация сигналов о готовых tasks.
// Реализуется mq.Publisher; nil означает polling-only режим.
type TaskNotifier interface {
	PublishTaskReady(ctx context.Context, taskID, requestID uuid.UUID) error
}

// Dispatcher обрабатывает журнал событий.
type Dispatcher struct {
	requests RequestStore
	tasks    TaskStore
	events   EventStore

	notifier TaskNotifier
	conn     *mq.Connection
	consumer *mq.Consumer

	pollInterval    time.Duration
	cronSchedule    cron.Schedule
	eventLease      time.Duration
	staleClaimAfter time.Duration
	batchSize       int

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Dispatcher.
type Config struct {
	RequestStore RequestStore
	TaskStore    TaskStore
	EventStore   EventStore

	// Notifier — публикация task.ready (nil в polling-only режиме).
	Notifier TaskNotifier

	// Conn — соединение с RabbitMQ (nil в polling-only режиме).
	Conn *mq.Connection

	// PollInterval — период обхода журнала (default: 5m).
	PollInterval time.Duration

	// CronExpr — альтернатива PollInterval, cron-выражение расписания
	// циклов. Имеет приоритет, если задано.
	CronExpr string

	// EventLease — срок аренды события (default: 10m).
	EventLease time.Duration

	// StaleClaimAfter — возраст CLAIMED task, после которого она
	// считается брошенной умершим воркером (default: 45m).
	StaleClaimAfter time.Duration

	// BatchSize — количество событий за цикл (default: 100).
	BatchSize int

	Logger *slog.Logger
}

// New создаёт новый Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	eventLease := cfg.EventLease
	if eventLease <= 0 {
		eventLease = defaultEventLease
	}

	staleClaimAfter := cfg.StaleClaimAfter
	if staleClaimAfter <= 0 {
		staleClaimAfter = defaultStaleClaimAfter
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var schedule cron.Schedule
	if cfg.CronExpr != "" {
		var err error
		schedule, err = cronParser.Parse(cfg.CronExpr)
		if err != nil {
			return nil, err
		}
	}

	return &Dispatcher{
		requests:        cfg.RequestStore,
		tasks:           cfg.TaskStore,
		events:          cfg.EventStore,
		notifier:        cfg.Notifier,
		conn:            cfg.Conn,
		pollInterval:    pollInterval,
		cronSchedule:    schedule,
		eventLease:      eventLease,
		staleClaimAfter: staleClaimAfter,
		batchSize:       batchSize,
		logger:          logger,
	}, nil
}

// Start запускает Dispatcher.
//
// Запускает consumer для requests.created (если есть MQ) и цикл
// обхода журнала.
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancelFunc = cancel

	d.logger.Info("starting dispatcher",
		"poll_interval", d.pollInterval,
		"event_lease", d.eventLease,
		"batch_size", d.batchSize,
		"mq", d.conn != nil,
	)

	if d.conn != nil {
		d.consumer = mq.NewConsumer(d.conn, d.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueRequestsCreated),
			Handler:  d.handleRequestCreated,
			Prefetch: 10,
		})

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("request consumer error", "error", err)
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pollLoop(ctx)
	}()

	d.logger.Info("dispatcher started")
	return nil
}

// Stop останавливает Dispatcher.
func (d *Dispatcher) Stop() {
	d.stoppedMu.Lock()
	d.stopped = true
	d.stoppedMu.Unlock()

	d.logger.Info("stopping dispatcher...")

	if d.cancelFunc != nil {
		d.cancelFunc()
	}
	if d.consumer != nil {
		d.consumer.Stop()
	}

	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// IsStopped проверяет, остановлен ли Dispatcher.
func (d *Dispatcher) IsStopped() bool {
	d.stoppedMu.RLock()
	defer d.stoppedMu.RUnlock()
	return d.stopped
}

// pollLoop — цикл обхода журнала.
// Первый цикл — сразу при старте, чтобы подхватить события, созданные
// пока dispatcher был выключен.
func (d *Dispatcher) pollLoop(ctx context.Context) {
	d.runCycle(ctx)

	if d.cronSchedule != nil {
		d.cronLoop(ctx)
		return
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

// cronLoop запускает циклы по cron-расписанию.
func (d *Dispatcher) cronLoop(ctx context.Context) {
	for {
		next := d.cronSchedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			d.runCycle(ctx)
		}
	}
}
