package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Caseflow/internal/domain"
	"github.com/shaiso/Caseflow/internal/mq"
	"github.com/shaiso/Caseflow/internal/repo"
	"github.com/shaiso/Caseflow/internal/storage"
)

// defaultSignedURLTTL — срок действия временных ссылок на артефакты.
const defaultSignedURLTTL = time.Hour

// RequestStore — операции над requests, нужные API.
type RequestStore interface {
	Create(ctx context.Context, req *domain.Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Request, error)
	List(ctx context.Context, filter repo.RequestFilter) ([]domain.Request, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// TaskStore — операции над tasks, нужные API.
type TaskStore interface {
	ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]domain.Task, error)
}

// EventStore — операции над журналом событий, нужные API.
type EventStore interface {
	Publish(ctx context.Context, ev *domain.Event) error
	ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]domain.Event, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	requests RequestStore
	tasks    TaskStore
	events   EventStore

	store     storage.Store
	publisher *mq.Publisher

	signedURLTTL time.Duration
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	RequestStore RequestStore
	TaskStore    TaskStore
	EventStore   EventStore

	// Store — хранилище артефактов.
	Store storage.Store

	// Publisher — MQ publisher (nil в polling-only режиме).
	Publisher *mq.Publisher

	// SignedURLTTL — срок действия временных ссылок (default: 1h).
	SignedURLTTL time.Duration

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = defaultSignedURLTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		requests:     cfg.RequestStore,
		tasks:        cfg.TaskStore,
		events:       cfg.EventStore,
		store:        cfg.Store,
		publisher:    cfg.Publisher,
		signedURLTTL: ttl,
		logger:       logger,
	}
}
