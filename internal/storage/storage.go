// Package storage отвечает за долговременное хранение артефактов
// (скачанных документов) и выдачу временных ссылок на них.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Caseflow/internal/domain"
)

// Ошибки хранилища.
var (
	// ErrArtifactNotFound — артефакт с таким ключом не найден.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrBadSignature — подпись временной ссылки не сошлась.
	ErrBadSignature = errors.New("bad url signature")

	// ErrLinkExpired — срок действия временной ссылки истёк.
	ErrLinkExpired = errors.New("url expired")
)

// Store — хранилище артефактов.
//
// Ключ артефакта строится из request ID, номера процесса и имени файла;
// он же используется во временных ссылках.
type Store interface {
	// Save кладёт локальный файл бота в хранилище и возвращает ссылку.
	Save(ctx context.Context, requestID uuid.UUID, caseNumber string, artifact domain.Artifact) (domain.ArtifactRef, error)

	// Open открывает артефакт на чтение по ключу.
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// ListByRequest возвращает ссылки на все артефакты request.
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.ArtifactRef, error)

	// SignedURL выдаёт временную подписанную ссылку на артефакт.
	SignedURL(key string, ttl time.Duration) (string, error)

	// Verify проверяет подпись и срок действия параметров ссылки.
	Verify(key string, expires int64, signature string) error
}
