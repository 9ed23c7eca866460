package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Caseflow/internal/domain"
)

// LocalStore — хранилище артефактов на локальном диске.
//
// Раскладка: <root>/<request_id>/<safe_case_number>/<file>. Временные
// ссылки подписываются HMAC-SHA256: подделка ключа или срока действия
// ломает подпись.
type LocalStore struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
}

// LocalStoreConfig — конфигурация LocalStore.
type LocalStoreConfig struct {
	// Root — корневая директория хранилища.
	Root string

	// BaseURL — внешний адрес API для построения ссылок.
	BaseURL string

	// Secret — ключ подписи временных ссылок.
	Secret string

	// Now — источник времени (для тестов). По умолчанию time.Now.
	Now func() time.Time
}

// NewLocalStore создаёт LocalStore и корневую директорию.
func NewLocalStore(cfg LocalStoreConfig) (*LocalStore, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("storage: sign secret is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &LocalStore{
		root:    cfg.Root,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  []byte(cfg.Secret),
		now:     now,
	}, nil
}

// Save копирует локальный файл бота в хранилище.
func (s *LocalStore) Save(ctx context.Context, requestID uuid.UUID, caseNumber string, artifact domain.Artifact) (domain.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.ArtifactRef{}, err
	}

	name := artifact.DisplayName
	if name == "" {
		name = filepath.Base(artifact.LocalPath)
	}

	key := buildKey(requestID, caseNumber, name)
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("create artifact dir: %w", err)
	}

	size, err := copyFile(artifact.LocalPath, dst)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("store artifact %s: %w", key, err)
	}

	return domain.ArtifactRef{
		Key:      key,
		Name:     name,
		Category: artifact.Category,
		Size:     size,
	}, nil
}

// Open открывает артефакт на чтение.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	path, err := s.resolve(key)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, ErrArtifactNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open artifact %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat artifact %s: %w", key, err)
	}
	return f, info.Size(), nil
}

// ListByRequest возвращает ссылки на все артефакты request.
func (s *LocalStore) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]domain.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := filepath.Join(s.root, requestID.String())
	var refs []domain.ArtifactRef

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		refs = append(refs, domain.ArtifactRef{
			Key:  filepath.ToSlash(rel),
			Name: d.Name(),
			Size: info.Size(),
		})
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list artifacts for %s: %w", requestID, err)
	}
	return refs, nil
}

// SignedURL выдаёт временную подписанную ссылку на артефакт.
func (s *LocalStore) SignedURL(key string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(key); err != nil {
		return "", err
	}

	expires := s.now().Add(ttl).Unix()
	sig := s.sign(key, expires)

	return fmt.Sprintf("%s/api/v1/artifacts/%s?expires=%d&sig=%s",
		s.baseURL, escapeKey(key), expires, sig), nil
}

// escapeKey кодирует сегменты ключа, сохраняя разделители пути.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Verify проверяет подпись и срок действия параметров ссылки.
func (s *LocalStore) Verify(key string, expires int64, signature string) error {
	expected := s.sign(key, expires)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	if s.now().Unix() > expires {
		return ErrLinkExpired
	}
	return nil
}

// sign вычисляет HMAC-SHA256 от пары (key, expires).
func (s *LocalStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// resolve превращает ключ в путь внутри root, отклоняя выход наружу.
func (s *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrArtifactNotFound
	}
	return filepath.Join(s.root, clean), nil
}

// buildKey строит ключ артефакта.
func buildKey(requestID uuid.UUID, caseNumber, name string) string {
	return fmt.Sprintf("%s/%s/%s", requestID, domain.SafeCaseNumber(caseNumber), filepath.Base(name))
}

// copyFile копирует файл и возвращает количество записанных байт.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}
	return n, out.Close()
}
