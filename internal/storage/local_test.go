package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Caseflow/internal/domain"
)

const testCaseNumber = "0001234-56.2023.8.26.0100"

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(LocalStoreConfig{
		Root:    t.TempDir(),
		BaseURL: "http://localhost:8080",
		Secret:  "test-secret",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func writeBotFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write bot file: %v", err)
	}
	return path
}

// --- Save / Open Tests ---

func TestSaveAndOpen(t *testing.T) {
	store := newTestStore(t)
	requestID := uuid.New()
	local := writeBotFile(t, "pdf content")

	ref, err := store.Save(context.Background(), requestID, testCaseNumber, domain.Artifact{
		LocalPath:   local,
		DisplayName: "sentença.pdf",
		Category:    "sentença",
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if ref.Name != "sentença.pdf" {
		t.Errorf("unexpected name: %s", ref.Name)
	}
	if ref.Size != int64(len("pdf content")) {
		t.Errorf("unexpected size: %d", ref.Size)
	}
	if !strings.HasPrefix(ref.Key, requestID.String()+"/") {
		t.Errorf("key should start with request id: %s", ref.Key)
	}
	// Точки и дефисы номера процесса в ключе заменены.
	if strings.Contains(ref.Key, testCaseNumber) {
		t.Errorf("raw case number must not appear in key: %s", ref.Key)
	}

	rc, size, err := store.Open(context.Background(), ref.Key)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "pdf content" {
		t.Errorf("unexpected content: %q", data)
	}
	if size != ref.Size {
		t.Errorf("size mismatch: %d vs %d", size, ref.Size)
	}
}

func TestSave_MissingSource(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save(context.Background(), uuid.New(), testCaseNumber, domain.Artifact{
		LocalPath:   "/nonexistent/file.pdf",
		DisplayName: "file.pdf",
	})
	if err == nil {
		t.Error("expected error for missing source file")
	}
}

func TestOpen_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Open(context.Background(), uuid.New().String()+"/case/missing.pdf")
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestOpen_PathTraversal(t *testing.T) {
	store := newTestStore(t)

	for _, key := range []string{
		"../outside.txt",
		"a/../../outside.txt",
		"/etc/passwd",
		".",
	} {
		_, _, err := store.Open(context.Background(), key)
		if !errors.Is(err, ErrArtifactNotFound) {
			t.Errorf("key %q: expected ErrArtifactNotFound, got %v", key, err)
		}
	}
}

func TestListByRequest(t *testing.T) {
	store := newTestStore(t)
	requestID := uuid.New()

	for _, name := range []string{"a.pdf", "b.pdf"} {
		local := writeBotFile(t, "x")
		if _, err := store.Save(context.Background(), requestID, testCaseNumber, domain.Artifact{
			LocalPath:   local,
			DisplayName: name,
		}); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}

	refs, err := store.ListByRequest(context.Background(), requestID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(refs) != 2 {
		t.Errorf("expected 2 artifacts, got %d", len(refs))
	}

	// Чужой request — пусто, не ошибка.
	other, err := store.ListByRequest(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("list for unknown request: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no artifacts, got %d", len(other))
	}
}

// --- Signed URL Tests ---

func TestSignedURL_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	key := uuid.New().String() + "/case/doc.pdf"

	u, err := store.SignedURL(key, time.Hour)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if !strings.Contains(u, "expires=") || !strings.Contains(u, "sig=") {
		t.Errorf("url missing signature params: %s", u)
	}
	if !strings.HasPrefix(u, "http://localhost:8080/api/v1/artifacts/") {
		t.Errorf("unexpected url prefix: %s", u)
	}

	// Извлекаем expires и sig из URL и проверяем подпись.
	expires := store.now().Add(time.Hour).Unix()
	sig := store.sign(key, expires)
	if err := store.Verify(key, expires, sig); err != nil {
		t.Errorf("verify failed: %v", err)
	}
}

func TestVerify_TamperedKey(t *testing.T) {
	store := newTestStore(t)
	expires := time.Now().Add(time.Hour).Unix()
	sig := store.sign("request/case/doc.pdf", expires)

	err := store.Verify("request/case/other.pdf", expires, sig)
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerify_TamperedExpiry(t *testing.T) {
	store := newTestStore(t)
	key := "request/case/doc.pdf"
	sig := store.sign(key, time.Now().Add(time.Minute).Unix())

	// Продлеваем срок без переподписи.
	err := store.Verify(key, time.Now().Add(time.Hour).Unix(), sig)
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	now := time.Now()
	store, err := NewLocalStore(LocalStoreConfig{
		Root:    t.TempDir(),
		BaseURL: "http://localhost:8080",
		Secret:  "test-secret",
		Now:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	key := "request/case/doc.pdf"
	expires := now.Add(time.Minute).Unix()
	sig := store.sign(key, expires)

	if err := store.Verify(key, expires, sig); err != nil {
		t.Fatalf("fresh link should verify: %v", err)
	}

	// Сдвигаем часы за срок действия: подпись сходится, но ссылка истекла.
	now = now.Add(2 * time.Minute)
	if err := store.Verify(key, expires, sig); !errors.Is(err, ErrLinkExpired) {
		t.Errorf("expected ErrLinkExpired, got %v", err)
	}
}

func TestSignedURL_EscapesKey(t *testing.T) {
	store := newTestStore(t)
	key := "req/case/file with spaces.pdf"

	u, err := store.SignedURL(key, time.Hour)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if strings.Contains(u, " ") {
		t.Errorf("url must not contain raw spaces: %s", u)
	}
	// Разделители пути сохраняются, чтобы ключ матчился wildcard-маршрутом.
	if !strings.Contains(u, "/api/v1/artifacts/req/case/") {
		t.Errorf("path separators should survive escaping: %s", u)
	}
}

func TestNewLocalStore_RequiresSecret(t *testing.T) {
	_, err := NewLocalStore(LocalStoreConfig{Root: t.TempDir()})
	if err == nil {
		t.Error("expected error for missing secret")
	}
}
