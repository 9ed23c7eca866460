package api

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Caseflow/internal/storage"
)

// ListRequestArtifacts возвращает артефакты request с временными ссылками.
// GET /api/v1/requests/{id}/artifacts
func (h *Handler) ListRequestArtifacts(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid request id")
		return
	}

	if _, err := h.requests.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "request not found") {
		return
	}

	refs, err := h.store.ListByRequest(r.Context(), id)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	result := make([]ArtifactResponse, 0, len(refs))
	for _, ref := range refs {
		url, err := h.store.SignedURL(ref.Key, h.signedURLTTL)
		if err != nil {
			h.logger.Warn("failed to sign artifact url", "key", ref.Key, "error", err)
			continue
		}
		result = append(result, ArtifactResponse{
			Key:      ref.Key,
			Name:     ref.Name,
			Category: ref.Category,
			Size:     ref.Size,
			URL:      url,
		})
	}
	List(w, result, len(result))
}

// DownloadArtifact отдаёт артефакт по подписанной ссылке.
// GET /api/v1/artifacts/{key...}?expires=...&sig=...
//
// Единственный способ скачать артефакт — действующая подпись; авторизация
// зашита в саму ссылку.
func (h *Handler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		BadRequest(w, "artifact key is required")
		return
	}

	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil {
		BadRequest(w, "invalid expires parameter")
		return
	}
	sig := r.URL.Query().Get("sig")
	if sig == "" {
		BadRequest(w, "sig parameter is required")
		return
	}

	if err := h.store.Verify(key, expires, sig); err != nil {
		switch {
		case errors.Is(err, storage.ErrLinkExpired):
			Gone(w, "url expired")
		case errors.Is(err, storage.ErrBadSignature):
			Forbidden(w, "bad signature")
		default:
			InternalError(w, h.logger, err)
		}
		return
	}

	reader, size, err := h.store.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrArtifactNotFound) {
			NotFound(w, "artifact not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)

	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Warn("failed to stream artifact", "key", key, "error", err)
	}
}
