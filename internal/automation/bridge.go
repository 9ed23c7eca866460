package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shaiso/Caseflow/internal/domain"
)

const defaultBridgeTimeout = 30 * time.Minute

// Bridge — HTTP-клиент к сервису bot-runner, в котором живут браузерные
// боты порталов. Боты пишут скачанные файлы на общий том и возвращают
// их локальные пути.
type Bridge struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// BridgeConfig — конфигурация Bridge.
type BridgeConfig struct {
	// BaseURL — адрес bot-runner, например http://bot-runner:9400.
	BaseURL string

	// Timeout — общий таймаут одного запроса (по умолчанию 30m:
	// браузерная сессия может идти долго).
	Timeout time.Duration

	// Logger — логгер.
	Logger *slog.Logger
}

// NewBridge создаёт Bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultBridgeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// ForPortal возвращает Automation, привязанную к одному порталу.
func (b *Bridge) ForPortal(portal domain.PortalSystem) Automation {
	return &portalAutomation{bridge: b, portal: portal}
}

// portalAutomation — Automation для одного портала поверх Bridge.
type portalAutomation struct {
	bridge *Bridge
	portal domain.PortalSystem
}

// fetchRequest — тело запроса к bot-runner.
type fetchRequest struct {
	CaseNumber string `json:"case_number"`
}

// fetchResponse — тело ответа bot-runner.
type fetchResponse struct {
	Found     bool `json:"found"`
	Artifacts []struct {
		Path     string `json:"path"`
		Name     string `json:"name"`
		Category string `json:"category"`
	} `json:"artifacts"`
	Error string `json:"error,omitempty"`
}

// Fetch выполняет выгрузку документов через bot-runner.
//
// Классификация ответов:
//   - 200 → Result (found/not found по телу)
//   - 404 → Result{NotFound: true}
//   - 4xx → PermanentError
//   - 5xx, таймаут, сетевая ошибка → TransientError
func (a *portalAutomation) Fetch(ctx context.Context, caseNumber string) (*Result, error) {
	body, err := json.Marshal(fetchRequest{CaseNumber: caseNumber})
	if err != nil {
		return nil, fmt.Errorf("marshal fetch request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/portals/%s/cases", a.bridge.baseURL, a.portal)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create fetch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.bridge.client.Do(req)
	if err != nil {
		// Отмену не маскируем под transient: вызывающий различает их.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &TransientError{Reason: "bot-runner unreachable", Cause: err}
	}
	defer resp.Body.Close()

	a.bridge.logger.Debug("bot-runner responded",
		"portal", a.portal,
		"case_number", caseNumber,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Reason: "read bot-runner response", Cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return parseFetchResponse(respBody)

	case resp.StatusCode == http.StatusNotFound:
		return &Result{NotFound: true}, nil

	case resp.StatusCode >= 500:
		return nil, &TransientError{
			Reason: fmt.Sprintf("bot-runner HTTP %d: %s", resp.StatusCode, truncate(respBody, 200)),
		}

	default:
		return nil, &PermanentError{
			Reason: fmt.Sprintf("bot-runner HTTP %d: %s", resp.StatusCode, truncate(respBody, 200)),
		}
	}
}

// parseFetchResponse разбирает успешный ответ bot-runner.
func parseFetchResponse(body []byte) (*Result, error) {
	var fr fetchResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return nil, &TransientError{Reason: "malformed bot-runner response", Cause: err}
	}

	if !fr.Found {
		return &Result{NotFound: true}, nil
	}

	artifacts := make([]domain.Artifact, 0, len(fr.Artifacts))
	for _, a := range fr.Artifacts {
		artifacts = append(artifacts, domain.Artifact{
			LocalPath:   a.Path,
			DisplayName: a.Name,
			Category:    a.Category,
		})
	}
	return &Result{Artifacts: artifacts}, nil
}

func truncate(b []byte, max int) string {
	s := string(b)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
