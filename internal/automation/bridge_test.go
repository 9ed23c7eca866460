package automation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shaiso/Caseflow/internal/domain"
)

const testCaseNumber = "0001234-56.2023.8.26.0100"

func newTestAutomation(t *testing.T, handler http.HandlerFunc) (Automation, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	bridge := NewBridge(BridgeConfig{BaseURL: server.URL})
	return bridge.ForPortal(domain.PortalElawCogna), server
}

// --- Fetch Tests ---

func TestFetch_FoundWithArtifacts(t *testing.T) {
	auto, _ := newTestAutomation(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/portals/ELAW_COGNA/cases" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req struct {
			CaseNumber string `json:"case_number"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.CaseNumber != testCaseNumber {
			t.Errorf("expected case number in body, got %q", req.CaseNumber)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"found": true,
			"artifacts": []map[string]string{
				{"path": "/shared/doc1.pdf", "name": "doc1.pdf", "category": "sentença"},
				{"path": "/shared/doc2.pdf", "name": "doc2.pdf", "category": "petição"},
			},
		})
	})

	result, err := auto.Fetch(context.Background(), testCaseNumber)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NotFound {
		t.Error("result should not be NotFound")
	}
	if len(result.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(result.Artifacts))
	}
	if result.Artifacts[0].LocalPath != "/shared/doc1.pdf" {
		t.Errorf("unexpected path: %s", result.Artifacts[0].LocalPath)
	}
	if result.Artifacts[1].Category != "petição" {
		t.Errorf("unexpected category: %s", result.Artifacts[1].Category)
	}
}

func TestFetch_NotFoundInBody(t *testing.T) {
	auto, _ := newTestAutomation(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"found": false})
	})

	result, err := auto.Fetch(context.Background(), testCaseNumber)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.NotFound {
		t.Error("expected NotFound result")
	}
}

func TestFetch_NotFoundStatus(t *testing.T) {
	auto, _ := newTestAutomation(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	result, err := auto.Fetch(context.Background(), testCaseNumber)
	if err != nil {
		t.Fatalf("404 is a regular 'not found', not an error: %v", err)
	}
	if !result.NotFound {
		t.Error("expected NotFound result")
	}
}

func TestFetch_ServerErrorIsTransient(t *testing.T) {
	auto, _ := newTestAutomation(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := auto.Fetch(context.Background(), testCaseNumber)
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if !IsTransient(err) {
		t.Errorf("5xx should be transient, got %v", err)
	}
}

func TestFetch_ClientErrorIsPermanent(t *testing.T) {
	auto, _ := newTestAutomation(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error": "invalid case number"}`))
	})

	_, err := auto.Fetch(context.Background(), testCaseNumber)
	if err == nil {
		t.Fatal("expected error for 422")
	}
	if !IsPermanent(err) {
		t.Errorf("4xx should be permanent, got %v", err)
	}
	if IsTransient(err) {
		t.Error("permanent error must not be transient")
	}
}

func TestFetch_UnreachableIsTransient(t *testing.T) {
	bridge := NewBridge(BridgeConfig{BaseURL: "http://127.0.0.1:1"})
	auto := bridge.ForPortal(domain.PortalAdvwin)

	_, err := auto.Fetch(context.Background(), testCaseNumber)
	if err == nil {
		t.Fatal("expected error for unreachable bot-runner")
	}
	if !IsTransient(err) {
		t.Errorf("network error should be transient, got %v", err)
	}
}

func TestFetch_ContextCanceled(t *testing.T) {
	auto, _ := newTestAutomation(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := auto.Fetch(ctx, testCaseNumber)
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	// Отмена — не transient: повторять задачу не нужно.
	if IsTransient(err) {
		t.Errorf("cancellation must not be transient: %v", err)
	}
}

func TestFetch_MalformedResponse(t *testing.T) {
	auto, _ := newTestAutomation(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json at all"))
	})

	_, err := auto.Fetch(context.Background(), testCaseNumber)
	if err == nil {
		t.Fatal("expected error for malformed response")
	}
	if !IsTransient(err) {
		t.Errorf("malformed response should be transient, got %v", err)
	}
}

// --- Registry Tests ---

func TestNewRegistry_AllPortals(t *testing.T) {
	bridge := NewBridge(BridgeConfig{BaseURL: "http://bot-runner:9400"})
	r := NewRegistry(bridge)

	for _, portal := range domain.SupportedPortals() {
		auto, err := r.Get(portal)
		if err != nil {
			t.Errorf("expected automation for %s: %v", portal, err)
		}
		if auto == nil {
			t.Errorf("automation for %s should not be nil", portal)
		}
	}
}

func TestRegistry_UnknownPortal(t *testing.T) {
	r := NewRegistryWith(map[domain.PortalSystem]Automation{})

	_, err := r.Get(domain.PortalAdvwin)
	if err == nil {
		t.Error("expected error for unregistered portal")
	}
}

// --- Error Classification Tests ---

func TestIsTransient(t *testing.T) {
	if !IsTransient(&TransientError{Reason: "timeout"}) {
		t.Error("TransientError should be transient")
	}
	if IsTransient(&PermanentError{Reason: "denied"}) {
		t.Error("PermanentError should not be transient")
	}
	if IsTransient(context.Canceled) {
		t.Error("plain error should not be transient")
	}
}
