package domain

import "testing"

// --- ComputeFinalStatus Tests ---

func TestComputeFinalStatus(t *testing.T) {
	tests := []struct {
		name           string
		total          int
		succeeded      int
		failed         int
		documentsFound bool
		expected       RequestStatus
	}{
		{"all succeeded with documents", 3, 3, 0, true, RequestStatusCompleted},
		{"all failed", 3, 0, 3, false, RequestStatusFailed},
		{"mixed success and failure", 3, 2, 1, true, RequestStatusCompleted},
		{"one success among failures", 5, 1, 4, true, RequestStatusCompleted},
		{"all not found", 2, 2, 0, false, RequestStatusPartialNoResults},
		{"not found mixed with failures", 3, 2, 1, false, RequestStatusPartialNoResults},
		{"single item failed", 1, 0, 1, false, RequestStatusFailed},
		{"single item succeeded", 1, 1, 0, true, RequestStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeFinalStatus(tt.total, tt.succeeded, tt.failed, tt.documentsFound)
			if got != tt.expected {
				t.Errorf("ComputeFinalStatus(%d, %d, %d, %v) = %s, expected %s",
					tt.total, tt.succeeded, tt.failed, tt.documentsFound, got, tt.expected)
			}
		})
	}
}

func TestComputeFinalStatus_FailedTakesPrecedence(t *testing.T) {
	// failed == total всегда даёт FAILED — порядок веток фиксирован.
	got := ComputeFinalStatus(2, 0, 2, false)
	if got != RequestStatusFailed {
		t.Errorf("expected FAILED, got %s", got)
	}
}

// --- Terminal Status Tests ---

func TestRequestStatus_IsTerminal(t *testing.T) {
	terminal := []RequestStatus{
		RequestStatusCompleted,
		RequestStatusFailed,
		RequestStatusPartialNoResults,
		RequestStatusCancelled,
	}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	active := []RequestStatus{RequestStatusPending, RequestStatusRunning}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	if !TaskStatusCompleted.IsTerminal() {
		t.Error("COMPLETED should be terminal")
	}
	if !TaskStatusFailed.IsTerminal() {
		t.Error("FAILED should be terminal")
	}
	if TaskStatusPending.IsTerminal() {
		t.Error("PENDING should not be terminal")
	}
	if TaskStatusClaimed.IsTerminal() {
		t.Error("CLAIMED should not be terminal")
	}
}
