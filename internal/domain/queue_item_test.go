package domain_test

import (
	"testing"

	"github.com/notifyhub/formsync/internal/domain"
)

func TestEnqueueRequest_Validate(t *testing.T) {
	valid := domain.EnqueueRequest{
		FormID:         "contact-form-7:12",
		SubmissionData: map[string]any{"email": "jane@example.com"},
		Settings:       domain.IntegrationSettings{AudienceID: "a1b2c3"},
		Priority:       domain.PriorityNormal,
	}

	t.Run("valid request passes", func(t *testing.T) {
		r := valid
		if err := r.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("empty priority defaults to normal", func(t *testing.T) {
		r := valid
		r.Priority = ""
		if err := r.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if r.Priority != domain.PriorityNormal {
			t.Fatalf("expected priority=normal, got %q", r.Priority)
		}
	})

	t.Run("invalid priority", func(t *testing.T) {
		r := valid
		r.Priority = "urgent"
		if err := r.Validate(); err != domain.ErrInvalidPriority {
			t.Fatalf("expected ErrInvalidPriority, got %v", err)
		}
	})

	t.Run("missing form id", func(t *testing.T) {
		r := valid
		r.FormID = "  "
		if err := r.Validate(); err != domain.ErrInvalidFormID {
			t.Fatalf("expected ErrInvalidFormID, got %v", err)
		}
	})

	t.Run("empty submission", func(t *testing.T) {
		r := valid
		r.SubmissionData = nil
		if err := r.Validate(); err != domain.ErrEmptySubmission {
			t.Fatalf("expected ErrEmptySubmission, got %v", err)
		}
	})

	t.Run("missing destination", func(t *testing.T) {
		r := valid
		r.Settings.AudienceID = " "
		if err := r.Validate(); err != domain.ErrNoDestination {
			t.Fatalf("expected ErrNoDestination, got %v", err)
		}
	})

	t.Run("blank merge tag", func(t *testing.T) {
		r := valid
		r.Settings.MergeFields = map[string]string{"first-name": ""}
		if err := r.Validate(); err != domain.ErrInvalidMergeSpec {
			t.Fatalf("expected ErrInvalidMergeSpec, got %v", err)
		}
	})
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   domain.Status
		terminal bool
	}{
		{domain.StatusPending, false},
		{domain.StatusProcessing, false},
		{domain.StatusCompleted, true},
		{domain.StatusFailed, true},
	}
	for _, tc := range tests {
		if got := tc.status.IsTerminal(); got != tc.terminal {
			t.Fatalf("%s: expected terminal=%v, got %v", tc.status, tc.terminal, got)
		}
	}
}

func TestOperationResult_Succeeded(t *testing.T) {
	for code, want := range map[int]bool{200: true, 204: true, 299: true, 300: false, 400: false, 422: false, 500: false} {
		if got := (domain.OperationResult{StatusCode: code}).Succeeded(); got != want {
			t.Fatalf("status %d: expected %v, got %v", code, want, got)
		}
	}
}
