package runtimeresource

import (
	"errors"
	"strings"
	"testing"
)

func TestClassifyErrorMessage(t *testing.T) {
	tests := []struct {
		msg          string
		wantCategory string
	}{
		{"AccessDeniedException: not authorized to perform bedrock-agentcore:CreateAgentRuntime", ErrCategoryValidation},
		{"operation error: ThrottlingException: rate exceeded", ErrCategoryTransient},
		{"dial tcp 10.0.0.1:443: connection refused", ErrCategoryTransient},
		{"context deadline exceeded", ErrCategoryTimeout},
		{"context canceled", ErrCategoryInternal},
		{"ValidationException: container URI is malformed", ErrCategoryValidation},
		{"something else entirely", ErrCategoryInternal},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			category, _ := classifyErrorMessage(tt.msg)
			if category != tt.wantCategory {
				t.Errorf("classifyErrorMessage(%q) = %q, want %q", tt.msg, category, tt.wantCategory)
			}
		})
	}
}

func TestCancellationIsNotReportedAsTimeout(t *testing.T) {
	category, _ := classifyErrorMessage("GetAgentRuntime \"rt-123\": context canceled")
	if category == ErrCategoryTimeout {
		t.Error("caller cancellation must not be classified as budget exhaustion")
	}
}

func TestReconcileErrorMessage(t *testing.T) {
	err := &ReconcileError{
		Category:    ErrCategoryConflict,
		Operation:   "update",
		Runtime:     "jobsearch_agent",
		Message:     "runtime is in status CREATE_FAILED",
		Remediation: hintResolveConflict,
	}
	msg := err.Error()
	for _, want := range []string{"update", "jobsearch_agent", "conflict", "CREATE_FAILED", hintResolveConflict} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}

func TestReconcileErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := newControlPlaneError("create", "jobsearch_agent", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}

func TestTimeoutErrorMentionsTimeoutAndStatus(t *testing.T) {
	err := newTimeoutError("create", "jobsearch_agent", StatusCreating)
	if !strings.Contains(strings.ToLower(err.Error()), "timeout") {
		t.Errorf("timeout error %q does not contain the word timeout", err)
	}
	if !strings.Contains(err.Error(), string(StatusCreating)) {
		t.Errorf("timeout error %q does not include the last observed status", err)
	}

	unknown := newTimeoutError("delete", "jobsearch_agent", "")
	if !strings.Contains(unknown.Error(), "unknown") {
		t.Errorf("timeout error without status %q should report unknown", unknown)
	}
}

func TestFailureReasonNeverEmpty(t *testing.T) {
	if failureReason(nil) == "" {
		t.Error("failureReason(nil) must not be empty")
	}
	if failureReason(errors.New("boom")) != "boom" {
		t.Error("plain errors should pass through")
	}
	re := newValidationError("ContainerUri", "is required")
	if failureReason(re) == "" {
		t.Error("structured errors must render to a non-empty reason")
	}
}
