package runtimeresource

import (
	"errors"
	"fmt"
	"strings"
)

// Error category constants classify reconciliation failures for the
// Reason string reported back to CloudFormation.
const (
	ErrCategoryValidation = "validation"
	ErrCategoryTransient  = "transient"
	ErrCategoryConflict   = "conflict"
	ErrCategoryTimeout    = "timeout"
	ErrCategoryInternal   = "internal"
)

// ReconcileError is a structured error describing why a lifecycle
// operation failed. It carries the failed operation, an error category,
// and a human-readable remediation hint.
type ReconcileError struct {
	// Category classifies the failure (e.g. "validation", "timeout").
	Category string
	// Operation is the lifecycle action that failed ("create", "update", "delete").
	Operation string
	// Runtime is the agent runtime name the operation targeted.
	Runtime string
	// Message is the primary error description.
	Message string
	// Remediation is a hint on how to fix the issue.
	Remediation string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface with a diagnostic-rich message.
func (e *ReconcileError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s agent runtime %q failed (%s)", e.Operation, e.Runtime, e.Category)
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (cause: %v)", e.Cause)
	}
	if e.Remediation != "" {
		fmt.Fprintf(&b, " [hint: %s]", e.Remediation)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ReconcileError) Unwrap() error {
	return e.Cause
}

// newValidationError reports a malformed or missing desired property.
// Validation failures are never retried.
func newValidationError(field, message string) *ReconcileError {
	return &ReconcileError{
		Category:    ErrCategoryValidation,
		Operation:   "validate",
		Message:     fmt.Sprintf("%s: %s", field, message),
		Remediation: hintCheckProperties,
	}
}

// newConflictError reports observed external state that contradicts the
// requested transition, such as a runtime already in a failed status.
func newConflictError(operation, runtime string, observed RuntimeStatus, reason string) *ReconcileError {
	msg := fmt.Sprintf("runtime is in status %s", observed)
	if reason != "" {
		msg += ": " + reason
	}
	return &ReconcileError{
		Category:    ErrCategoryConflict,
		Operation:   operation,
		Runtime:     runtime,
		Message:     msg,
		Remediation: hintResolveConflict,
	}
}

// newTimeoutError reports an exhausted polling budget. The message always
// contains the word "timeout" and the last observed status so the stack
// operator can see how far reconciliation got.
func newTimeoutError(operation, runtime string, last RuntimeStatus) *ReconcileError {
	lastStr := string(last)
	if lastStr == "" {
		lastStr = "unknown"
	}
	return &ReconcileError{
		Category:    ErrCategoryTimeout,
		Operation:   operation,
		Runtime:     runtime,
		Message:     fmt.Sprintf("timeout waiting for terminal status (last observed: %s)", lastStr),
		Remediation: hintRetryStackOperation,
	}
}

// newControlPlaneError wraps a control-plane API failure, classifying it
// for the Reason string.
func newControlPlaneError(operation, runtime string, cause error) *ReconcileError {
	category, remediation := classifyErrorMessage(cause.Error())
	return &ReconcileError{
		Category:    category,
		Operation:   operation,
		Runtime:     runtime,
		Message:     cause.Error(),
		Remediation: remediation,
		Cause:       cause,
	}
}

// classifyErrorMessage determines category and remediation from an error string.
func classifyErrorMessage(msg string) (category, remediation string) {
	lower := strings.ToLower(msg)

	if containsAny(lower, permissionKeywords) {
		return ErrCategoryValidation, hintCheckIAM
	}
	if containsAny(lower, transientKeywords) {
		return ErrCategoryTransient, hintRetryStackOperation
	}
	// Caller cancellation is not budget exhaustion; only the reconciler's
	// own deadline handling reports a timeout.
	if strings.Contains(lower, "context canceled") {
		return ErrCategoryInternal, hintRetryStackOperation
	}
	if containsAny(lower, timeoutKeywords) {
		return ErrCategoryTimeout, hintRetryStackOperation
	}
	if containsAny(lower, validationKeywords) {
		return ErrCategoryValidation, hintCheckProperties
	}
	return ErrCategoryInternal, ""
}

// Keyword groups for error classification.
var (
	permissionKeywords = []string{
		"accessdenied", "access denied", "unauthorized",
		"not authorized", "forbidden",
	}
	transientKeywords = []string{
		"throttl", "too many requests", "connection refused",
		"no such host", "dial tcp", "tls handshake", "service unavailable",
	}
	timeoutKeywords = []string{
		"deadline exceeded", "timeout",
	}
	validationKeywords = []string{
		"validationexception", "invalid", "malformed", "does not match",
	}
)

// Remediation hint constants.
const (
	hintCheckIAM            = "verify the execution role and the handler's IAM permissions for Bedrock AgentCore"
	hintCheckProperties     = "check the custom resource properties in the stack template"
	hintResolveConflict     = "inspect the runtime in the Bedrock AgentCore console and delete or repair it before retrying"
	hintRetryStackOperation = "the control plane may still be converging; retry the stack operation"
)

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// failureReason renders an error into the non-empty Reason string required
// on FAILED responses.
func failureReason(err error) string {
	if err == nil {
		return "reconciliation failed for an unknown reason"
	}
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Error()
	}
	return err.Error()
}
