package runtimeresource

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcorecontrol/types"
)

func TestIsNotFound(t *testing.T) {
	nf := &types.ResourceNotFoundException{Message: strPtr("no such runtime")}
	if !isNotFound(fmt.Errorf("operation error: %w", nf)) {
		t.Error("wrapped ResourceNotFoundException should be detected")
	}
	if isNotFound(errors.New("some other error")) {
		t.Error("plain errors are not not-found")
	}
}

func TestIsConflictError(t *testing.T) {
	if !isConflictError(errors.New("operation error: ConflictException: already exists")) {
		t.Error("ConflictException message should be detected")
	}
	if isConflictError(nil) {
		t.Error("nil is not a conflict")
	}
}

func TestIsTransient(t *testing.T) {
	throttle := &types.ThrottlingException{Message: strPtr("rate exceeded")}
	if !isTransient(fmt.Errorf("call failed: %w", throttle)) {
		t.Error("throttling should be transient")
	}
	internal := &types.InternalServerException{Message: strPtr("oops")}
	if !isTransient(fmt.Errorf("call failed: %w", internal)) {
		t.Error("server errors should be transient")
	}
	if !isTransient(errors.New("dial tcp: connection refused")) {
		t.Error("network errors should be transient")
	}
	if isTransient(errors.New("ValidationException: bad input")) {
		t.Error("validation errors are permanent")
	}
}

func TestExtractAccountFromARN(t *testing.T) {
	tests := []struct {
		arn  string
		want string
	}{
		{"arn:aws:iam::123456789012:role/agent-runtime", "123456789012"},
		{"arn:aws:bedrock-agentcore:us-east-1:123456789012:runtime/rt-123", "123456789012"},
		{"not-an-arn", ""},
	}
	for _, tt := range tests {
		if got := extractAccountFromARN(tt.arn); got != tt.want {
			t.Errorf("extractAccountFromARN(%q) = %q, want %q", tt.arn, got, tt.want)
		}
	}
}

func strPtr(s string) *string {
	return &s
}
