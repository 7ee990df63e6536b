package runtimeresource

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestHandler wires a handler over the fake control plane with no AWS
// dependencies. preflight and tracer stay nil unless a test sets them.
func newTestHandler(cp controlPlane) *Handler {
	return &Handler{
		cfg:     testConfig(),
		cp:      cp,
		emitter: newResponseEmitter(""),
	}
}

// handleAndCapture runs the full handler path against a local response
// endpoint and returns the delivered response.
func handleAndCapture(t *testing.T, h *Handler, ev Event) cfnResponse {
	t.Helper()

	captured := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		captured <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ev.ResponseURL = srv.URL
	if err := h.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var body cfnResponse
	if err := json.Unmarshal(<-captured, &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return body
}

func TestHandleCreateSuccessDataComplete(t *testing.T) {
	cp := &fakeControlPlane{statusSeq: []RuntimeStatus{StatusReady}}
	h := newTestHandler(cp)

	body := handleAndCapture(t, h, validEvent(requestTypeCreate))

	if body.Status != responseStatusSuccess {
		t.Fatalf("Status = %q, Reason = %q", body.Status, body.Reason)
	}
	for _, key := range []string{attrRuntimeARN, attrStatus, attrKnowledgeBaseID, attrRegion, attrEnvironment} {
		if body.Data[key] == "" {
			t.Errorf("Data[%s] is missing or empty", key)
		}
	}
	if body.PhysicalResourceID != "rt-123" {
		t.Errorf("PhysicalResourceId = %q", body.PhysicalResourceID)
	}
}

func TestHandleDeliversFailureOnPanic(t *testing.T) {
	cp := &fakeControlPlane{panicOnFind: true}
	h := newTestHandler(cp)

	body := handleAndCapture(t, h, validEvent(requestTypeCreate))

	if body.Status != responseStatusFailed {
		t.Fatalf("Status = %q, want FAILED after panic", body.Status)
	}
	if body.Reason == "" {
		t.Error("panic response must carry a non-empty Reason")
	}
	if body.PhysicalResourceID == "" {
		t.Error("panic response must still carry a physical id")
	}
}

func TestHandleValidationFailure(t *testing.T) {
	h := newTestHandler(&fakeControlPlane{})

	ev := validEvent(requestTypeCreate)
	ev.ResourceProperties.ContainerURI = ""

	body := handleAndCapture(t, h, ev)

	if body.Status != responseStatusFailed {
		t.Fatalf("Status = %q, want FAILED", body.Status)
	}
	if !strings.Contains(body.Reason, "ContainerUri") {
		t.Errorf("Reason %q does not name the invalid field", body.Reason)
	}
}

func TestHandlePreflightBlocksMutations(t *testing.T) {
	cp := &fakeControlPlane{}
	h := newTestHandler(cp)
	h.preflight = func(context.Context, string) error {
		return newValidationError("RoleArn", "role account 111111111111 does not match caller account 123456789012")
	}

	body := handleAndCapture(t, h, validEvent(requestTypeCreate))

	if body.Status != responseStatusFailed {
		t.Fatalf("Status = %q, want FAILED", body.Status)
	}
	if cp.createCalls != 0 {
		t.Error("preflight failure must prevent control-plane mutations")
	}
	if !strings.Contains(body.Reason, "RoleArn") {
		t.Errorf("Reason %q does not mention the role mismatch", body.Reason)
	}
}

func TestHandlePreflightSkippedOnDelete(t *testing.T) {
	cp := &fakeControlPlane{}
	h := newTestHandler(cp)
	h.preflight = func(context.Context, string) error {
		return errors.New("preflight must not run on delete")
	}

	body := handleAndCapture(t, h, validEvent(requestTypeDelete))

	if body.Status != responseStatusSuccess {
		t.Fatalf("Status = %q, Reason = %q", body.Status, body.Reason)
	}
}

func TestHandleUpdateEndToEnd(t *testing.T) {
	cp := &fakeControlPlane{
		exists:    true,
		record:    existingRecord(StatusReady),
		statusSeq: []RuntimeStatus{StatusReady, StatusReady},
	}
	h := newTestHandler(cp)

	ev := validEvent(requestTypeUpdate)
	ev.ResourceProperties.ContainerURI = "123456789012.dkr.ecr.us-east-1.amazonaws.com/agent:v2"

	body := handleAndCapture(t, h, ev)

	if body.Status != responseStatusSuccess {
		t.Fatalf("Status = %q, Reason = %q", body.Status, body.Reason)
	}
	if cp.updateCalls != 1 {
		t.Errorf("updateCalls = %d, want 1", cp.updateCalls)
	}
}
