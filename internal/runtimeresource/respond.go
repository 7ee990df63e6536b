package runtimeresource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Response status values expected by CloudFormation.
const (
	responseStatusSuccess = "SUCCESS"
	responseStatusFailed  = "FAILED"
)

// responseTimeout bounds the HTTP PUT that delivers the response. It must
// fit inside the response margin reserved by the handler.
const responseTimeout = 8 * time.Second

// cfnResponse is the wire format CloudFormation expects at the
// pre-signed ResponseURL.
type cfnResponse struct {
	Status             string            `json:"Status"`
	Reason             string            `json:"Reason,omitempty"`
	PhysicalResourceID string            `json:"PhysicalResourceId"`
	StackID            string            `json:"StackId"`
	RequestID          string            `json:"RequestId"`
	LogicalResourceID  string            `json:"LogicalResourceId"`
	Data               map[string]string `json:"Data,omitempty"`
}

// responseEmitter delivers the reconciliation outcome back to
// CloudFormation. Delivery happens exactly once per invocation; a failed
// delivery is logged but not retried — the framework's own timeout is the
// fallback signal.
type responseEmitter struct {
	httpClient *http.Client
	logStream  string
}

// newResponseEmitter builds an emitter. logStream, when known, is woven
// into success reasons so stack operators can find the handler's logs.
func newResponseEmitter(logStream string) *responseEmitter {
	return &responseEmitter{
		httpClient: &http.Client{Timeout: responseTimeout},
		logStream:  logStream,
	}
}

// Emit serializes the outcome and PUTs it to the event's ResponseURL.
func (e *responseEmitter) Emit(ctx context.Context, ev Event, outcome Outcome) error {
	body := cfnResponse{
		Status:             responseStatusSuccess,
		PhysicalResourceID: outcome.PhysicalID,
		StackID:            ev.StackID,
		RequestID:          ev.RequestID,
		LogicalResourceID:  ev.LogicalResourceID,
		Reason:             e.reason(outcome),
	}
	if outcome.Success {
		body.Data = outcome.Attributes
	} else {
		body.Status = responseStatusFailed
	}
	if body.PhysicalResourceID == "" {
		body.PhysicalResourceID = fallbackPhysicalID(ev.ResourceProperties.AgentRuntimeName)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, ev.ResponseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build response request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(payload))

	log.WithFields(log.Fields{
		"status":      body.Status,
		"physical_id": body.PhysicalResourceID,
		"request_id":  ev.RequestID,
	}).Info("delivering response to CloudFormation")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("response delivery rejected: %s: %s", resp.Status, detail)
	}
	return nil
}

// reason returns the Reason string: the failure reason on FAILED
// (guaranteed non-empty), a log pointer on SUCCESS.
func (e *responseEmitter) reason(outcome Outcome) string {
	if !outcome.Success {
		if outcome.Reason == "" {
			return "reconciliation failed for an unknown reason"
		}
		return outcome.Reason
	}
	if e.logStream != "" {
		return "See CloudWatch log stream: " + e.logStream
	}
	return ""
}
