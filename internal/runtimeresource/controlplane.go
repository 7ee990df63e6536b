package runtimeresource

import (
	"context"
	"errors"
	"time"
)

// RuntimeStatus mirrors the control-plane lifecycle states of an agent
// runtime. Values match the Bedrock AgentCore API status strings.
type RuntimeStatus string

const (
	StatusCreating     RuntimeStatus = "CREATING"
	StatusReady        RuntimeStatus = "READY"
	StatusUpdating     RuntimeStatus = "UPDATING"
	StatusDeleting     RuntimeStatus = "DELETING"
	StatusCreateFailed RuntimeStatus = "CREATE_FAILED"
	StatusUpdateFailed RuntimeStatus = "UPDATE_FAILED"
	StatusDeleted      RuntimeStatus = "DELETED"
)

// Failed reports whether the status is a terminal failure.
func (s RuntimeStatus) Failed() bool {
	return s == StatusCreateFailed || s == StatusUpdateFailed
}

// Transitional reports whether the control plane is still converging and
// the status must be polled again.
func (s RuntimeStatus) Transitional() bool {
	return s == StatusCreating || s == StatusUpdating || s == StatusDeleting
}

// RuntimeSpec is the desired state handed to Create and Update.
type RuntimeSpec struct {
	Name                 string
	ContainerURI         string
	RoleARN              string
	EnvironmentVariables map[string]string
	Tags                 map[string]string

	// ClientToken is an idempotency token forwarded to the control plane
	// on Create. Derived deterministically from the lifecycle request
	// token so a re-delivered event carries the same token.
	ClientToken string
}

// RuntimeRecord is the control plane's view of one agent runtime.
type RuntimeRecord struct {
	ID                   string
	ARN                  string
	Name                 string
	Status               RuntimeStatus
	FailureReason        string
	ContainerURI         string
	RoleARN              string
	EnvironmentVariables map[string]string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// errRuntimeNotFound is returned by Describe and FindByName when no
// matching runtime exists. Delete treats it as already done.
var errRuntimeNotFound = errors.New("agent runtime not found")

// controlPlane abstracts the Bedrock AgentCore control-plane API calls
// the reconciler needs, so tests can substitute a fake.
//
// Create and Update return before the runtime reaches a terminal status;
// callers must poll Describe. Implementations retry transient failures
// internally and return permanent errors as-is.
type controlPlane interface {
	Create(ctx context.Context, spec RuntimeSpec) (RuntimeRecord, error)
	Describe(ctx context.Context, id string) (RuntimeRecord, error)
	Update(ctx context.Context, id string, spec RuntimeSpec) error
	Delete(ctx context.Context, id string) error
	FindByName(ctx context.Context, name string) (RuntimeRecord, error)
}
