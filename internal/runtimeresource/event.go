package runtimeresource

import (
	"fmt"
	"regexp"
)

// CloudFormation request type strings.
const (
	requestTypeCreate = "Create"
	requestTypeUpdate = "Update"
	requestTypeDelete = "Delete"
)

// ResourceProperties is the desired state carried on a lifecycle event.
// Tags are cosmetic: changing only Tags on an Update does not disturb a
// running runtime.
type ResourceProperties struct {
	AgentRuntimeName string            `json:"AgentRuntimeName"`
	ContainerURI     string            `json:"ContainerUri"`
	RoleARN          string            `json:"RoleArn"`
	Tags             map[string]string `json:"Tags,omitempty"`
}

// Event is the raw CloudFormation custom resource payload delivered to
// the handler. RequestId doubles as the request token: a retry of the
// same logical attempt carries the same RequestId.
type Event struct {
	RequestType           string              `json:"RequestType"`
	RequestID             string              `json:"RequestId"`
	StackID               string              `json:"StackId"`
	LogicalResourceID     string              `json:"LogicalResourceId"`
	PhysicalResourceID    string              `json:"PhysicalResourceId,omitempty"`
	ResponseURL           string              `json:"ResponseURL"`
	ResourceType          string              `json:"ResourceType,omitempty"`
	ResourceProperties    ResourceProperties  `json:"ResourceProperties"`
	OldResourceProperties *ResourceProperties `json:"OldResourceProperties,omitempty"`
}

// lifecycleRequest is the tagged union over the three request types. Each
// variant carries exactly the fields valid for that case.
type lifecycleRequest interface {
	// token returns the opaque per-attempt request token.
	token() string
	// runtimeName returns the logical runtime name the request targets.
	runtimeName() string
}

// createRequest asks for a runtime that does not exist yet. It carries no
// physical identifier; the control plane assigns one.
type createRequest struct {
	requestToken string
	desired      ResourceProperties
}

func (r *createRequest) token() string       { return r.requestToken }
func (r *createRequest) runtimeName() string { return r.desired.AgentRuntimeName }

// updateRequest asks for an existing runtime to converge on new desired
// properties. previous holds the properties from the prior deployment for
// diffing.
type updateRequest struct {
	requestToken string
	physicalID   string
	desired      ResourceProperties
	previous     ResourceProperties
}

func (r *updateRequest) token() string       { return r.requestToken }
func (r *updateRequest) runtimeName() string { return r.desired.AgentRuntimeName }

// deleteRequest asks for a runtime to be removed. desired still carries
// the runtime name so deletion can fall back to a name lookup when the
// physical id is a placeholder from a failed create.
type deleteRequest struct {
	requestToken string
	physicalID   string
	desired      ResourceProperties
}

func (r *deleteRequest) token() string       { return r.requestToken }
func (r *deleteRequest) runtimeName() string { return r.desired.AgentRuntimeName }

var (
	// runtimeNameRE matches the AgentCore runtime naming constraint.
	runtimeNameRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)
	// roleARNRE matches an IAM role ARN.
	roleARNRE = regexp.MustCompile(`^arn:aws:iam::\d{12}:role/.+$`)
	// containerURIRE matches a container image URI with an explicit tag
	// or digest, e.g. 123456789012.dkr.ecr.us-east-1.amazonaws.com/agent:latest.
	containerURIRE = regexp.MustCompile(`^[^\s:@]+(:[0-9]+)?/?[^\s@]*[:@][^\s]+$`)
)

// parseRequest validates the event and converts it into the lifecycle
// request variant for its type. All validation failures are
// ValidationErrors naming the offending field.
func parseRequest(ev Event) (lifecycleRequest, error) {
	if ev.RequestID == "" {
		return nil, newValidationError("RequestId", "is required")
	}

	switch ev.RequestType {
	case requestTypeCreate:
		if err := validateProperties(ev.ResourceProperties); err != nil {
			return nil, err
		}
		return &createRequest{
			requestToken: ev.RequestID,
			desired:      ev.ResourceProperties,
		}, nil

	case requestTypeUpdate:
		if ev.PhysicalResourceID == "" {
			return nil, newValidationError("PhysicalResourceId", "is required on Update")
		}
		if ev.OldResourceProperties == nil {
			return nil, newValidationError("OldResourceProperties", "is required on Update")
		}
		if err := validateProperties(ev.ResourceProperties); err != nil {
			return nil, err
		}
		return &updateRequest{
			requestToken: ev.RequestID,
			physicalID:   ev.PhysicalResourceID,
			desired:      ev.ResourceProperties,
			previous:     *ev.OldResourceProperties,
		}, nil

	case requestTypeDelete:
		if ev.PhysicalResourceID == "" {
			return nil, newValidationError("PhysicalResourceId", "is required on Delete")
		}
		// Delete must succeed even when the stored properties are partial
		// (e.g. rollback of a rejected create), so only the name is checked.
		if ev.ResourceProperties.AgentRuntimeName == "" {
			return nil, newValidationError("AgentRuntimeName", "is required")
		}
		return &deleteRequest{
			requestToken: ev.RequestID,
			physicalID:   ev.PhysicalResourceID,
			desired:      ev.ResourceProperties,
		}, nil

	default:
		return nil, newValidationError("RequestType",
			fmt.Sprintf("unknown value %q (want Create, Update, or Delete)", ev.RequestType))
	}
}

// validateProperties checks the desired properties for a Create or Update.
func validateProperties(props ResourceProperties) error {
	if props.AgentRuntimeName == "" {
		return newValidationError("AgentRuntimeName", "is required")
	}
	if !runtimeNameRE.MatchString(props.AgentRuntimeName) {
		return newValidationError("AgentRuntimeName", fmt.Sprintf(
			"%q must start with a letter and contain only letters, digits, and underscores (max 48 chars)",
			props.AgentRuntimeName))
	}
	if props.ContainerURI == "" {
		return newValidationError("ContainerUri", "is required")
	}
	if !containerURIRE.MatchString(props.ContainerURI) {
		return newValidationError("ContainerUri", fmt.Sprintf(
			"%q is not a valid container image URI (tag or digest required)", props.ContainerURI))
	}
	if props.RoleARN == "" {
		return newValidationError("RoleArn", "is required")
	}
	if !roleARNRE.MatchString(props.RoleARN) {
		return newValidationError("RoleArn", fmt.Sprintf(
			"%q is not a valid IAM role ARN", props.RoleARN))
	}
	return nil
}

// functionalChange reports whether desired differs from previous in a way
// that requires a control-plane update. Tag-only changes are cosmetic and
// must not disturb a running runtime.
func functionalChange(desired, previous ResourceProperties) bool {
	return desired.ContainerURI != previous.ContainerURI ||
		desired.RoleARN != previous.RoleARN
}

// fallbackPhysicalID is the deterministic placeholder physical id used
// when a create fails before the control plane assigns one. A rollback
// Delete carrying this id resolves the runtime by name instead.
func fallbackPhysicalID(runtimeName string) string {
	return "agent-runtime-" + runtimeName + "-unassigned"
}
