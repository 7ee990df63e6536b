package runtimeresource

import (
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcorecontrol/types"
)

// isNotFound returns true if the error is an AWS ResourceNotFoundException.
func isNotFound(err error) bool {
	var nf *types.ResourceNotFoundException
	return errors.As(err, &nf)
}

// isConflictError returns true if the error indicates a 409 Conflict
// (resource already exists or a concurrent modification is in flight).
func isConflictError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ConflictException")
}

// isTransient returns true for failures worth retrying: throttling,
// server-side errors, and transient network problems.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var throttle *types.ThrottlingException
	if errors.As(err, &throttle) {
		return true
	}
	var internal *types.InternalServerException
	if errors.As(err, &internal) {
		return true
	}
	return containsAny(strings.ToLower(err.Error()), transientKeywords)
}

// minARNParts is the minimum number of colon-separated segments in a valid
// ARN (arn:partition:service:region:account-id:resource).
const minARNParts = 5

// arnAccountIndex is the zero-based index of the account-id segment in an ARN.
const arnAccountIndex = 4

// extractAccountFromARN extracts the AWS account ID from an ARN string.
// Returns an empty string if the ARN is malformed.
func extractAccountFromARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < minARNParts {
		return ""
	}
	return parts[arnAccountIndex]
}
