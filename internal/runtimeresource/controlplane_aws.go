package runtimeresource

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcorecontrol"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcorecontrol/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

// listPageSize is the MaxResults value used when listing runtimes.
const listPageSize = 100

// Transient-retry tuning for individual control-plane calls. Retries are
// kept short; the reconciler's own polling loop absorbs longer waits.
const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
	maxTransientRetries  = 5
)

// awsControlPlane implements controlPlane against the real Bedrock
// AgentCore control-plane SDK.
type awsControlPlane struct {
	client    *bedrockagentcorecontrol.Client
	stsClient *sts.Client
}

// newAWSControlPlane builds an awsControlPlane from a resolved AWS config.
func newAWSControlPlane(awsCfg aws.Config) *awsControlPlane {
	return &awsControlPlane{
		client:    bedrockagentcorecontrol.NewFromConfig(awsCfg),
		stsClient: sts.NewFromConfig(awsCfg),
	}
}

// VerifyRoleAccount checks that the caller's AWS account matches the
// account in the runtime execution role ARN, catching cross-account
// misconfigurations before any control-plane mutation.
func (c *awsControlPlane) VerifyRoleAccount(ctx context.Context, roleARN string) error {
	arnAccount := extractAccountFromARN(roleARN)
	if arnAccount == "" {
		return nil
	}
	identity, err := c.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("STS GetCallerIdentity: %w", err)
	}
	callerAccount := aws.ToString(identity.Account)
	if callerAccount != arnAccount {
		return newValidationError("RoleArn", fmt.Sprintf(
			"role account %s does not match caller account %s", arnAccount, callerAccount))
	}
	return nil
}

// newRetrySchedule returns the exponential backoff used for transient
// control-plane call retries.
func newRetrySchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	return b
}

// callWithRetry retries transient control-plane failures with exponential
// backoff. Permanent errors (validation, not-found, conflict) are returned
// immediately.
func callWithRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		out, err := op()
		if err != nil && !isTransient(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, backoff.WithBackOff(newRetrySchedule()), backoff.WithMaxTries(maxTransientRetries))
}

// buildArtifact returns the container artifact for the runtime spec.
func buildArtifact(spec RuntimeSpec) types.AgentRuntimeArtifact {
	return &types.AgentRuntimeArtifactMemberContainerConfiguration{
		Value: types.ContainerConfiguration{
			ContainerUri: aws.String(spec.ContainerURI),
		},
	}
}

// Create provisions an agent runtime. The runtime is returned in a
// non-terminal status; callers must poll Describe until READY. On conflict
// (already created by an earlier delivery of the same event) the existing
// runtime is adopted.
func (c *awsControlPlane) Create(ctx context.Context, spec RuntimeSpec) (RuntimeRecord, error) {
	input := &bedrockagentcorecontrol.CreateAgentRuntimeInput{
		AgentRuntimeName:     aws.String(spec.Name),
		RoleArn:              aws.String(spec.RoleARN),
		AgentRuntimeArtifact: buildArtifact(spec),
		NetworkConfiguration: &types.NetworkConfiguration{
			NetworkMode: types.NetworkModePublic,
		},
	}
	if len(spec.EnvironmentVariables) > 0 {
		input.EnvironmentVariables = spec.EnvironmentVariables
	}
	if len(spec.Tags) > 0 {
		input.Tags = spec.Tags
	}
	if spec.ClientToken != "" {
		input.ClientToken = aws.String(spec.ClientToken)
	}

	out, err := callWithRetry(ctx, func() (*bedrockagentcorecontrol.CreateAgentRuntimeOutput, error) {
		return c.client.CreateAgentRuntime(ctx, input)
	})
	if err != nil {
		if isConflictError(err) {
			log.WithField("runtime", spec.Name).Info("runtime already exists, adopting")
			return c.FindByName(ctx, spec.Name)
		}
		return RuntimeRecord{}, fmt.Errorf("CreateAgentRuntime %q: %w", spec.Name, err)
	}

	return RuntimeRecord{
		ID:     aws.ToString(out.AgentRuntimeId),
		ARN:    aws.ToString(out.AgentRuntimeArn),
		Name:   spec.Name,
		Status: runtimeStatusFromSDK(out.Status),
	}, nil
}

// Describe returns the current control-plane record for a runtime, or
// errRuntimeNotFound.
func (c *awsControlPlane) Describe(ctx context.Context, id string) (RuntimeRecord, error) {
	out, err := callWithRetry(ctx, func() (*bedrockagentcorecontrol.GetAgentRuntimeOutput, error) {
		return c.client.GetAgentRuntime(ctx, &bedrockagentcorecontrol.GetAgentRuntimeInput{
			AgentRuntimeId: aws.String(id),
		})
	})
	if err != nil {
		if isNotFound(err) {
			return RuntimeRecord{}, errRuntimeNotFound
		}
		return RuntimeRecord{}, fmt.Errorf("GetAgentRuntime %q: %w", id, err)
	}

	rec := RuntimeRecord{
		ID:                   aws.ToString(out.AgentRuntimeId),
		ARN:                  aws.ToString(out.AgentRuntimeArn),
		Name:                 aws.ToString(out.AgentRuntimeName),
		Status:               runtimeStatusFromSDK(out.Status),
		FailureReason:        aws.ToString(out.FailureReason),
		RoleARN:              aws.ToString(out.RoleArn),
		EnvironmentVariables: out.EnvironmentVariables,
	}
	if out.CreatedAt != nil {
		rec.CreatedAt = *out.CreatedAt
	}
	if out.LastUpdatedAt != nil {
		rec.UpdatedAt = *out.LastUpdatedAt
	}
	if container, ok := out.AgentRuntimeArtifact.(*types.AgentRuntimeArtifactMemberContainerConfiguration); ok {
		rec.ContainerURI = aws.ToString(container.Value.ContainerUri)
	}
	return rec, nil
}

// Update overwrites the runtime's configuration with the spec. Like
// Create, completion is asynchronous and must be polled.
func (c *awsControlPlane) Update(ctx context.Context, id string, spec RuntimeSpec) error {
	input := &bedrockagentcorecontrol.UpdateAgentRuntimeInput{
		AgentRuntimeId:       aws.String(id),
		RoleArn:              aws.String(spec.RoleARN),
		AgentRuntimeArtifact: buildArtifact(spec),
		NetworkConfiguration: &types.NetworkConfiguration{
			NetworkMode: types.NetworkModePublic,
		},
	}
	if len(spec.EnvironmentVariables) > 0 {
		input.EnvironmentVariables = spec.EnvironmentVariables
	}

	_, err := callWithRetry(ctx, func() (*bedrockagentcorecontrol.UpdateAgentRuntimeOutput, error) {
		return c.client.UpdateAgentRuntime(ctx, input)
	})
	if err != nil {
		if isNotFound(err) {
			return errRuntimeNotFound
		}
		return fmt.Errorf("UpdateAgentRuntime %q: %w", spec.Name, err)
	}
	return nil
}

// Delete initiates runtime deletion. Deleting a runtime that is already
// gone is not an error.
func (c *awsControlPlane) Delete(ctx context.Context, id string) error {
	_, err := callWithRetry(ctx, func() (*bedrockagentcorecontrol.DeleteAgentRuntimeOutput, error) {
		return c.client.DeleteAgentRuntime(ctx, &bedrockagentcorecontrol.DeleteAgentRuntimeInput{
			AgentRuntimeId: aws.String(id),
		})
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("DeleteAgentRuntime %q: %w", id, err)
	}
	return nil
}

// FindByName pages through ListAgentRuntimes and returns the runtime with
// the given name, or errRuntimeNotFound.
func (c *awsControlPlane) FindByName(ctx context.Context, name string) (RuntimeRecord, error) {
	var nextToken *string
	for {
		out, err := callWithRetry(ctx, func() (*bedrockagentcorecontrol.ListAgentRuntimesOutput, error) {
			return c.client.ListAgentRuntimes(ctx, &bedrockagentcorecontrol.ListAgentRuntimesInput{
				MaxResults: aws.Int32(listPageSize),
				NextToken:  nextToken,
			})
		})
		if err != nil {
			return RuntimeRecord{}, fmt.Errorf("ListAgentRuntimes: %w", err)
		}
		for _, rt := range out.AgentRuntimes {
			if aws.ToString(rt.AgentRuntimeName) != name {
				continue
			}
			// The list summary omits configuration details; fetch the full
			// record so callers see current status and attributes.
			return c.Describe(ctx, aws.ToString(rt.AgentRuntimeId))
		}
		if out.NextToken == nil {
			return RuntimeRecord{}, errRuntimeNotFound
		}
		nextToken = out.NextToken
	}
}

// runtimeStatusFromSDK converts the SDK status enum. The enum values are
// the same strings RuntimeStatus uses.
func runtimeStatusFromSDK(s types.AgentRuntimeStatus) RuntimeStatus {
	return RuntimeStatus(s)
}
