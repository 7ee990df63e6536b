package runtimeresource

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/xray"
	xraytypes "github.com/aws/aws-sdk-go-v2/service/xray/types"
	log "github.com/sirupsen/logrus"
)

// Trace segment destination values. Compared as strings so only the enum
// wire values are depended on.
const (
	traceDestinationCloudWatchLogs = "CloudWatchLogs"
	traceStatusActive              = "ACTIVE"
	traceStatusPending             = "PENDING"
)

// spansLogGroup is the AWS-managed CloudWatch log group where
// OTLP-instrumented runtimes emit traces once Transaction Search is
// enabled. It cannot be created manually.
const spansLogGroup = "aws/spans"

// xrayAPI is the slice of the X-Ray client the configurator needs.
type xrayAPI interface {
	GetTraceSegmentDestination(ctx context.Context, params *xray.GetTraceSegmentDestinationInput, optFns ...func(*xray.Options)) (*xray.GetTraceSegmentDestinationOutput, error)
	UpdateTraceSegmentDestination(ctx context.Context, params *xray.UpdateTraceSegmentDestinationInput, optFns ...func(*xray.Options)) (*xray.UpdateTraceSegmentDestinationOutput, error)
}

// logsAPI is the slice of the CloudWatch Logs client the configurator needs.
type logsAPI interface {
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
}

// traceConfigurator points the account's X-Ray trace segment destination
// at CloudWatch Logs so agent runtime traces land in the aws/spans log
// group. The whole operation is best-effort: it runs after a successful
// create and must never fail the stack operation.
type traceConfigurator struct {
	xrayClient xrayAPI
	logsClient logsAPI
}

// newTraceConfigurator builds a configurator from an AWS config.
func newTraceConfigurator(awsCfg aws.Config) *traceConfigurator {
	return &traceConfigurator{
		xrayClient: xray.NewFromConfig(awsCfg),
		logsClient: cloudwatchlogs.NewFromConfig(awsCfg),
	}
}

// EnsureCloudWatchDestination switches the trace segment destination to
// CloudWatch Logs unless it is already there or an update is in flight.
func (t *traceConfigurator) EnsureCloudWatchDestination(ctx context.Context) {
	current, err := t.xrayClient.GetTraceSegmentDestination(ctx, &xray.GetTraceSegmentDestinationInput{})
	if err != nil {
		log.WithError(err).Warn("could not read trace segment destination, attempting update anyway")
	} else {
		destination := string(current.Destination)
		status := string(current.Status)
		log.WithFields(log.Fields{
			"destination": destination,
			"status":      status,
		}).Info("current trace segment destination")

		if destination == traceDestinationCloudWatchLogs && status == traceStatusActive {
			t.checkSpansLogGroup(ctx)
			return
		}
		if status == traceStatusPending {
			log.Info("trace destination update already in progress, skipping")
			return
		}
	}

	updated, err := t.xrayClient.UpdateTraceSegmentDestination(ctx, &xray.UpdateTraceSegmentDestinationInput{
		Destination: xraytypes.TraceSegmentDestination(traceDestinationCloudWatchLogs),
	})
	if err != nil {
		log.WithError(err).Warn("failed to update trace segment destination")
		return
	}
	log.WithFields(log.Fields{
		"destination": string(updated.Destination),
		"status":      string(updated.Status),
	}).Info("trace segment destination updated")

	t.checkSpansLogGroup(ctx)
}

// checkSpansLogGroup logs whether the managed spans log group is visible
// yet. The group appears asynchronously after Transaction Search is
// enabled, so absence is informational, not an error.
func (t *traceConfigurator) checkSpansLogGroup(ctx context.Context) {
	out, err := t.logsClient.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(spansLogGroup),
	})
	if err != nil {
		log.WithError(err).Warn("could not check spans log group")
		return
	}
	for _, lg := range out.LogGroups {
		if aws.ToString(lg.LogGroupName) == spansLogGroup {
			log.WithField("log_group", spansLogGroup).Info("spans log group is available")
			return
		}
	}
	log.WithField("log_group", spansLogGroup).Info("spans log group not visible yet; traces will appear once it materializes")
}
