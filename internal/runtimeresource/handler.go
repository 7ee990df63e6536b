// Package runtimeresource implements the CloudFormation custom resource
// handler that manages a Bedrock AgentCore agent runtime: it receives
// Create/Update/Delete lifecycle events, reconciles the external runtime
// against the desired state, and reports the outcome back to the stack
// before the invocation deadline.
package runtimeresource

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	log "github.com/sirupsen/logrus"
)

// Handler wires the idempotency guard, reconciler, and response emitter
// for one Lambda deployment. It is safe for reuse across invocations;
// each invocation is independent and stateless.
type Handler struct {
	cfg     *Config
	cp      controlPlane
	emitter *responseEmitter

	// preflight validates the execution role account before mutations.
	// Nil disables the check (tests, local harness dry runs).
	preflight func(ctx context.Context, roleARN string) error

	// tracer configures the trace destination after a successful create.
	// Nil disables it.
	tracer *traceConfigurator
}

// NewHandler builds a Handler from environment configuration and the
// standard AWS credential chain.
func NewHandler(ctx context.Context) (*Handler, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	configureLogging(cfg.LogLevel)

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	cp := newAWSControlPlane(awsCfg)
	return &Handler{
		cfg:       cfg,
		cp:        cp,
		emitter:   newResponseEmitter(cfg.LogStreamName),
		preflight: cp.VerifyRoleAccount,
		tracer:    newTraceConfigurator(awsCfg),
	}, nil
}

// Handle processes one custom resource lifecycle event. A response is
// always delivered, even on internal error: an unreported crash would
// leave CloudFormation waiting for its own multi-hour timeout, which is a
// strictly worse failure mode.
func (h *Handler) Handle(ctx context.Context, ev Event) error {
	log.WithFields(log.Fields{
		"request_type": ev.RequestType,
		"request_id":   ev.RequestID,
		"logical_id":   ev.LogicalResourceID,
		"physical_id":  ev.PhysicalResourceID,
		"runtime":      ev.ResourceProperties.AgentRuntimeName,
	}).Info("received lifecycle event")

	outcome := h.reconcileGuarded(ctx, ev)

	if err := h.emitter.Emit(ctx, ev, outcome); err != nil {
		// Not retried: the dispatch framework's own timeout is the
		// fallback signal for a lost response.
		log.WithError(err).Error("failed to deliver response")
		return err
	}
	return nil
}

// reconcileGuarded runs the reconciliation with a top-level guard that
// converts panics and unexpected errors into a FAILED outcome instead of
// letting the invocation die silently.
func (h *Handler) reconcileGuarded(ctx context.Context, ev Event) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("reconciliation panicked")
			outcome = Outcome{
				Success:    false,
				PhysicalID: panicPhysicalID(ev),
				Reason:     fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	req, err := parseRequest(ev)
	if err != nil {
		return failure(panicPhysicalID(ev), err)
	}

	if h.preflight != nil && ev.RequestType != requestTypeDelete {
		if err := h.preflight(ctx, ev.ResourceProperties.RoleARN); err != nil {
			return failure(panicPhysicalID(ev), err)
		}
	}

	deadline := h.reconcileDeadline(ctx)
	outcome = NewReconciler(h.cp, h.cfg).Reconcile(ctx, req, deadline)

	if outcome.Success && ev.RequestType == requestTypeCreate && h.tracer != nil {
		h.tracer.EnsureCloudWatchDestination(ctx)
	}
	return outcome
}

// reconcileDeadline derives the reconciliation budget from the invocation
// deadline, reserving a trailing margin so the response emitter is always
// reachable.
func (h *Handler) reconcileDeadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d.Add(-h.cfg.ResponseMargin)
	}
	return time.Now().Add(defaultReconcileBudget)
}

// configureLogging applies the configured log level to the global logger.
// CloudWatch ingests one JSON object per line, so the JSON formatter is
// used unconditionally.
func configureLogging(level string) {
	log.SetFormatter(&log.JSONFormatter{})
	if level == "" {
		return
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unrecognized log level, keeping default")
		return
	}
	log.SetLevel(parsed)
}

// panicPhysicalID picks the physical id for outcomes produced before the
// reconciler assigned one: the event's existing id when present, else a
// deterministic name-derived placeholder so a rollback Delete still
// routes correctly.
func panicPhysicalID(ev Event) string {
	if ev.PhysicalResourceID != "" {
		return ev.PhysicalResourceID
	}
	return fallbackPhysicalID(ev.ResourceProperties.AgentRuntimeName)
}
