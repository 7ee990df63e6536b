package runtimeresource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Data attribute keys exposed to the stack on success. The stack surfaces
// these as outputs, so on SUCCESS every key must be present.
const (
	attrRuntimeARN      = "AgentRuntimeArn"
	attrStatus          = "Status"
	attrKnowledgeBaseID = "KnowledgeBaseId"
	attrRegion          = "Region"
	attrEnvironment     = "EnvironmentVariables"
)

// clientTokenNamespace is the fixed UUID namespace for deriving
// control-plane idempotency tokens from request tokens.
var clientTokenNamespace = uuid.MustParse("9c7f3b8a-41de-4f6a-b6a3-2f5de0c1a9e4")

// Outcome is the single result of one reconciliation, handed to the
// response emitter. Exactly one of Attributes or Reason is meaningful.
type Outcome struct {
	Success    bool
	PhysicalID string
	Attributes map[string]string
	Reason     string
}

// pollGoal tells pollUntil which terminal condition ends the wait.
type pollGoal int

const (
	// pollForReady waits for the runtime to reach READY.
	pollForReady pollGoal = iota
	// pollForGone waits for the runtime to disappear.
	pollForGone
)

// Reconciler runs one lifecycle request to completion. One instance runs
// per invocation and holds no state across invocations: a timed-out
// attempt resumes on retry through the idempotency guard and the external
// resource's own status.
type Reconciler struct {
	cp    controlPlane
	guard idempotencyGuard
	cfg   *Config

	// now and sleep are injectable for deterministic tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewReconciler builds a Reconciler over the given control plane.
func NewReconciler(cp controlPlane, cfg *Config) *Reconciler {
	return &Reconciler{
		cp:    cp,
		guard: idempotencyGuard{cp: cp},
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Reconcile drives the request to a terminal outcome, never past the
// deadline. It always returns an Outcome; failures are encoded, not
// propagated, so the response emitter is always reachable.
func (r *Reconciler) Reconcile(ctx context.Context, req lifecycleRequest, deadline time.Time) Outcome {
	switch q := req.(type) {
	case *createRequest:
		return r.reconcileCreate(ctx, q, deadline)
	case *updateRequest:
		return r.reconcileUpdate(ctx, q, deadline)
	case *deleteRequest:
		return r.reconcileDelete(ctx, q, deadline)
	default:
		return failure(fallbackPhysicalID(req.runtimeName()),
			fmt.Errorf("unsupported request type %T", req))
	}
}

// reconcileCreate creates the runtime (unless a previous delivery of the
// same event already did) and polls it to READY.
func (r *Reconciler) reconcileCreate(ctx context.Context, req *createRequest, deadline time.Time) Outcome {
	name := req.desired.AgentRuntimeName

	rec, found, err := r.guard.resolveCreate(ctx, name)
	if err != nil {
		return failure(fallbackPhysicalID(name), newControlPlaneError("create", name, err))
	}
	if !found {
		spec := r.specFromProperties(req.desired)
		spec.ClientToken = deriveClientToken(req.token())
		rec, err = r.cp.Create(ctx, spec)
		if err != nil {
			return failure(fallbackPhysicalID(name), newControlPlaneError("create", name, err))
		}
		log.WithFields(log.Fields{
			"runtime":    name,
			"runtime_id": rec.ID,
			"arn":        rec.ARN,
		}).Info("runtime creation initiated")
	}

	final, err := r.pollUntil(ctx, "create", rec, pollForReady, deadline)
	if err != nil {
		return failure(rec.ID, err)
	}
	return r.success(final.ID, final, string(final.Status))
}

// reconcileUpdate diffs desired against previous properties and issues
// the minimal action: nothing for cosmetic-only changes, a full-state
// Update otherwise.
func (r *Reconciler) reconcileUpdate(ctx context.Context, req *updateRequest, deadline time.Time) Outcome {
	name := req.desired.AgentRuntimeName

	// The runtime name is create-only in the control plane; a rename needs
	// resource replacement at the template level.
	if req.desired.AgentRuntimeName != req.previous.AgentRuntimeName {
		return failure(req.physicalID,
			newValidationError("AgentRuntimeName", "cannot be changed in place"))
	}

	rec, err := r.cp.Describe(ctx, req.physicalID)
	if errors.Is(err, errRuntimeNotFound) {
		return failure(req.physicalID, &ReconcileError{
			Category:    ErrCategoryConflict,
			Operation:   "update",
			Runtime:     name,
			Message:     fmt.Sprintf("runtime %s no longer exists", req.physicalID),
			Remediation: hintResolveConflict,
		})
	}
	if err != nil {
		return failure(req.physicalID, newControlPlaneError("update", name, err))
	}
	if rec.Status.Failed() {
		return failure(rec.ID, newConflictError("update", name, rec.Status, rec.FailureReason))
	}

	// An overlapping earlier attempt may still be converging; let it settle
	// before deciding whether a mutation is needed at all.
	if rec.Status.Transitional() {
		rec, err = r.pollUntil(ctx, "update", rec, pollForReady, deadline)
		if err != nil {
			return failure(rec.ID, err)
		}
	}

	if !functionalChange(req.desired, req.previous) {
		log.WithField("runtime", name).Info("update is cosmetic only, leaving runtime undisturbed")
		return r.success(rec.ID, rec, string(rec.Status))
	}

	if err := r.cp.Update(ctx, rec.ID, r.specFromProperties(req.desired)); err != nil {
		return failure(rec.ID, newControlPlaneError("update", name, err))
	}
	log.WithFields(log.Fields{
		"runtime":       name,
		"runtime_id":    rec.ID,
		"container_uri": req.desired.ContainerURI,
	}).Info("runtime update initiated")

	final, err := r.pollUntil(ctx, "update", rec, pollForReady, deadline)
	if err != nil {
		return failure(rec.ID, err)
	}
	return r.success(final.ID, final, string(final.Status))
}

// reconcileDelete removes the runtime, treating an already-absent runtime
// as success. Deletion is inherently idempotent.
func (r *Reconciler) reconcileDelete(ctx context.Context, req *deleteRequest, deadline time.Time) Outcome {
	name := req.desired.AgentRuntimeName

	rec, found, err := r.guard.resolveDelete(ctx, req.physicalID, name)
	if err != nil {
		return failure(req.physicalID, newControlPlaneError("delete", name, err))
	}
	if !found {
		return deletedOutcome(req.physicalID)
	}

	// A DELETING runtime means an earlier attempt already issued the call;
	// only the poll phase remains.
	if rec.Status != StatusDeleting {
		if err := r.cp.Delete(ctx, rec.ID); err != nil {
			return failure(rec.ID, newControlPlaneError("delete", name, err))
		}
		log.WithFields(log.Fields{
			"runtime":    name,
			"runtime_id": rec.ID,
		}).Info("runtime deletion initiated")
	}

	if _, err := r.pollUntil(ctx, "delete", rec, pollForGone, deadline); err != nil {
		return failure(rec.ID, err)
	}
	return deletedOutcome(rec.ID)
}

// deletedOutcome reports a successful delete. The stack ignores Data on
// Delete responses, so only the terminal status is included rather than
// attributes of a runtime that no longer exists.
func deletedOutcome(physicalID string) Outcome {
	return Outcome{
		Success:    true,
		PhysicalID: physicalID,
		Attributes: map[string]string{attrStatus: string(StatusDeleted)},
	}
}

// pollUntil re-reads the runtime with bounded exponential backoff until
// the goal condition holds, a terminal failure is observed, or the
// deadline leaves no room for another wait. It returns the last observed
// record alongside any error.
func (r *Reconciler) pollUntil(
	ctx context.Context, operation string, rec RuntimeRecord, goal pollGoal, deadline time.Time,
) (RuntimeRecord, error) {
	schedule := r.pollSchedule()
	last := rec

	for range maxPollAttempts {
		observed, err := r.cp.Describe(ctx, rec.ID)
		switch {
		case errors.Is(err, errRuntimeNotFound):
			if goal == pollForGone {
				return last, nil
			}
			return last, newConflictError(operation, rec.Name, StatusDeleted,
				"runtime disappeared while waiting for it to become ready")
		case err != nil && !isTransient(err):
			return last, newControlPlaneError(operation, rec.Name, err)
		case err != nil:
			// A throttling burst can outlast the client's own short retry
			// window; the remaining time budget absorbs it. Keep the last
			// good observation and poll again.
			log.WithError(err).WithFields(log.Fields{
				"runtime":   rec.Name,
				"operation": operation,
			}).Warn("transient failure while polling, will retry")
		default:
			last = observed
			if goal == pollForReady {
				if observed.Status == StatusReady {
					return observed, nil
				}
				if observed.Status.Failed() {
					return observed, newConflictError(operation, rec.Name, observed.Status, observed.FailureReason)
				}
			}
		}

		wait := schedule.NextBackOff()
		if !r.now().Add(wait).Before(deadline) {
			return last, newTimeoutError(operation, rec.Name, last.Status)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return last, newTimeoutError(operation, rec.Name, last.Status)
		}
	}
	return last, newTimeoutError(operation, rec.Name, last.Status)
}

// pollSchedule returns the backoff schedule for status polling: short
// initial interval, capped at PollMax.
func (r *Reconciler) pollSchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.PollInitial
	b.MaxInterval = r.cfg.PollMax
	b.RandomizationFactor = 0
	return b
}

// specFromProperties converts desired properties into a control-plane
// spec, injecting the runtime environment from handler configuration.
func (r *Reconciler) specFromProperties(props ResourceProperties) RuntimeSpec {
	return RuntimeSpec{
		Name:                 props.AgentRuntimeName,
		ContainerURI:         props.ContainerURI,
		RoleARN:              props.RoleARN,
		EnvironmentVariables: r.cfg.RuntimeEnvVars(),
		Tags:                 props.Tags,
	}
}

// success builds a successful outcome with the complete attribute set.
func (r *Reconciler) success(physicalID string, rec RuntimeRecord, status string) Outcome {
	env := rec.EnvironmentVariables
	if env == nil {
		env = r.cfg.RuntimeEnvVars()
	}
	return Outcome{
		Success:    true,
		PhysicalID: physicalID,
		Attributes: map[string]string{
			attrRuntimeARN:      rec.ARN,
			attrStatus:          status,
			attrKnowledgeBaseID: r.cfg.KnowledgeBaseID,
			attrRegion:          r.cfg.Region,
			attrEnvironment:     encodeEnvVars(env),
		},
	}
}

// failure builds a failed outcome with a non-empty reason.
func failure(physicalID string, err error) Outcome {
	log.WithError(err).Error("reconciliation failed")
	return Outcome{
		Success:    false,
		PhysicalID: physicalID,
		Reason:     failureReason(err),
	}
}

// deriveClientToken maps a request token to a stable UUID accepted by the
// control plane as an idempotency token. A re-delivered event derives the
// same token.
func deriveClientToken(requestToken string) string {
	return uuid.NewSHA1(clientTokenNamespace, []byte(requestToken)).String()
}

// encodeEnvVars serializes runtime environment variables for the
// EnvironmentVariables data attribute. Attribute values must be strings.
func encodeEnvVars(env map[string]string) string {
	if len(env) == 0 {
		return "{}"
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// sleepContext waits for the duration or the context, whichever ends
// first. Returns the context error when interrupted.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
