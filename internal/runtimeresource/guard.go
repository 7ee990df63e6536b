package runtimeresource

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

// idempotencyGuard resolves what the control plane already knows about a
// lifecycle request before any mutating call is issued. The dispatch
// framework only guarantees at-least-once delivery, so every decision is
// based on observed external state rather than in-process memory.
type idempotencyGuard struct {
	cp controlPlane
}

// resolveCreate checks whether the runtime a Create asks for already
// exists (a previous delivery of the same event created it but the
// response was lost). found is false when creation still has to happen.
func (g *idempotencyGuard) resolveCreate(ctx context.Context, name string) (rec RuntimeRecord, found bool, err error) {
	rec, err = g.cp.FindByName(ctx, name)
	if errors.Is(err, errRuntimeNotFound) {
		return RuntimeRecord{}, false, nil
	}
	if err != nil {
		return RuntimeRecord{}, false, err
	}
	log.WithFields(log.Fields{
		"runtime":    name,
		"runtime_id": rec.ID,
		"status":     rec.Status,
	}).Info("runtime already exists for this request, skipping create")
	return rec, true, nil
}

// resolveDelete locates the runtime a Delete targets. It first tries the
// physical id; if that is unknown (a placeholder from a failed create, or
// the runtime is already gone) it falls back to a name lookup. found is
// false when there is nothing left to delete.
func (g *idempotencyGuard) resolveDelete(ctx context.Context, physicalID, name string) (rec RuntimeRecord, found bool, err error) {
	rec, err = g.cp.Describe(ctx, physicalID)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, errRuntimeNotFound) {
		return RuntimeRecord{}, false, err
	}

	rec, err = g.cp.FindByName(ctx, name)
	if errors.Is(err, errRuntimeNotFound) {
		log.WithFields(log.Fields{
			"runtime":     name,
			"physical_id": physicalID,
		}).Info("runtime not found, treating delete as already complete")
		return RuntimeRecord{}, false, nil
	}
	if err != nil {
		return RuntimeRecord{}, false, err
	}
	return rec, true, nil
}
