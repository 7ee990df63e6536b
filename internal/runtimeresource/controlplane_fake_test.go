package runtimeresource

import (
	"context"
	"time"
)

// statusGone is a test-only sentinel in a status script meaning the next
// Describe reports the runtime as not found.
const statusGone = RuntimeStatus("__gone__")

// fakeControlPlane is a scripted in-memory control plane. Each Describe
// consumes the next status from statusSeq; when the script is exhausted
// the last status sticks.
type fakeControlPlane struct {
	record    RuntimeRecord
	exists    bool
	statusSeq []RuntimeStatus

	// failureReason is reported by Describe when the scripted status is a
	// terminal failure.
	failureReason string

	createCalls   int
	updateCalls   int
	deleteCalls   int
	describeCalls int

	createErr   error
	describeErr error
	updateErr   error
	deleteErr   error
	findErr     error

	// errOnDescribe fires on the errOnDescribeCall-th Describe (1-based)
	// only, without consuming the status script.
	errOnDescribe     error
	errOnDescribeCall int

	panicOnFind bool
}

func (f *fakeControlPlane) Create(_ context.Context, spec RuntimeSpec) (RuntimeRecord, error) {
	f.createCalls++
	if f.createErr != nil {
		return RuntimeRecord{}, f.createErr
	}
	f.exists = true
	f.record = RuntimeRecord{
		ID:                   "rt-123",
		ARN:                  "arn:aws:bedrock-agentcore:us-east-1:123456789012:runtime/rt-123",
		Name:                 spec.Name,
		Status:               StatusCreating,
		ContainerURI:         spec.ContainerURI,
		RoleARN:              spec.RoleARN,
		EnvironmentVariables: spec.EnvironmentVariables,
	}
	return f.record, nil
}

func (f *fakeControlPlane) Describe(_ context.Context, id string) (RuntimeRecord, error) {
	f.describeCalls++
	if f.describeErr != nil {
		return RuntimeRecord{}, f.describeErr
	}
	if f.errOnDescribe != nil && f.describeCalls == f.errOnDescribeCall {
		return RuntimeRecord{}, f.errOnDescribe
	}
	if !f.exists || id != f.record.ID {
		return RuntimeRecord{}, errRuntimeNotFound
	}
	if len(f.statusSeq) > 0 {
		f.record.Status = f.statusSeq[0]
		if len(f.statusSeq) > 1 {
			f.statusSeq = f.statusSeq[1:]
		}
	}
	if f.record.Status == statusGone {
		f.exists = false
		return RuntimeRecord{}, errRuntimeNotFound
	}
	if f.record.Status.Failed() {
		f.record.FailureReason = f.failureReason
	}
	return f.record, nil
}

func (f *fakeControlPlane) Update(_ context.Context, id string, spec RuntimeSpec) error {
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	if !f.exists || id != f.record.ID {
		return errRuntimeNotFound
	}
	f.record.ContainerURI = spec.ContainerURI
	f.record.RoleARN = spec.RoleARN
	f.record.EnvironmentVariables = spec.EnvironmentVariables
	return nil
}

func (f *fakeControlPlane) Delete(_ context.Context, id string) error {
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if !f.exists || id != f.record.ID {
		return nil
	}
	f.record.Status = StatusDeleting
	return nil
}

func (f *fakeControlPlane) FindByName(_ context.Context, name string) (RuntimeRecord, error) {
	if f.panicOnFind {
		panic("control plane client is misconfigured")
	}
	if f.findErr != nil {
		return RuntimeRecord{}, f.findErr
	}
	if !f.exists || name != f.record.Name {
		return RuntimeRecord{}, errRuntimeNotFound
	}
	return f.record, nil
}

// fakeClock replaces the reconciler's wall clock. Sleep advances the
// clock instead of waiting, so polling loops run instantly and
// deterministically in tests.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.t = c.t.Add(d)
	return nil
}

// testConfig returns the configuration used across reconciler tests.
func testConfig() *Config {
	return &Config{
		KnowledgeBaseID: "kb-test-123",
		Region:          "us-east-1",
		PollInitial:     2 * time.Second,
		PollMax:         5 * time.Second,
		ResponseMargin:  10 * time.Second,
	}
}

// newTestReconciler wires a reconciler over the fake control plane with a
// fake clock.
func newTestReconciler(cp *fakeControlPlane) (*Reconciler, *fakeClock) {
	clk := newFakeClock()
	r := NewReconciler(cp, testConfig())
	r.now = clk.now
	r.sleep = clk.sleep
	return r, clk
}
