// Package progress implements the process-wide named-task
// progress/cancellation registry (SPEC_FULL §9): long-running operations
// outside the recording loop itself (account cookie verification, a
// manual re-probe of a VOD session) register a task id, report
// incremental progress through it, and can be cancelled by that id.
package progress

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/liverecorder/liverecorder/events"
)

// ErrAlreadyExists is returned by StartWithID when the given id is already
// tracked — the original source's "任务已经存在" ("task already exists")
// check, generalized to return an error instead of emitting a failure
// event itself, since logging/emitting that is now the caller's job.
var ErrAlreadyExists = errors.New("progress: task already exists")

// ErrNotFound is returned by Cancel for an unknown or already-finished
// task id.
var ErrNotFound = errors.New("progress: task not found")

// Task is a handle a caller uses to report progress and check for
// cancellation on one running operation.
type Task struct {
	ID     string
	cancel atomic.Bool
	bus    *events.Bus
}

// Update publishes a ProgressUpdate event carrying free-form content.
func (t *Task) Update(content string) {
	t.bus.Publish(events.Event{Kind: events.KindProgressUpdate, ProgressID: t.ID, ProgressContent: content})
}

// Cancelled reports whether Cancel has been called for this task. The
// caller is expected to poll this between units of work and return early.
func (t *Task) Cancelled() bool {
	return t.cancel.Load()
}

// Finish publishes a ProgressFinished event and removes the task from the
// registry, whether or not a caller ever observed Cancelled() returning
// true — a cancelled task still finishes through this same path.
func (t *Task) Finish(reg *Registry, success bool, message string) {
	t.bus.Publish(events.Event{
		Kind:            events.KindProgressFinished,
		ProgressID:      t.ID,
		ProgressSuccess: success,
		ProgressMessage: message,
	})
	reg.remove(t.ID)
}

// Registry tracks every in-flight Task by id, constructed once in
// cmd/recorderd and passed by reference — unlike the original source's
// process-global CANCEL_FLAG_MAP, there is no package-level mutable state
// here (spec §9 design note).
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
	bus   *events.Bus
}

// New builds an empty registry publishing progress events onto bus.
func New(bus *events.Bus) *Registry {
	return &Registry{tasks: make(map[string]*Task), bus: bus}
}

// Start registers a new task under a generated id and returns its handle.
func (r *Registry) Start() *Task {
	id := uuid.NewString()
	t := &Task{ID: id, bus: r.bus}

	r.mu.Lock()
	r.tasks[id] = t
	r.mu.Unlock()
	return t
}

// StartWithID registers a new task under a caller-chosen id, rejecting a
// duplicate with ErrAlreadyExists (the original source's exists-check).
func (r *Registry) StartWithID(id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; ok {
		return nil, ErrAlreadyExists
	}
	t := &Task{ID: id, bus: r.bus}
	r.tasks[id] = t
	return t, nil
}

// Cancel flips the cancel flag for a tracked task. It does not itself
// finish the task — the task's own loop is expected to observe
// Cancelled() and call Finish.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.cancel.Store(true)
	return nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// Len reports the number of in-flight tasks, used by tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
