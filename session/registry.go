package session

import (
	"fmt"

	"github.com/adamwoolhether/xfer/session/transfer"
)

type behaviorKind int

const (
	callDelegate behaviorKind = iota
	dataCompletion
	downloadCompletion
)

// DataCompletion receives the outcome of a data or upload task.
type DataCompletion func(data []byte, resp *transfer.Response, err error)

// DownloadCompletion receives the outcome of a download task. The file at
// path is only guaranteed to exist for the duration of the call.
type DownloadCompletion func(path string, resp *transfer.Response, err error)

// behavior is how a finished task reports back.
type behavior struct {
	kind     behaviorKind
	data     DataCompletion
	download DownloadCompletion
}

// taskRegistry tracks unfinished tasks. It is owned by the session work
// queue and must not be touched from anywhere else.
type taskRegistry struct {
	tasks     map[int]*Task
	behaviors map[int]behavior
	onEmpty   func()
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{
		tasks:     make(map[int]*Task),
		behaviors: make(map[int]behavior),
	}
}

func (r *taskRegistry) add(t *Task, b behavior) {
	id := t.ID()
	if id == 0 {
		panic("session: cannot register task with identifier 0")
	}

	if existing, ok := r.tasks[id]; ok {
		if existing == t {
			panic(fmt.Sprintf("session: task %d is already registered", id))
		}
		panic(fmt.Sprintf("session: another task is already registered with identifier %d", id))
	}

	r.tasks[id] = t
	r.behaviors[id] = b
}

// remove drops t and fires the notify func when this empties the registry.
func (r *taskRegistry) remove(t *Task) {
	id := t.ID()
	if _, ok := r.tasks[id]; !ok {
		panic(fmt.Sprintf("session: task %d is not registered", id))
	}

	delete(r.tasks, id)
	delete(r.behaviors, id)

	if len(r.tasks) == 0 && r.onEmpty != nil {
		fn := r.onEmpty
		r.onEmpty = nil
		fn()
	}
}

func (r *taskRegistry) behaviorFor(t *Task) behavior {
	b, ok := r.behaviors[t.ID()]
	if !ok {
		panic(fmt.Sprintf("session: no behavior registered for task %d", t.ID()))
	}
	return b
}

func (r *taskRegistry) allTasks() []*Task {
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}

func (r *taskRegistry) isEmpty() bool {
	return len(r.tasks) == 0
}

// notify sets fn to run once when the registry next becomes empty.
func (r *taskRegistry) notify(fn func()) {
	if r.onEmpty != nil {
		panic("session: registry notify func already set")
	}
	r.onEmpty = fn
}
