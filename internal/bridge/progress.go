package bridge

import "sync"

// ProgressEvent is an advisory status update from a long running call.
type ProgressEvent struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Note    string `json:"note,omitempty"`
}

// ProgressSink receives progress events for one invocation. Publish must not
// block; a sink that cannot deliver an event drops it.
type ProgressSink interface {
	Publish(ProgressEvent)
}

// ProgressSinkFunc adapts a function to a ProgressSink.
type ProgressSinkFunc func(ProgressEvent)

func (f ProgressSinkFunc) Publish(e ProgressEvent) { f(e) }

// DiscardProgress is the sink for transports that cannot stream.
var DiscardProgress ProgressSink = ProgressSinkFunc(func(ProgressEvent) {})

// Progress is what a handler uses to report how far it got.
type Progress interface {
	Report(current, total int, note string)
}

// reporter enforces the event invariants before anything reaches a sink:
// total >= 1, current never above total, current never going backwards.
type reporter struct {
	mu      sync.Mutex
	sink    ProgressSink
	last    int
	emitted bool
}

func newReporter(sink ProgressSink) *reporter {
	if sink == nil {
		sink = DiscardProgress
	}
	return &reporter{sink: sink}
}

func (r *reporter) Report(current, total int, note string) {
	if total < 1 || current < 0 {
		return
	}
	current = min(current, total)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.emitted && current < r.last {
		return
	}
	r.last = current
	r.emitted = true
	r.sink.Publish(ProgressEvent{Current: current, Total: total, Note: note})
}
