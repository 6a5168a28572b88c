package driver

import (
	"sync/atomic"

	"github.com/odvcencio/furry-sg/renderloop"
	"github.com/odvcencio/furry-sg/state"
)

// updateRequester posts a window's update request with coalescing: until
// the driver handles the pending request, further requests are dropped.
// post must deliver eventually; a request is never lost to a full queue.
type updateRequester struct {
	window  renderloop.Window
	post    func(Message)
	pending atomic.Bool
}

func newUpdateRequester(win renderloop.Window, post func(Message)) *updateRequester {
	return &updateRequester{window: win, post: post}
}

func (r *updateRequester) request() {
	if r == nil || r.post == nil {
		return
	}
	if r.pending.CompareAndSwap(false, true) {
		r.post(UpdateRequestMsg{Window: r.window})
	}
}

func (r *updateRequester) resetPending() {
	if r == nil {
		return
	}
	r.pending.Store(false)
}

// QueueScheduler enqueues callbacks and wakes the driver to flush them.
type QueueScheduler struct {
	queue   *state.Queue
	post    func(Message)
	pending atomic.Bool
}

// NewQueueScheduler wires a queue to a post function that delivers
// eventually.
func NewQueueScheduler(queue *state.Queue, post func(Message)) *QueueScheduler {
	if queue == nil {
		queue = state.NewQueue()
	}
	return &QueueScheduler{
		queue: queue,
		post:  post,
	}
}

// Schedule enqueues the callback and posts a flush message unless one is
// already on its way.
func (s *QueueScheduler) Schedule(fn func()) {
	if s == nil || s.queue == nil || fn == nil {
		return
	}
	s.queue.Schedule(fn)
	if s.post == nil {
		return
	}
	if s.pending.CompareAndSwap(false, true) {
		s.post(QueueFlushMsg{})
	}
}

func (s *QueueScheduler) flush() int {
	if s == nil {
		return 0
	}
	s.pending.Store(false)
	return s.queue.Flush()
}
