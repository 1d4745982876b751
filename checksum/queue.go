package checksum

import (
	"log/slog"
	"sync"
)

// PathQueue is a thread-safe set-based FIFO of absolute paths awaiting
// reconciliation. A path already queued is not queued twice.
type PathQueue struct {
	mu     sync.Mutex
	set    map[string]struct{}
	order  []string
	notify chan struct{} // signaled when items are added
}

// NewPathQueue creates an empty queue.
func NewPathQueue() *PathQueue {
	return &PathQueue{
		set:    make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Push adds a path. If the path is already queued, this is a no-op.
func (q *PathQueue) Push(path string) {
	q.PushMany([]string{path})
}

// PushMany adds multiple paths, skipping those already queued.
func (q *PathQueue) PushMany(paths []string) {
	q.mu.Lock()
	added := 0
	for _, path := range paths {
		if _, exists := q.set[path]; exists {
			continue
		}
		q.set[path] = struct{}{}
		q.order = append(q.order, path)
		added++
	}
	newLen := len(q.order)
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("push", "requested", len(paths), "added", added, "queueLen", newLen)
	}

	if added > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}

// Pop removes and returns the next path. Blocks until a path is available
// or done is closed. Returns ("", false) when done.
func (q *PathQueue) Pop(done <-chan struct{}) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.order) > 0 {
			path := q.order[0]
			q.order = q.order[1:]
			delete(q.set, path)
			q.mu.Unlock()
			return path, true
		}
		q.mu.Unlock()

		select {
		case <-done:
			return "", false
		case <-q.notify:
		}
	}
}

// Len returns the current queue size.
func (q *PathQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
