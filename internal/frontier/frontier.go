// Package frontier implements the per-site URL frontier (§4.2): a bounded
// FIFO task queue plus the visited/in_progress membership sets that give
// at-most-one-in-flight dedup.
package frontier

import (
	"container/list"
	"net/url"
	"sync"

	"github.com/sitewarden/crawler/internal/blockrules"
	"github.com/sitewarden/crawler/internal/canonical"
)

// State is a FrontierTask's position in its lifecycle.
type State string

const (
	Queued     State = "queued"
	InProgress State = "in_progress"
	Visited    State = "visited"
	Skipped    State = "skipped"
	Failed     State = "failed"
)

// Task is a FrontierTask: a canonical URL plus the provenance needed to
// enqueue links discovered from it. It lives only in the Frontier; it is
// never persisted.
type Task struct {
	CanonicalURL string
	ParentURL    string
	Depth        int
	State        State
}

// DefaultCapacity is the default bound on queue size (§4.2).
const DefaultCapacity = 10_000

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
type ErrQueueFull struct{ URL string }

func (e *ErrQueueFull) Error() string { return "queue full: " + e.URL }

// Frontier holds the task queue and membership sets for a single site's
// crawl job. One mutex guards all three; contention is low because workers
// spend most of their time in network I/O (§9).
type Frontier struct {
	mu sync.Mutex

	queue      *list.List
	queued     map[string]struct{}
	visited    map[string]struct{}
	inProgress map[string]struct{}

	capacity int
	closed   bool
	notEmpty *sync.Cond

	seedHost string
	blocked  *blockrules.Counts
}

// New creates an empty Frontier scoped to seedHost, with the given
// capacity (0 means DefaultCapacity).
func New(seedHost string, capacity int) *Frontier {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	f := &Frontier{
		queue:      list.New(),
		queued:     make(map[string]struct{}),
		visited:    make(map[string]struct{}),
		inProgress: make(map[string]struct{}),
		capacity:   capacity,
		seedHost:   seedHost,
		blocked:    blockrules.NewCounts(),
	}
	f.notEmpty = sync.NewCond(&f.mu)
	return f
}

// Enqueue canonicalizes urlRaw and, if it is new and not blocked, appends it
// to the queue. Returns false (with no error) for duplicates, scope
// rejections, and invalid URLs — those are the caller's silent-discard
// kinds per §7 — and returns (false, *ErrQueueFull) when the queue is at
// capacity.
func (f *Frontier) Enqueue(urlRaw, parent string, depth int) (bool, error) {
	canon, err := canonical.Canonicalize(urlRaw, f.seedHost)
	if err != nil {
		return false, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false, nil
	}
	if _, ok := f.visited[canon]; ok {
		return false, nil
	}
	if _, ok := f.inProgress[canon]; ok {
		return false, nil
	}
	if _, ok := f.queued[canon]; ok {
		return false, nil
	}

	if parsed, perr := url.Parse(canon); perr == nil {
		if rule, blocked := blockrules.Classify(parsed); blocked {
			f.blocked.Record(rule)
			f.visited[canon] = struct{}{}
			return false, nil
		}
	}

	if f.queue.Len() >= f.capacity {
		return false, &ErrQueueFull{URL: canon}
	}

	f.queue.PushBack(&Task{CanonicalURL: canon, ParentURL: parent, Depth: depth, State: Queued})
	f.queued[canon] = struct{}{}
	f.notEmpty.Signal()
	return true, nil
}

// Dequeue blocks until a task is available or the frontier is closed. It
// atomically moves the returned task's URL into in_progress. Returns nil,
// false when the frontier is closed and drained (the terminal sentinel).
func (f *Frontier) Dequeue() (*Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.queue.Len() == 0 {
		if f.closed {
			return nil, false
		}
		f.notEmpty.Wait()
	}

	elem := f.queue.Front()
	f.queue.Remove(elem)
	task := elem.Value.(*Task)

	delete(f.queued, task.CanonicalURL)
	task.State = InProgress
	f.inProgress[task.CanonicalURL] = struct{}{}
	return task, true
}

// TryDequeue is Dequeue's non-blocking counterpart: it returns immediately
// with (nil, false) if the queue is empty, closed or not, instead of
// waiting on notEmpty. Used by pool loops that need to check their own stop
// signal between dequeue attempts rather than block uninterruptibly.
func (f *Frontier) TryDequeue() (*Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.queue.Len() == 0 {
		return nil, false
	}

	elem := f.queue.Front()
	f.queue.Remove(elem)
	task := elem.Value.(*Task)

	delete(f.queued, task.CanonicalURL)
	task.State = InProgress
	f.inProgress[task.CanonicalURL] = struct{}{}
	return task, true
}

// IsClosed reports whether Close has been called.
func (f *Frontier) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// MarkDone removes url from in_progress and adds it to visited.
func (f *Frontier) MarkDone(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inProgress, url)
	f.visited[url] = struct{}{}
}

// MarkFailed is MarkDone's counterpart for permanently failed URLs; both
// land in visited, matching §4.2's "visited (canonical URLs completed or
// permanently failed)".
func (f *Frontier) MarkFailed(url string) {
	f.MarkDone(url)
}

// MarkRetry removes url from in_progress and re-enqueues the task at the
// head of the queue for immediate retry. Per §9, retries never re-enter by
// canonical-URL dedup checks — the caller already owns the task and the
// bounded attempt count lives in the Fetcher, not here.
func (f *Frontier) MarkRetry(task *Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inProgress, task.CanonicalURL)
	task.State = Queued
	f.queue.PushFront(task)
	f.queued[task.CanonicalURL] = struct{}{}
	f.notEmpty.Signal()
}

// PendingCount returns len(queue) + len(in_progress).
func (f *Frontier) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len() + len(f.inProgress)
}

// Close marks the frontier closed and wakes any blocked Dequeue callers so
// they observe drain. Further Enqueue calls are no-ops.
func (f *Frontier) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.notEmpty.Broadcast()
}

// BlockedCounts returns the per-rule-class block counts accumulated by this
// frontier's Enqueue calls, for the end-of-job BLOCKED URL REPORT.
func (f *Frontier) BlockedCounts() map[blockrules.Rule]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked.Snapshot()
}

// Stats is a point-in-time snapshot of frontier membership sizes.
type Stats struct {
	Queued     int
	InProgress int
	Visited    int
}

// Stats returns a snapshot of the frontier's membership sizes.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Queued:     f.queue.Len(),
		InProgress: len(f.inProgress),
		Visited:    len(f.visited),
	}
}
