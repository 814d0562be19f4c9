package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"
)

// --- FIFO Task Queue ---
//
// Backed by a min-heap keyed on a monotonic sequence number, so Pop always
// returns the oldest submission. The heap keeps the door open for priority
// scheduling later without changing the queue's interface.

// qItem represents an item in the queue
type qItem struct {
	taskID string
	seq    uint64 // Monotonic submission order; lower = older
	index  int    // The index of the item in the heap (required by heap interface)
}

// seqHeap implements heap.Interface ordered by sequence number
type seqHeap []*qItem

func (h seqHeap) Len() int { return len(h) }

func (h seqHeap) Less(i, j int) bool {
	return h[i].seq < h[j].seq
}

func (h seqHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push adds an element to the heap
func (h *seqHeap) Push(x any) {
	n := len(*h)
	item := x.(*qItem)
	item.index = n
	*h = append(*h, item)
}

// Pop removes and returns the oldest element from the heap
func (h *seqHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*h = old[0 : n-1]
	return item
}

// TaskQueue is an unbounded FIFO queue of task IDs with blocking Pop.
// Add never blocks; submission order is preserved exactly.
type TaskQueue struct {
	h       seqHeap
	mu      sync.Mutex
	cond    *sync.Cond // Condition variable to wait for items
	nextSeq uint64
	closed  bool
	log     *logrus.Logger
}

// NewTaskQueue creates a new thread-safe FIFO task queue
func NewTaskQueue(logger *logrus.Logger) *TaskQueue {
	q := &TaskQueue{log: logger}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.h)
	return q
}

// Add enqueues a task ID. Never blocks; the queue is unbounded.
func (q *TaskQueue) Add(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warnf("Attempted to add task to closed queue: %s", taskID)
		return
	}

	item := &qItem{
		taskID: taskID,
		seq:    q.nextSeq,
	}
	q.nextSeq++
	heap.Push(&q.h, item)
	q.cond.Signal() // Signal one waiting worker that an item is available
}

// Pop retrieves and removes the oldest task ID.
// It blocks if the queue is empty until an item is added or the queue is closed
// Returns the ID and true, or "" and false if the queue is closed and empty
func (q *TaskQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Wait while the queue is empty AND not closed
	for len(q.h) == 0 {
		if q.closed {
			return "", false // Queue closed and empty, signal worker to exit
		}
		// Wait releases the lock and waits for a Signal/Broadcast; reacquires lock upon waking
		q.cond.Wait()
	}

	// Re-check after waking up, in case Close() was called concurrently
	if len(q.h) == 0 && q.closed {
		return "", false
	}

	item := heap.Pop(&q.h).(*qItem)
	return item.taskID, true
}

// Remove deletes a queued task ID without dispatching it. Used when a task
// is cancelled while still queued. Returns true if the ID was found.
func (q *TaskQueue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.h {
		if item.taskID == taskID {
			heap.Remove(&q.h, item.index)
			return true
		}
	}
	return false
}

// Close signals that no more items will be added to the queue
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast() // Wake up ALL waiting workers so they can check the closed status
	}
}

// Len returns the current number of items in the queue (thread-safe)
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
