package scheduler

import (
	"container/heap"
	"time"

	"github.com/joao-fontenele/fleetorders/internal/domain"
)

type boundary int

const (
	enteringDueSoon boundary = iota
	becomingOverdue
)

type deadline struct {
	at    time.Time
	kind  boundary
	order domain.WorkOrder
}

type deadlineHeap []deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)        { *h = append(*h, x.(deadline)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}

// buildDeadlines collects the boundaries of pending orders that fall strictly
// after the given time.
func buildDeadlines(pending []domain.WorkOrder, window time.Duration, after time.Time) *deadlineHeap {
	h := make(deadlineHeap, 0, 2*len(pending))
	for _, o := range pending {
		if at := o.DueAt.Add(-window); at.After(after) {
			h = append(h, deadline{at: at, kind: enteringDueSoon, order: o})
		}
		if o.DueAt.After(after) {
			h = append(h, deadline{at: o.DueAt, kind: becomingOverdue, order: o})
		}
	}
	heap.Init(&h)
	return &h
}

func (h *deadlineHeap) next() (deadline, bool) {
	if h.Len() == 0 {
		return deadline{}, false
	}
	return (*h)[0], true
}

// popThrough removes the boundaries at or before t, earliest first.
func (h *deadlineHeap) popThrough(t time.Time) []deadline {
	var out []deadline
	for h.Len() > 0 && !(*h)[0].at.After(t) {
		out = append(out, heap.Pop(h).(deadline))
	}
	return out
}
