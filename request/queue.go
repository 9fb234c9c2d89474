package request

import "container/heap"

// taskHeap orders pending tasks by (priority desc, createdAt asc, seq asc).
// The seq tiebreak keeps submission order stable when the fake clock hands
// out identical timestamps.
type taskHeap []*task

var _ heap.Interface = (*taskHeap)(nil)

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.op.Priority != b.op.Priority {
		return a.op.Priority > b.op.Priority
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.seq < b.seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
