package loop

import (
	"container/heap"
	"time"
)

// Timer is a deadline scheduled with After.
type Timer struct {
	at    time.Time
	fn    func()
	index int
	loop  *Loop
}

// When returns the deadline.
func (t *Timer) When() time.Time {
	return t.at
}

// Stop cancels the timer. It reports whether the timer was still pending.
func (t *Timer) Stop() bool {
	if t == nil || t.index < 0 {
		return false
	}
	heap.Remove(&t.loop.timers, t.index)
	return true
}

type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer) //nolint:forcetypeassert // only *Timer is pushed
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h *timerHeap) push(t *Timer) {
	heap.Push(h, t)
}

func (h *timerHeap) pop() *Timer {
	return heap.Pop(h).(*Timer) //nolint:forcetypeassert // only *Timer is pushed
}

func (h timerHeap) peek() *Timer {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
