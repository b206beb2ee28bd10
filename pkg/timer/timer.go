// Package timer implements the sequencer's deadline wheel: a min-heap of
// pending expiries ordered by (deadline, insertion sequence), polled
// cooperatively from the sequencer's work cycle.
package timer

import "container/heap"

// entry is one scheduled timer, ordered by deadline then sequence so ties
// resolve in the order they were scheduled.
type entry struct {
	correlationID int64
	deadlineMs    int64
	sequence      int64
	index         int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].deadlineMs != h[j].deadlineMs {
		return h[i].deadlineMs < h[j].deadlineMs
	}
	return h[i].sequence < h[j].sequence
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Service schedules and polls correlation-id-keyed deadlines.
type Service struct {
	heap    entryHeap
	byID    map[int64]*entry
	nextSeq int64
}

// NewService builds an empty timer service.
func NewService() *Service {
	return &Service{byID: make(map[int64]*entry)}
}

// Schedule arms (or re-arms) a timer for correlationID at deadlineMs.
// Re-scheduling an existing id replaces its deadline.
func (s *Service) Schedule(correlationID int64, deadlineMs int64) {
	if e, ok := s.byID[correlationID]; ok {
		heap.Remove(&s.heap, e.index)
	}
	e := &entry{correlationID: correlationID, deadlineMs: deadlineMs, sequence: s.nextSeq}
	s.nextSeq++
	s.byID[correlationID] = e
	heap.Push(&s.heap, e)
}

// Cancel disarms correlationID's timer, if any. Returns true if a timer was
// actually removed.
func (s *Service) Cancel(correlationID int64) bool {
	e, ok := s.byID[correlationID]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, e.index)
	delete(s.byID, correlationID)
	return true
}

// Poll fires up to limit expired timers (deadlineMs <= now), in deadline
// order, invoking fire(correlationID) for each. Returns the count fired.
func (s *Service) Poll(now int64, limit int, fire func(correlationID int64)) int {
	fired := 0
	for fired < limit && s.heap.Len() > 0 {
		next := s.heap[0]
		if next.deadlineMs > now {
			break
		}
		heap.Pop(&s.heap)
		delete(s.byID, next.correlationID)
		fire(next.correlationID)
		fired++
	}
	return fired
}

// Len returns the number of armed timers.
func (s *Service) Len() int {
	return s.heap.Len()
}
