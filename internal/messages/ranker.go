package messages

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type rankEntry struct {
	msg   Message
	index int
}

// higher reports whether a ranks above b: more likes first, then older first.
func higher(a, b *Message) bool {
	if a.LikeCount != b.LikeCount {
		return a.LikeCount > b.LikeCount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

type rankHeap []*rankEntry

func (h rankHeap) Len() int           { return len(h) }
func (h rankHeap) Less(i, j int) bool { return higher(&h[i].msg, &h[j].msg) }
func (h rankHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *rankHeap) Push(x interface{}) {
	e := x.(*rankEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *rankHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Ranker is an indexed max-heap of messages not yet displayed. Like-count
// changes re-position a single entry in O(log n).
type Ranker struct {
	mu   sync.Mutex
	h    rankHeap
	byID map[uuid.UUID]*rankEntry
}

func NewRanker() *Ranker {
	return &Ranker{byID: make(map[uuid.UUID]*rankEntry)}
}

// Add inserts m, or refreshes it when already present.
func (r *Ranker) Add(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[m.ID]; ok {
		e.msg = m
		heap.Fix(&r.h, e.index)
		return
	}
	e := &rankEntry{msg: m}
	heap.Push(&r.h, e)
	r.byID[m.ID] = e
}

// SetLikes updates the like count of a ranked message.
func (r *Ranker) SetLikes(id uuid.UUID, likes int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	e.msg.LikeCount = likes
	heap.Fix(&r.h, e.index)
	return true
}

// Remove drops id from the ranking.
func (r *Ranker) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&r.h, e.index)
	delete(r.byID, id)
	return true
}

// Peek returns the top message without removing it.
func (r *Ranker) Peek() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.h) == 0 {
		return Message{}, false
	}
	return r.h[0].msg, true
}

// Top returns up to n messages in rank order.
func (r *Ranker) Top(n int) []Message {
	r.mu.Lock()
	out := make([]Message, len(r.h))
	for i, e := range r.h {
		out[i] = e.msg
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return higher(&out[i], &out[j]) })
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Len returns the number of ranked messages.
func (r *Ranker) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.h)
}
