package searcher

import "github.com/hupe1980/maxsim/core"

// Result is one ranked document.
type Result struct {
	Doc   core.DocID
	Score float32
}

// worse reports whether a ranks strictly below b: lower score, or the higher
// document id at equal score.
func worse(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}

	return a.Doc > b.Doc
}

// TopK keeps the best k results seen so far. Value-based min-heap over the
// ranking order, so the root is the worst kept result and a full heap accepts
// or rejects a candidate in O(log k) without allocating.
type TopK struct {
	k     int
	items []Result
}

// NewTopK creates a result heap holding at most k results.
func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}

	return &TopK{
		k:     k,
		items: make([]Result, 0, k),
	}
}

// Len returns the number of results currently held.
func (q *TopK) Len() int {
	return len(q.items)
}

// Push offers a result, evicting the current worst when full.
func (q *TopK) Push(r Result) {
	if q.k == 0 {
		return
	}

	if len(q.items) < q.k {
		q.items = append(q.items, r)
		q.siftUp(len(q.items) - 1)

		return
	}

	if worse(r, q.items[0]) {
		return
	}

	q.items[0] = r
	q.siftDown(0)
}

// Results drains the heap and returns its contents ordered by score
// descending, ties on ascending document id. The returned slice is non-nil
// even when empty.
func (q *TopK) Results() []Result {
	out := make([]Result, len(q.items))

	for i := len(out) - 1; i >= 0; i-- {
		out[i] = q.items[0]

		last := len(q.items) - 1
		q.items[0] = q.items[last]
		q.items = q.items[:last]

		if last > 0 {
			q.siftDown(0)
		}
	}

	return out
}

// Reset clears the heap for reuse without freeing memory.
func (q *TopK) Reset() {
	q.items = q.items[:0]
}

func (q *TopK) less(i, j int) bool {
	return worse(q.items[i], q.items[j])
}

func (q *TopK) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			break
		}

		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *TopK) siftDown(i int) {
	n := len(q.items)

	for {
		left := 2*i + 1
		if left >= n {
			break
		}

		child := left
		if right := left + 1; right < n && q.less(right, left) {
			child = right
		}

		if !q.less(child, i) {
			break
		}

		q.items[i], q.items[child] = q.items[child], q.items[i]
		i = child
	}
}
