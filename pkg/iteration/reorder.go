package iteration

// reorder delivers completions to a sink in dispatch order. Completions that
// arrive early are held until every lower index has been delivered or
// skipped. It is not safe for concurrent use; the driver serializes calls.
type reorder[R any] struct {
	sink    Sink[R]
	next    int
	pending map[int]slot[R]
}

type slot[R any] struct {
	value R
	ok    bool
}

func newReorder[R any](sink Sink[R]) *reorder[R] {
	return &reorder[R]{sink: sink, pending: make(map[int]slot[R])}
}

// deliver records the outcome of index and flushes every task that is now in
// order. ok=false marks a failed task, which only advances the cursor. Sink
// errors are reported through onErr with the index they were raised for.
// deliver stops flushing when onErr returns false.
func (r *reorder[R]) deliver(index int, value R, ok bool, onErr func(index int, err error) bool) {
	r.pending[index] = slot[R]{value: value, ok: ok}
	for {
		s, ready := r.pending[r.next]
		if !ready {
			return
		}
		delete(r.pending, r.next)
		current := r.next
		r.next++
		if !s.ok {
			continue
		}
		if err := r.sink(current, s.value); err != nil && !onErr(current, err) {
			return
		}
	}
}
