package linkdiscovery

import (
	"container/heap"
	"time"
)

// PortRef identifies one switch port.
type PortRef struct {
	DPID uint64
	Port uint32
}

// LinkKey identifies a directed inter-switch link.
type LinkKey struct {
	Src PortRef
	Dst PortRef
}

// linkRecord is one entry in the ordered-by-deadline heap. heapIndex is
// the record's current slot in the heap, which lets refresh re-order it
// in place with heap.Fix and lets remove take it out with heap.Remove,
// both in O(log n), via container/heap's index-tracking contract.
type linkRecord struct {
	key          LinkKey
	validThrough time.Time
	heapIndex    int
}

// deadlineHeap orders linkRecords by validThrough, earliest first, giving
// the expiry tick O(log n) access to the next record to check.
type deadlineHeap []*linkRecord

func (h deadlineHeap) Len() int { return len(h) }
func (h deadlineHeap) Less(i, j int) bool {
	if h[i].validThrough.Equal(h[j].validThrough) {
		// Break ties by source/target so iteration order is
		// deterministic, matching the design's composite-key ordering.
		if h[i].key.Src != h[j].key.Src {
			return h[i].key.Src.DPID < h[j].key.Src.DPID ||
				(h[i].key.Src.DPID == h[j].key.Src.DPID && h[i].key.Src.Port < h[j].key.Src.Port)
		}
		return h[i].key.Dst.DPID < h[j].key.Dst.DPID ||
			(h[i].key.Dst.DPID == h[j].key.Dst.DPID && h[i].key.Dst.Port < h[j].key.Dst.Port)
	}
	return h[i].validThrough.Before(h[j].validThrough)
}
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *deadlineHeap) Push(x any) {
	r := x.(*linkRecord)
	r.heapIndex = len(*h)
	*h = append(*h, r)
}
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.heapIndex = -1
	*h = old[:n-1]
	return r
}

// linkTable holds the two indexes the design names: an ordered-by-deadline
// set supporting earliest-expiry scans, and a map from the source port of
// an outgoing edge to its live record for O(1) beacon-arrival lookup. Both
// indexes are mutated only while the caller holds the owning
// LinkDiscovery's mutex.
type linkTable struct {
	order deadlineHeap
	byKey map[PortRef]*linkRecord // keyed by the edge's source port

	// waiting holds a link seen exactly once, keyed on the full directed
	// pair, with the time of that first sighting so a stale waiting-link
	// (no confirming beacon within the debounce window) can be dropped
	// rather than promoted.
	waiting map[LinkKey]time.Time
}

func newLinkTable() *linkTable {
	return &linkTable{
		byKey:   make(map[PortRef]*linkRecord),
		waiting: make(map[LinkKey]time.Time),
	}
}

func (t *linkTable) insert(key LinkKey, validThrough time.Time) {
	r := &linkRecord{key: key, validThrough: validThrough}
	heap.Push(&t.order, r)
	t.byKey[key.Src] = r
}

func (t *linkTable) refresh(r *linkRecord, validThrough time.Time) {
	r.validThrough = validThrough
	heap.Fix(&t.order, r.heapIndex)
}

func (t *linkTable) remove(r *linkRecord) {
	heap.Remove(&t.order, r.heapIndex)
	delete(t.byKey, r.key.Src)
}

// popExpired removes and returns every record whose deadline is before
// now, earliest first.
func (t *linkTable) popExpired(now time.Time) []LinkKey {
	var expired []LinkKey
	for len(t.order) > 0 && t.order[0].validThrough.Before(now) {
		r := heap.Pop(&t.order).(*linkRecord)
		delete(t.byKey, r.key.Src)
		expired = append(expired, r.key)
	}
	return expired
}

// removePort removes every live record whose source or target matches
// port, returning their keys. Used by linkDown and switchUp cleanup.
func (t *linkTable) removePort(port PortRef) []LinkKey {
	var broken []LinkKey
	remaining := t.order[:0]
	for _, r := range t.order {
		if r.key.Src == port || r.key.Dst == port {
			delete(t.byKey, r.key.Src)
			broken = append(broken, r.key)
			continue
		}
		r.heapIndex = len(remaining)
		remaining = append(remaining, r)
	}
	t.order = remaining
	heap.Init(&t.order)
	for k := range t.waiting {
		if k.Src == port || k.Dst == port {
			delete(t.waiting, k)
		}
	}
	return broken
}

// removeSwitch removes every live record and waiting-link touching dpid.
func (t *linkTable) removeSwitch(dpid uint64) []LinkKey {
	var broken []LinkKey
	remaining := t.order[:0]
	for _, r := range t.order {
		if r.key.Src.DPID == dpid || r.key.Dst.DPID == dpid {
			delete(t.byKey, r.key.Src)
			broken = append(broken, r.key)
			continue
		}
		r.heapIndex = len(remaining)
		remaining = append(remaining, r)
	}
	t.order = remaining
	heap.Init(&t.order)
	for k := range t.waiting {
		if k.Src.DPID == dpid || k.Dst.DPID == dpid {
			delete(t.waiting, k)
		}
	}
	return broken
}
