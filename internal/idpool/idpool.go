// Package idpool allocates identifiers from a fixed-capacity range,
// tracking unused space as a sorted list of disjoint [first,last) segments.
package idpool

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// AcquireOrder selects which end of the pool Acquire draws the next id from.
type AcquireOrder int

const (
	// Backward draws the highest unused id first.
	Backward AcquireOrder = iota
	// Forward draws the lowest unused id first.
	Forward
)

var (
	// ErrPoolEmpty is returned by Acquire when no id is unused.
	ErrPoolEmpty = errors.New("idpool: no unused ids left")
	// ErrDoubleRelease is returned by Release when the id is already unused.
	ErrDoubleRelease = errors.New("idpool: id is already in pool")
	// ErrInvalidID is returned when an id falls outside [first, first+capacity).
	ErrInvalidID = errors.New("idpool: id is out of range")
	// ErrInvalidRange is returned by New when capacity is zero or overflows.
	ErrInvalidRange = errors.New("idpool: invalid id range")
	// ErrAlreadyUsed is returned by Recovery when a booked id is no longer
	// free, i.e. it appears more than once in the booked list.
	ErrAlreadyUsed = errors.New("idpool: id is already used")
	// ErrRecoverySize is returned by Recovery when more ids are booked than capacity.
	ErrRecoverySize = errors.New("idpool: booked id count exceeds capacity")
)

// segment is a half-open range of unused ids, [first, last).
type segment struct {
	first, last uint64
}

// Pool is a capacity-bounded range of identifiers, [First, First+Capacity).
// All operations are serialized by a single mutex.
type Pool struct {
	First    uint64
	Capacity uint64

	order AcquireOrder

	mu   sync.Mutex
	free []segment
}

// New builds a pool over [first, first+capacity) with every id initially
// unused. order selects which end Acquire draws from.
func New(first, capacity uint64, order AcquireOrder) (*Pool, error) {
	if capacity == 0 || first+capacity < first {
		return nil, ErrInvalidRange
	}
	return &Pool{
		First:    first,
		Capacity: capacity,
		order:    order,
		free:     []segment{{first, first + capacity}},
	}, nil
}

// Acquire returns an unused identifier from the pool, removing it.
func (p *Pool) Acquire() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return 0, ErrPoolEmpty
	}

	var id uint64
	switch p.order {
	case Backward:
		back := &p.free[len(p.free)-1]
		back.last--
		id = back.last
		if back.first == back.last {
			p.free = p.free[:len(p.free)-1]
		}
	default: // Forward
		front := &p.free[0]
		id = front.first
		front.first++
		if front.first == front.last {
			p.free = p.free[1:]
		}
	}
	return id, nil
}

// Release returns a previously acquired id to the pool.
func (p *Pool) Release(id uint64) error {
	if !p.Inside(id) {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		p.free = append(p.free, segment{id, id + 1})
		return nil
	}

	// Find the first segment whose first is strictly greater than id.
	idx := len(p.free)
	for i, s := range p.free {
		if s.first > id {
			idx = i
			break
		}
	}
	if idx > 0 && p.free[idx-1].last > id {
		return fmt.Errorf("%w: %d", ErrDoubleRelease, id)
	}

	var prevLast, nextFirst uint64
	havePrev := idx > 0
	haveNext := idx < len(p.free)
	if havePrev {
		prevLast = p.free[idx-1].last
	}
	if haveNext {
		nextFirst = p.free[idx].first
	}

	switch {
	case havePrev && haveNext && prevLast == id && id+1 == nextFirst:
		// id joins two neighboring segments into one.
		p.free[idx-1].last = p.free[idx].last
		p.free = append(p.free[:idx], p.free[idx+1:]...)
	case havePrev && prevLast == id:
		p.free[idx-1].last++
	case haveNext && id+1 == nextFirst:
		p.free[idx].first--
	default:
		p.free = append(p.free, segment{})
		copy(p.free[idx+1:], p.free[idx:])
		p.free[idx] = segment{id, id + 1}
	}
	return nil
}

// Recovery resets the pool to fully-free, then marks every id in bookedIDs
// as allocated. It fails if any id is out of range, duplicated, or the
// pool cannot accommodate the given count.
func (p *Pool) Recovery(bookedIDs []uint64) error {
	if uint64(len(bookedIDs)) > p.Capacity {
		return ErrRecoverySize
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.free = []segment{{p.First, p.First + p.Capacity}}
	for _, id := range bookedIDs {
		if !p.Inside(id) {
			return fmt.Errorf("%w: %d", ErrInvalidID, id)
		}

		idx := -1
		for i, s := range p.free {
			if s.first <= id && id < s.last {
				idx = i
				break
			}
		}
		if idx == -1 {
			return fmt.Errorf("%w: %d", ErrAlreadyUsed, id)
		}

		s := p.free[idx]
		if s.first+1 == s.last {
			p.free = append(p.free[:idx], p.free[idx+1:]...)
			continue
		}
		if id == s.first {
			p.free[idx].first = id + 1
			continue
		}

		border := s.last
		p.free[idx].last = id
		if id+1 != border {
			rest := segment{id + 1, border}
			p.free = append(p.free, segment{})
			copy(p.free[idx+2:], p.free[idx+1:])
			p.free[idx+1] = rest
		}
	}
	return nil
}

// Unused returns the count of currently free identifiers.
func (p *Pool) Unused() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n uint64
	for _, s := range p.free {
		n += s.last - s.first
	}
	return n
}

// Used returns Capacity - Unused().
func (p *Pool) Used() uint64 {
	return p.Capacity - p.Unused()
}

// Inside reports whether val falls within [First, First+Capacity).
func (p *Pool) Inside(val uint64) bool {
	return val >= p.First && val < p.First+p.Capacity
}

// wireSegment mirrors the [first,last) pair shape used by the id-pool
// serialization format.
type wireSegment [2]uint64

type wireForm struct {
	First    uint64        `json:"first"`
	Capacity uint64        `json:"capacity"`
	Pool     []wireSegment `json:"pool"`
}

// MarshalJSON serializes the pool as {first, capacity, pool: [[lo,hi],...]}.
func (p *Pool) MarshalJSON() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := wireForm{First: p.First, Capacity: p.Capacity}
	for _, s := range p.free {
		w.Pool = append(w.Pool, wireSegment{s.first, s.last})
	}
	return json.Marshal(w)
}

// UnmarshalJSON loads a previously serialized pool. first and capacity in
// the payload must match the pool's existing configuration.
func (p *Pool) UnmarshalJSON(data []byte) error {
	var w wireForm
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.First != p.First || w.Capacity != p.Capacity {
		return fmt.Errorf("idpool: serialized (first=%d, capacity=%d) does not match pool (first=%d, capacity=%d)",
			w.First, w.Capacity, p.First, p.Capacity)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	free := make([]segment, 0, len(w.Pool))
	for _, s := range w.Pool {
		free = append(free, segment{s[0], s[1]})
	}
	p.free = free
	return nil
}
