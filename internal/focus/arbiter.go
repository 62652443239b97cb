package focus

import (
	"io"
	"sync"

	"github.com/openvela/mediad/internal/errors"
)

// Owner lets the arbiter check whether the goroutine/connection that
// requested a stack slot is still alive (this daemon tracks connections,
// not raw OS threads, so liveness is a connection check rather than a
// thread-id check).
type Owner interface {
	Alive() bool
}

// State is an entry's position relative to the stack's current top.
type State int8

const (
	StateTop State = iota
	StateUnder
)

type entry struct {
	clientID  int32
	level     int
	owner     Owner
	state     State
	onSuggest func(Suggestion)
}

// Arbiter is the focus stack: a bounded LIFO of active media clients
// ordered by who most recently won the top slot, consulted against an
// n×n interaction matrix on every new request.
type Arbiter struct {
	mu       sync.Mutex
	capacity int
	matrix   *matrix
	stack    []*entry
	free     []int32

	onDepthChanged func(depth int)
}

// SetDepthHook registers fn to be called with the current stack depth
// every time a request or removal changes it — the arbiter's only tie
// to metrics, kept as a narrow callback rather than an import so this
// package doesn't need to know what a collector is.
func (a *Arbiter) SetDepthHook(fn func(depth int)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onDepthChanged = fn
}

func (a *Arbiter) reportDepthLocked() {
	if a.onDepthChanged != nil {
		a.onDepthChanged(len(a.stack))
	}
}

// NewArbiter builds an arbiter with the given client-id capacity,
// reading its interaction matrix from r (see parseMatrix).
func NewArbiter(capacity int, r io.Reader) (*Arbiter, error) {
	m, err := parseMatrix(r)
	if err != nil {
		return nil, err
	}
	free := make([]int32, capacity)
	for i := range free {
		free[i] = int32(capacity - i) // pop from the tail, ids 1..capacity
	}
	return &Arbiter{capacity: capacity, matrix: m, free: free}, nil
}

// Request asks for focus as streamType, registering owner as the
// liveness check and onSuggest as the callback delivered passive
// suggestions when a later request displaces this one. It returns the
// suggestion the arbiter computed and a handle for later Abandon calls
// (always non-zero, even for a rejected request — see Handle).
func (a *Arbiter) Request(streamType string, owner Owner, onSuggest func(Suggestion)) (Suggestion, Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.reportDepthLocked()

	a.harvestLocked()

	level, ok := a.matrix.levelOf(streamType)
	if !ok {
		return 0, 0, errors.NewProtocolError("focus.request", nil)
	}

	clientID, ok := a.allocLocked()
	if !ok {
		return 0, 0, errors.NewResourceError("focus.request", nil)
	}

	if len(a.stack) == 0 {
		e := &entry{clientID: clientID, level: level, owner: owner, state: StateTop, onSuggest: onSuggest}
		a.stack = append([]*entry{e}, a.stack...)
		return SuggestPlay, newHandle(clientID, false), nil
	}

	top := a.stack[0]
	c := a.matrix.at(level, top.level)

	switch c.proactive {
	case SuggestPlay:
		top.state = StateUnder
		e := &entry{clientID: clientID, level: level, owner: owner, state: StateTop, onSuggest: onSuggest}
		a.stack = append([]*entry{e}, a.stack...)
		a.broadcastUnderLocked(e)
		return SuggestPlay, newHandle(clientID, false), nil

	case SuggestPlaySilent, SuggestPlayWithDuck:
		insertAt := len(a.stack)
		for i, s := range a.stack {
			if s.level < level {
				insertAt = i
				break
			}
		}
		e := &entry{clientID: clientID, level: level, owner: owner, state: StateUnder, onSuggest: onSuggest}
		a.stack = append(a.stack, nil)
		copy(a.stack[insertAt+1:], a.stack[insertAt:])
		a.stack[insertAt] = e
		a.broadcastUnderLocked(e)
		return c.proactive, newHandle(clientID, false), nil

	default: // SuggestStop, SuggestPause, SuggestPlayWithKeep: not pushed
		a.free = append(a.free, clientID)
		return c.proactive, newHandle(clientID, true), nil
	}
}

// broadcastUnderLocked delivers M[top.level][e.level].passive to every
// stacked entry except the one that triggered this push (it receives its
// suggestion synchronously as Request's return value, never via
// callback). When the push promotes a new top, that new top is the
// pushed entry itself and is excluded automatically; when the push
// inserts below an unchanged top (duck/silent), the top is still in the
// stack and not the pushed entry, so it is included and learns how to
// react to the newcomer via M[top][top].passive.
func (a *Arbiter) broadcastUnderLocked(pushed *entry) {
	top := a.stack[0]
	for _, e := range a.stack {
		if e == pushed {
			continue
		}
		c := a.matrix.at(top.level, e.level)
		if e.onSuggest != nil {
			e.onSuggest(c.passive)
		}
	}
}

// Abandon releases a previously granted handle. Abandoning a rejected
// handle (see Handle) is a deliberate no-op, not an error, per the
// decision recorded for this daemon's STOP-handle open question.
func (a *Arbiter) Abandon(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if h.rejected() {
		return nil
	}

	a.harvestLocked()

	idx := a.indexOfLocked(h.clientID())
	if idx < 0 {
		return errors.NewNotFoundError("focus.abandon", nil)
	}
	a.removeLocked(idx)
	return nil
}

// Peek returns the stream type of the current top-of-stack entry, if
// any: a read-only query with no handle-allocating or broadcasting side
// effects, useful for tests and diagnostics that just want to know who
// currently holds focus.
func (a *Arbiter) Peek() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.harvestLocked()
	if len(a.stack) == 0 {
		return "", false
	}
	return a.matrix.names[a.stack[0].level], true
}

// Harvest removes entries whose Owner reports it is no longer alive.
// Request and Abandon already harvest before mutating; Harvest is
// exposed for a periodic sweep independent of client traffic.
func (a *Arbiter) Harvest() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.harvestLocked()
}

func (a *Arbiter) harvestLocked() {
	for i := 0; i < len(a.stack); {
		if a.stack[i].owner != nil && !a.stack[i].owner.Alive() {
			a.removeLocked(i)
			continue
		}
		i++
	}
}

func (a *Arbiter) indexOfLocked(clientID int32) int {
	for i, e := range a.stack {
		if e.clientID == clientID {
			return i
		}
	}
	return -1
}

// removeLocked deletes the entry at idx, returns its client id to the
// free list, and — if it was top — promotes the new index-0 entry and
// broadcasts M[new_top.level][under.level].passive to every other entry.
func (a *Arbiter) removeLocked(idx int) {
	removed := a.stack[idx]
	wasTop := idx == 0

	a.stack = append(a.stack[:idx], a.stack[idx+1:]...)
	a.free = append(a.free, removed.clientID)
	a.reportDepthLocked()

	if !wasTop || len(a.stack) == 0 {
		return
	}

	newTop := a.stack[0]
	newTop.state = StateTop
	if newTop.onSuggest != nil {
		newTop.onSuggest(SuggestPlay)
	}
	for _, e := range a.stack[1:] {
		c := a.matrix.at(newTop.level, e.level)
		if e.onSuggest != nil {
			e.onSuggest(c.passive)
		}
	}
}

func (a *Arbiter) allocLocked() (int32, bool) {
	if len(a.free) == 0 {
		return 0, false
	}
	id := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	return id, true
}
