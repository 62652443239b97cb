// Package registry implements the player/recorder handle registry: a
// pool of named DSP-graph nodes, auto-claimed by kind on open, each
// backing a handle that owns playback/record state and an optional
// buffer-mode side-channel socket.
package registry

import (
	"sync"

	"github.com/openvela/mediad/internal/errors"
)

// Kind distinguishes a player node from a recorder node; a handle of
// one kind only ever claims a node of the same kind.
type Kind int32

const (
	KindPlayer Kind = iota
	KindRecorder
)

// PlayState is the DSP-graph lifecycle state a handle's notify channel
// reports asynchronously; ack results never carry these.
type PlayState int32

const (
	StateIdle PlayState = iota
	StatePrepared
	StateStarted
	StatePaused
	StateStopped
	StateCompleted
)

// Node is one auto-selectable DSP-graph slot. The graph itself is out
// of scope for this daemon; a Node here is the claim unit the registry
// hands out, identified by the name the graph exposes it under.
type Node struct {
	Name string
	Kind Kind
}

// Handle is a claimed node plus its player/recorder state. Ownership is
// exclusive to the connection that opened it.
type Handle struct {
	ID         int32
	Node       *Node
	Kind       Kind
	State      PlayState
	URL        string
	Volume     int32
	PositionMS int64
	DurationMS int64
	Loop       bool
	RefCount   int32
	Properties map[string]string

	// SocketKey names the buffer-mode side-channel socket once
	// PrepareBuffered has been called; empty otherwise.
	SocketKey string
}

// Registry owns the node pool and the open handle table. In production
// it's only ever driven from reactor goroutines dispatching module
// calls, but it keeps its own internal mutex so its unit tests can drive
// it concurrently without depending on reactor wiring.
type Registry struct {
	mu      sync.Mutex
	nodes   []*Node
	claimed map[string]bool
	handles map[int32]*Handle
	nextID  int32
}

// New builds a registry over the given node pool.
func New(nodes []*Node) *Registry {
	return &Registry{
		nodes:   nodes,
		claimed: make(map[string]bool),
		handles: make(map[int32]*Handle),
	}
}

// Open claims the first free node of kind and returns a new handle over
// it. Returns a ResourceError if no node of that kind is free.
func (r *Registry) Open(kind Kind) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.nodes {
		if n.Kind != kind || r.claimed[n.Name] {
			continue
		}
		r.claimed[n.Name] = true
		r.nextID++
		h := &Handle{
			ID:         r.nextID,
			Node:       n,
			Kind:       kind,
			State:      StateIdle,
			RefCount:   1,
			Properties: make(map[string]string),
		}
		r.handles[h.ID] = h
		return h, nil
	}
	return nil, errors.NewResourceError("registry.open", nil)
}

// Close releases handle id, freeing its node for reclaim. Closing an
// already-closed id returns a NotFoundError, matching the registry's
// ack-surfaced-failure contract.
func (r *Registry) Close(id int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return errors.NewNotFoundError("registry.close", nil)
	}
	delete(r.handles, id)
	delete(r.claimed, h.Node.Name)
	return nil
}

// Get returns the live handle for id, or a NotFoundError.
func (r *Registry) Get(id int32) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, errors.NewNotFoundError("registry.get", nil)
	}
	return h, nil
}

// Prepare transitions a handle to Prepared with a playback URL. An
// empty url requests buffer mode; use PrepareBuffered for that path so
// the side-channel socket key is produced in the same step.
func (r *Registry) Prepare(id int32, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return errors.NewNotFoundError("registry.prepare", nil)
	}
	h.URL = url
	h.State = StatePrepared
	return nil
}

// PrepareBuffered transitions a handle to Prepared with no URL and
// mints the buffer-mode side-channel socket name the client will dial
// next, derived from the handle's id rather than a raw memory address.
func (r *Registry) PrepareBuffered(id int32) (socketKey string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return "", errors.NewNotFoundError("registry.prepare", nil)
	}
	h.URL = ""
	h.State = StatePrepared
	h.SocketKey = socketKeyFor(h.ID)
	return h.SocketKey, nil
}

func socketKeyFor(id int32) string {
	return "md_buf_" + itoa(id)
}

func itoa(v int32) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// CloseSocket drops the buffer-mode side channel without closing the
// handle itself.
func (r *Registry) CloseSocket(id int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return errors.NewNotFoundError("registry.closeSocket", nil)
	}
	h.SocketKey = ""
	return nil
}

// Start, Stop, Pause, Reset are the DSP transport verbs; the DSP graph
// itself is out of scope for this daemon, so these only update the
// registry's view of handle state. A real graph binding would surface
// DSP errors here as a negative ack return; absent that binding these
// are infallible state updates.
func (r *Registry) Start(id int32) error { return r.setState(id, StateStarted) }
func (r *Registry) Stop(id int32) error  { return r.setState(id, StateStopped) }
func (r *Registry) Pause(id int32) error { return r.setState(id, StatePaused) }
func (r *Registry) Reset(id int32) error { return r.setState(id, StateIdle) }

func (r *Registry) setState(id int32, s PlayState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return errors.NewNotFoundError("registry.state", nil)
	}
	h.State = s
	return nil
}

// Seek sets position directly (no DSP binding to validate against
// duration; out-of-range values are accepted as-is).
func (r *Registry) Seek(id int32, positionMS int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return errors.NewNotFoundError("registry.seek", nil)
	}
	h.PositionMS = positionMS
	return nil
}

func (r *Registry) SetLoop(id int32, loop bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return errors.NewNotFoundError("registry.setLoop", nil)
	}
	h.Loop = loop
	return nil
}

func (r *Registry) SetVolume(id int32, volume int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return errors.NewNotFoundError("registry.setVolume", nil)
	}
	h.Volume = volume
	return nil
}

func (r *Registry) SetProperty(id int32, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return errors.NewNotFoundError("registry.setProperty", nil)
	}
	h.Properties[key] = value
	return nil
}

func (r *Registry) GetProperty(id int32, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return "", errors.NewNotFoundError("registry.getProperty", nil)
	}
	return h.Properties[key], nil
}

// Snapshot returns a copy of the handle suitable for the get_{volume,
// position,duration,playing} query family; returning a copy rather than
// the live pointer avoids a caller racing the registry's own mutation
// methods outside the lock.
func (r *Registry) Snapshot(id int32) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return Handle{}, errors.NewNotFoundError("registry.snapshot", nil)
	}
	return *h, nil
}
