package session

import (
	"sync"

	"github.com/openvela/mediad/internal/errors"
)

// Cookie identifies a connection to the mediator without the mediator
// importing the reactor package; the adapter in this package's Module
// mints one per connection on registration.
type Cookie uint64

// ControlEvent is a control-event code forwarded from a controller to
// the current most-active controllee's notify channel.
type ControlEvent int32

const (
	EventStart ControlEvent = iota
	EventPause
	EventStop
	EventPrevSong
	EventNextSong
	EventIncreaseVolume
	EventDecreaseVolume
)

var commandToEvent = map[string]ControlEvent{
	"start":      EventStart,
	"pause":      EventPause,
	"stop":       EventStop,
	"prev":       EventPrevSong,
	"next":       EventNextSong,
	"volumeup":   EventIncreaseVolume,
	"volumedown": EventDecreaseVolume,
}

// ControllerCallbacks are the async deliveries a registered controller
// receives. OnChanged fires when the identity of the most-active
// controllee changes (including to/from none); OnUpdated fires when the
// current most-active controllee's metadata changes without a head
// switch; OnStatus fires on a raw event passthrough from the controllee.
type ControllerCallbacks struct {
	OnChanged func(mask FieldMask, md Metadata)
	OnUpdated func(mask FieldMask, md Metadata)
	OnStatus  func(event int32, result int32, extra string)
}

type controller struct {
	cookie      Cookie
	wantsEvents bool
	callbacks   ControllerCallbacks
}

// ControlleeForward is how the mediator delivers a control event to the
// controllee a controller just transacted against.
type ControlleeForward func(event ControlEvent, arg string) error

type controllee struct {
	cookie   Cookie
	metadata Metadata
	forward  ControlleeForward
}

// Mediator holds the controller list and the controllee list (head =
// most active) and implements the broadcast/forwarding rules between
// them.
type Mediator struct {
	mu          sync.Mutex
	controllers []*controller
	controllees []*controllee

	onRosterChanged func(controllers, controllees int)
}

// NewMediator returns an empty mediator.
func NewMediator() *Mediator { return &Mediator{} }

// SetRosterHook registers fn to be called with the current controller
// and controllee counts whenever either list changes — the mediator's
// only tie to metrics, kept as a narrow callback rather than an import.
func (m *Mediator) SetRosterHook(fn func(controllers, controllees int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRosterChanged = fn
}

func (m *Mediator) reportRosterLocked() {
	if m.onRosterChanged != nil {
		m.onRosterChanged(len(m.controllers), len(m.controllees))
	}
}

// OpenController registers cookie as a controller. wantsEvents starts
// false; call SetEvent to enable broadcast delivery.
func (m *Mediator) OpenController(cookie Cookie, cb ControllerCallbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllers = append(m.controllers, &controller{cookie: cookie, callbacks: cb})
	m.reportRosterLocked()
}

// SetEvent marks a controller as wanting CHANGED/UPDATED/status delivery.
func (m *Mediator) SetEvent(cookie Cookie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.findControllerLocked(cookie)
	if c == nil {
		return errors.NewNotFoundError("session.setEvent", nil)
	}
	c.wantsEvents = true
	return nil
}

// CloseController unregisters a controller; no broadcast is sent.
func (m *Mediator) CloseController(cookie Cookie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.controllers {
		if c.cookie == cookie {
			m.controllers = append(m.controllers[:i], m.controllers[i+1:]...)
			m.reportRosterLocked()
			return
		}
	}
}

// RegisterControllee adds cookie to the tail of the controllee list.
// If the list was empty, this entry becomes head and CHANGED is
// broadcast.
func (m *Mediator) RegisterControllee(cookie Cookie, forward ControlleeForward) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wasEmpty := len(m.controllees) == 0
	m.controllees = append(m.controllees, &controllee{cookie: cookie, forward: forward})
	m.reportRosterLocked()
	if wasEmpty {
		m.broadcastChangedLocked(m.controllees[0].metadata.Mask)
	}
}

// UnregisterControllee removes cookie. If it was head, CHANGED is
// broadcast with the new head (or zero Metadata if the list is now
// empty).
func (m *Mediator) UnregisterControllee(cookie Cookie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.controllees {
		if c.cookie == cookie {
			wasHead := i == 0
			m.controllees = append(m.controllees[:i], m.controllees[i+1:]...)
			m.reportRosterLocked()
			if wasHead {
				md := Metadata{}
				if len(m.controllees) > 0 {
					md = m.controllees[0].metadata
				}
				m.broadcastChangedLocked(md.Mask)
			}
			return
		}
	}
}

// UpdateMetadata merges diff into cookie's metadata. If cookie is head,
// UPDATED is broadcast with the applied mask. If cookie is not head but
// the diff marks State present with a positive value, cookie is
// promoted to head and CHANGED is broadcast instead.
func (m *Mediator) UpdateMetadata(cookie Cookie, diff Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOfControlleeLocked(cookie)
	if idx < 0 {
		return errors.NewNotFoundError("session.update", nil)
	}
	c := m.controllees[idx]
	applied := c.metadata.Merge(diff)

	if idx == 0 {
		m.broadcastUpdatedLocked(applied)
		return nil
	}

	if diff.Mask&FieldState != 0 && diff.State > 0 {
		m.controllees = append(m.controllees[:idx], m.controllees[idx+1:]...)
		m.controllees = append([]*controllee{c}, m.controllees...)
		m.broadcastChangedLocked(applied)
	}
	return nil
}

// Event forwards a raw (event, result, extra) status passthrough from
// cookie's controllee to every event-subscribed controller, but only if
// cookie is the current head (non-head controllees are not audible, so
// their status is not forwarded).
func (m *Mediator) Event(cookie Cookie, event, result int32, extra string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.controllees) == 0 || m.controllees[0].cookie != cookie {
		return
	}
	for _, ctl := range m.controllers {
		if ctl.wantsEvents && ctl.callbacks.OnStatus != nil {
			ctl.callbacks.OnStatus(event, result, extra)
		}
	}
}

// Query returns the head controllee's metadata.
func (m *Mediator) Query() (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.controllees) == 0 {
		return Metadata{}, errors.NewNotFoundError("session.query", nil)
	}
	return m.controllees[0].metadata, nil
}

// Transact maps a control command name to a ControlEvent and forwards it
// to the head controllee. "query" is handled by the caller via Query,
// not through this path.
func (m *Mediator) Transact(cmd string, arg string) error {
	event, ok := commandToEvent[cmd]
	if !ok {
		return errors.NewUnsupportedError("session.transact." + cmd)
	}

	m.mu.Lock()
	if len(m.controllees) == 0 {
		m.mu.Unlock()
		return errors.NewNotFoundError("session.transact", nil)
	}
	head := m.controllees[0]
	m.mu.Unlock()

	if head.forward == nil {
		return nil
	}
	return head.forward(event, arg)
}

// broadcastChangedLocked sends CHANGED with the new head's metadata to
// every event-subscribed controller, tagged with mask — the caller
// decides whether that's the new head's full accumulated mask (a head
// switch with no single triggering diff: register-into-empty,
// unregister-promotes-next) or the diff that triggered the promotion
// (UpdateMetadata promoting a non-head controllee to head).
func (m *Mediator) broadcastChangedLocked(mask FieldMask) {
	md := Metadata{}
	if len(m.controllees) > 0 {
		md = m.controllees[0].metadata
	}
	for _, ctl := range m.controllers {
		if ctl.wantsEvents && ctl.callbacks.OnChanged != nil {
			ctl.callbacks.OnChanged(mask, md)
		}
	}
}

func (m *Mediator) broadcastUpdatedLocked(mask FieldMask) {
	md := m.controllees[0].metadata
	for _, ctl := range m.controllers {
		if ctl.wantsEvents && ctl.callbacks.OnUpdated != nil {
			ctl.callbacks.OnUpdated(mask, md)
		}
	}
}

func (m *Mediator) findControllerLocked(cookie Cookie) *controller {
	for _, c := range m.controllers {
		if c.cookie == cookie {
			return c
		}
	}
	return nil
}

func (m *Mediator) indexOfControlleeLocked(cookie Cookie) int {
	for i, c := range m.controllees {
		if c.cookie == cookie {
			return i
		}
	}
	return -1
}
