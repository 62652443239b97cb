// Package module defines the shared contract every wire module (graph,
// policy, player, recorder, session, focus) implements, and the sum type
// a connection uses to hold whichever module's per-connection state it
// has accumulated.
package module

import "github.com/openvela/mediad/internal/parcel"

// ID is the leading int32 in every parcel body; the reactor reads it to
// pick a Handler from its dispatch table before handing the rest of the
// body to that handler to decode itself.
type ID int32

const (
	Graph    ID = 1
	Policy   ID = 2
	Player   ID = 3
	Recorder ID = 4
	Session  ID = 5
	Focus    ID = 6
)

func (id ID) String() string {
	switch id {
	case Graph:
		return "graph"
	case Policy:
		return "policy"
	case Player:
		return "player"
	case Recorder:
		return "recorder"
	case Session:
		return "session"
	case Focus:
		return "focus"
	default:
		return "unknown"
	}
}

// Conn is the subset of the reactor's connection type a module handler
// needs: an identity for logging, and the ability to push an
// asynchronous notification back to the client. Handlers never see more
// of the reactor than this.
type Conn interface {
	ID() string
	Data() ConnData
	SetData(ConnData)
	Notify(p *parcel.Parcel) error
	// Alive reports whether the connection is still open.
	Alive() bool
}

// Handler is a dispatch-table entry: one per module ID, decoding its own
// module-specific fields from the parcel body the reactor hands it
// after stripping the leading module ID.
type Handler interface {
	ID() ID

	// Handle runs the command carried by in. ack is true for SEND_ACK
	// (the reactor will wrap (ret, response) into a Reply) and false for
	// SEND (the return values are discarded, but Handle must still apply
	// the side effect).
	Handle(conn Conn, ack bool, in *parcel.Parcel) (ret int32, response string)

	// Detach releases whatever this module attached to conn's ConnData
	// when the connection closes (unregisters a session controllee,
	// abandons a focus request, releases a player/recorder handle).
	// Detach is a no-op if conn never engaged this module.
	Detach(conn Conn)
}

// ConnData is a closed sum type: the per-connection state a module
// attaches to a Conn. Exactly one module "owns" a given connection's
// data at a time in this daemon's usage (a connection is either a
// session controller, a session controllee, a focus client, a player
// handle owner, or a recorder handle owner — never more than one).
type ConnData interface {
	isConnData()
}

// None is the zero value for connections that haven't engaged any
// stateful module yet (e.g. a fresh policy-only or graph-only client).
type None struct{}

func (None) isConnData() {}
