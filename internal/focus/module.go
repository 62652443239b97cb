package focus

import (
	"fmt"
	"strconv"

	"github.com/openvela/mediad/internal/errors"
	"github.com/openvela/mediad/internal/logger"
	mod "github.com/openvela/mediad/internal/module"
	"github.com/openvela/mediad/internal/parcel"
)

// ConnData is the per-connection state a connection acquires once it has
// an outstanding focus request: the handle, used by Detach to abandon on
// disconnect.
type ConnData struct {
	handle Handle
	owner  *connOwner
}

func (ConnData) isConnData() {}

// connOwner adapts a mod.Conn's lifetime into an Owner the arbiter can
// poll for liveness.
type connOwner struct {
	alive func() bool
}

func (o *connOwner) Alive() bool { return o.alive() }

// Module adapts an Arbiter onto the wire dispatch contract. Wire shape:
// target carries the stream type for "request" and the handle (decimal
// string) for "abandon"; cmd selects the operation; "peek" ignores
// target.
type Module struct {
	arbiter *Arbiter
}

// NewModule wraps arbiter as a dispatchable module.Handler.
func NewModule(arbiter *Arbiter) *Module { return &Module{arbiter: arbiter} }

func (m *Module) ID() mod.ID { return mod.Focus }

func (m *Module) Handle(conn mod.Conn, ack bool, in *parcel.Parcel) (int32, string) {
	target, err := in.ReadString()
	if err != nil {
		return errors.Errno(err), ""
	}
	cmd, err := in.ReadString()
	if err != nil {
		return errors.Errno(err), ""
	}

	log := logger.WithModule(logger.WithConn(logger.Logger(), conn.ID(), ""), "focus")

	switch cmd {
	case "request":
		owner := &connOwner{alive: conn.Alive}
		_, handle, err := m.arbiter.Request(target, owner, func(s Suggestion) {
			n := parcel.New()
			n.AppendString("focus")
			n.AppendString("suggest")
			n.AppendInt32(int32(s))
			if notifyErr := conn.Notify(n); notifyErr != nil {
				log.Warn("focus notify failed", "error", notifyErr)
			}
		})
		if err != nil {
			return errors.Errno(err), ""
		}
		conn.SetData(ConnData{handle: handle, owner: owner})
		return 0, strconv.FormatUint(uint64(handle), 10)

	case "abandon":
		h, convErr := strconv.ParseUint(target, 10, 32)
		if convErr != nil {
			return errors.Errno(errors.NewProtocolError("focus.abandon", convErr)), ""
		}
		if err := m.arbiter.Abandon(Handle(h)); err != nil {
			return errors.Errno(err), ""
		}
		conn.SetData(mod.None{})
		return 0, ""

	case "peek":
		streamType, ok := m.arbiter.Peek()
		if !ok {
			return errors.Errno(errors.NewNotFoundError("focus.peek", nil)), ""
		}
		return 0, streamType

	default:
		return errors.Errno(errors.NewUnsupportedError(fmt.Sprintf("focus.%s", cmd))), ""
	}
}

func (m *Module) Detach(conn mod.Conn) {
	w, ok := conn.Data().(ConnData)
	if !ok {
		return
	}
	_ = m.arbiter.Abandon(w.handle)
}
