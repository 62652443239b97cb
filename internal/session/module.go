package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openvela/mediad/internal/errors"
	"github.com/openvela/mediad/internal/logger"
	mod "github.com/openvela/mediad/internal/module"
	"github.com/openvela/mediad/internal/parcel"
)

// role distinguishes the two identities a connection can take in the
// mediator; a single connection is one or the other, never both.
type role int

const (
	roleController role = iota
	roleControllee
)

// ConnData is the per-connection state the session module attaches once
// a connection has opened as a controller or a controllee.
type ConnData struct {
	role   role
	cookie Cookie
}

func (ConnData) isConnData() {}

// Module adapts a Mediator onto the wire dispatch contract. Wire shape:
// target selects the role for "open"; cmd selects the operation; arg
// carries a "key=value|key=value" metadata diff for "update", an
// "event:result" pair for "event", and is forwarded as-is with control
// commands.
type Module struct {
	mediator *Mediator
	nextID   uint64
}

func NewModule(mediator *Mediator) *Module { return &Module{mediator: mediator} }

func (m *Module) ID() mod.ID { return mod.Session }

func (m *Module) Handle(conn mod.Conn, ack bool, in *parcel.Parcel) (int32, string) {
	target, err := in.ReadString()
	if err != nil {
		return errors.Errno(err), ""
	}
	cmd, err := in.ReadString()
	if err != nil {
		return errors.Errno(err), ""
	}
	arg, err := in.ReadString()
	if err != nil {
		return errors.Errno(err), ""
	}

	log := logger.WithModule(logger.WithConn(logger.Logger(), conn.ID(), ""), "session")

	switch cmd {
	case "open_controller":
		cookie := Cookie(m.alloc())
		m.mediator.OpenController(cookie, ControllerCallbacks{
			OnChanged: func(mask FieldMask, md Metadata) { m.pushEvent(conn, "changed", mask, md, log) },
			OnUpdated: func(mask FieldMask, md Metadata) { m.pushEvent(conn, "updated", mask, md, log) },
			OnStatus: func(event, result int32, extra string) {
				n := parcel.New()
				n.AppendString("session")
				n.AppendString("status")
				n.AppendInt32(event)
				n.AppendInt32(result)
				n.AppendString(extra)
				if notifyErr := conn.Notify(n); notifyErr != nil {
					log.Warn("session status notify failed", "error", notifyErr)
				}
			},
		})
		conn.SetData(ConnData{role: roleController, cookie: cookie})
		return 0, strconv.FormatUint(uint64(cookie), 10)

	case "open_controllee":
		cookie := Cookie(m.alloc())
		m.mediator.RegisterControllee(cookie, func(event ControlEvent, fwdArg string) error {
			n := parcel.New()
			n.AppendString("session")
			n.AppendString("control")
			n.AppendInt32(int32(event))
			n.AppendString(fwdArg)
			return conn.Notify(n)
		})
		conn.SetData(ConnData{role: roleControllee, cookie: cookie})
		return 0, strconv.FormatUint(uint64(cookie), 10)

	case "set_event":
		d, ok := conn.Data().(ConnData)
		if !ok || d.role != roleController {
			return errors.Errno(errors.NewProtocolError("session.set_event", nil)), ""
		}
		if err := m.mediator.SetEvent(d.cookie); err != nil {
			return errors.Errno(err), ""
		}
		return 0, ""

	case "update":
		d, ok := conn.Data().(ConnData)
		if !ok || d.role != roleControllee {
			return errors.Errno(errors.NewProtocolError("session.update", nil)), ""
		}
		diff, err := parseMetadataDiff(arg)
		if err != nil {
			return errors.Errno(err), ""
		}
		if err := m.mediator.UpdateMetadata(d.cookie, diff); err != nil {
			return errors.Errno(err), ""
		}
		return 0, ""

	case "event":
		d, ok := conn.Data().(ConnData)
		if !ok || d.role != roleControllee {
			return errors.Errno(errors.NewProtocolError("session.event", nil)), ""
		}
		var event, result int32
		if _, scanErr := fmt.Sscanf(arg, "%d:%d", &event, &result); scanErr != nil {
			return errors.Errno(errors.NewProtocolError("session.event", scanErr)), ""
		}
		m.mediator.Event(d.cookie, event, result, "")
		return 0, ""

	case "query":
		_ = target
		md, err := m.mediator.Query()
		if err != nil {
			return errors.Errno(err), ""
		}
		return 0, formatMetadata(md)

	default:
		event, known := commandToEvent[cmd]
		if !known {
			return errors.Errno(errors.NewUnsupportedError("session." + cmd)), ""
		}
		_ = event
		if err := m.mediator.Transact(cmd, arg); err != nil {
			return errors.Errno(err), ""
		}
		return 0, ""
	}
}

func (m *Module) Detach(conn mod.Conn) {
	d, ok := conn.Data().(ConnData)
	if !ok {
		return
	}
	switch d.role {
	case roleController:
		m.mediator.CloseController(d.cookie)
	case roleControllee:
		m.mediator.UnregisterControllee(d.cookie)
	}
}

func (m *Module) alloc() uint64 {
	m.nextID++
	return m.nextID
}

func (m *Module) pushEvent(conn mod.Conn, kind string, mask FieldMask, md Metadata, log interface {
	Warn(string, ...any)
}) {
	n := parcel.New()
	n.AppendString("session")
	n.AppendString(kind)
	n.AppendUint32(uint32(mask))
	n.AppendString(formatMetadata(md))
	if err := conn.Notify(n); err != nil {
		log.Warn("session " + kind + " notify failed")
	}
}

func formatMetadata(md Metadata) string {
	return fmt.Sprintf("state=%d|volume=%d|position=%d|duration=%d|title=%s|artist=%s|album=%s",
		md.State, md.Volume, md.PositionMS, md.DurationMS, md.Title, md.Artist, md.Album)
}

func parseMetadataDiff(arg string) (Metadata, error) {
	var md Metadata
	if arg == "" {
		return md, nil
	}
	for _, kv := range strings.Split(arg, "|") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return Metadata{}, errors.NewProtocolError("session.parseDiff", fmt.Errorf("malformed field %q", kv))
		}
		key, val := parts[0], parts[1]
		var parseErr error
		switch key {
		case "state":
			var v int64
			v, parseErr = strconv.ParseInt(val, 10, 32)
			md.State = int32(v)
			md.Mask |= FieldState
		case "volume":
			var v int64
			v, parseErr = strconv.ParseInt(val, 10, 32)
			md.Volume = int32(v)
			md.Mask |= FieldVolume
		case "position":
			md.PositionMS, parseErr = strconv.ParseInt(val, 10, 64)
			md.Mask |= FieldPosition
		case "duration":
			md.DurationMS, parseErr = strconv.ParseInt(val, 10, 64)
			md.Mask |= FieldDuration
		case "title":
			md.Title = val
			md.Mask |= FieldTitle
		case "artist":
			md.Artist = val
			md.Mask |= FieldArtist
		case "album":
			md.Album = val
			md.Mask |= FieldAlbum
		default:
			return Metadata{}, errors.NewProtocolError("session.parseDiff", fmt.Errorf("unknown field %q", key))
		}
		if parseErr != nil {
			return Metadata{}, errors.NewProtocolError("session.parseDiff", parseErr)
		}
	}
	return md, nil
}
