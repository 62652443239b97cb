package registry

import (
	"strconv"
	"strings"

	"github.com/openvela/mediad/internal/errors"
	"github.com/openvela/mediad/internal/metadata"
	mod "github.com/openvela/mediad/internal/module"
	"github.com/openvela/mediad/internal/parcel"
	"github.com/openvela/mediad/internal/session"
)

// ConnData remembers the handle ids a connection has opened so Detach
// can release them without the reactor tracking registry internals.
type ConnData struct {
	handles []int32
}

func (ConnData) isConnData() {}

// Module adapts a Registry onto the wire dispatch contract for either
// PLAYER or RECORDER; id distinguishes which module identity it answers
// to since the two share every verb (recorder adds take_picture).
type Module struct {
	id       mod.ID
	kind     Kind
	registry *Registry
}

// NewPlayerModule and NewRecorderModule both front the same underlying
// Registry: nodes are tagged by Kind, so a player module opening a node
// can never claim a node a recorder module owns.
func NewPlayerModule(r *Registry) *Module { return &Module{id: mod.Player, kind: KindPlayer, registry: r} }
func NewRecorderModule(r *Registry) *Module {
	return &Module{id: mod.Recorder, kind: KindRecorder, registry: r}
}

func (m *Module) ID() mod.ID { return m.id }

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

	if cmd == "open" {
		h, openErr := m.registry.Open(m.kind)
		if openErr != nil {
			return errors.Errno(openErr), ""
		}
		d, _ := conn.Data().(ConnData)
		d.handles = append(d.handles, h.ID)
		conn.SetData(d)
		return 0, strconv.FormatInt(int64(h.ID), 10)
	}

	id, convErr := strconv.ParseInt(target, 10, 32)
	if convErr != nil {
		return errors.Errno(errors.NewProtocolError("registry.target", convErr)), ""
	}
	handle := int32(id)

	switch cmd {
	case "close":
		if err := m.registry.Close(handle); err != nil {
			return errors.Errno(err), ""
		}
		m.forgetHandle(conn, handle)
		return 0, ""

	case "prepare":
		if arg == "" {
			key, err := m.registry.PrepareBuffered(handle)
			if err != nil {
				return errors.Errno(err), ""
			}
			return 0, key
		}
		url, _, _ := strings.Cut(arg, "|")
		if err := m.registry.Prepare(handle, url); err != nil {
			return errors.Errno(err), ""
		}
		if m.kind == KindPlayer {
			m.enrichFromURL(handle, url)
		}
		return 0, ""

	case "close_socket":
		if err := m.registry.CloseSocket(handle); err != nil {
			return errors.Errno(err), ""
		}
		return 0, ""

	case "start":
		return ackErr(m.registry.Start(handle))
	case "stop":
		return ackErr(m.registry.Stop(handle))
	case "pause":
		return ackErr(m.registry.Pause(handle))
	case "reset":
		return ackErr(m.registry.Reset(handle))

	case "seek":
		pos, perr := strconv.ParseInt(arg, 10, 64)
		if perr != nil {
			return errors.Errno(errors.NewProtocolError("registry.seek", perr)), ""
		}
		return ackErr(m.registry.Seek(handle, pos))

	case "set_loop":
		return ackErr(m.registry.SetLoop(handle, arg == "1" || arg == "true"))

	case "set_volume":
		vol, perr := strconv.ParseInt(arg, 10, 32)
		if perr != nil {
			return errors.Errno(errors.NewProtocolError("registry.setVolume", perr)), ""
		}
		return ackErr(m.registry.SetVolume(handle, int32(vol)))

	case "set_property":
		key, val, _ := strings.Cut(arg, "=")
		return ackErr(m.registry.SetProperty(handle, key, val))

	case "get_property":
		val, err := m.registry.GetProperty(handle, arg)
		if err != nil {
			return errors.Errno(err), ""
		}
		return 0, val

	case "get_volume":
		snap, err := m.registry.Snapshot(handle)
		if err != nil {
			return errors.Errno(err), ""
		}
		return 0, strconv.FormatInt(int64(snap.Volume), 10)

	case "get_position":
		snap, err := m.registry.Snapshot(handle)
		if err != nil {
			return errors.Errno(err), ""
		}
		return 0, strconv.FormatInt(snap.PositionMS, 10)

	case "get_duration":
		snap, err := m.registry.Snapshot(handle)
		if err != nil {
			return errors.Errno(err), ""
		}
		return 0, strconv.FormatInt(snap.DurationMS, 10)

	case "get_playing":
		snap, err := m.registry.Snapshot(handle)
		if err != nil {
			return errors.Errno(err), ""
		}
		playing := "0"
		if snap.State == StateStarted {
			playing = "1"
		}
		return 0, playing

	case "set_event":
		return 0, "" // async state deliveries ride the notify channel, not tracked here

	case "take_picture":
		if m.kind != KindRecorder {
			return errors.Errno(errors.NewUnsupportedError("registry.take_picture")), ""
		}
		return 0, ""

	default:
		return errors.Errno(errors.NewUnsupportedError("registry." + cmd)), ""
	}
}

func (m *Module) Detach(conn mod.Conn) {
	d, ok := conn.Data().(ConnData)
	if !ok {
		return
	}
	for _, id := range d.handles {
		_ = m.registry.Close(id)
	}
}

func (m *Module) forgetHandle(conn mod.Conn, id int32) {
	d, ok := conn.Data().(ConnData)
	if !ok {
		return
	}
	for i, h := range d.handles {
		if h == id {
			d.handles = append(d.handles[:i], d.handles[i+1:]...)
			break
		}
	}
	conn.SetData(d)
}

// enrichFromURL reads local-file tags and stashes any title/artist/album
// found as handle properties, so a get_property("title") after prepare
// reflects the file's embedded metadata without the client having to read
// the file itself. Best-effort: an unreadable or remote URL leaves the
// handle's properties untouched.
func (m *Module) enrichFromURL(handle int32, url string) {
	diff := metadata.EnrichFromURL(url)
	if diff.Mask&session.FieldTitle != 0 {
		_ = m.registry.SetProperty(handle, "title", diff.Title)
	}
	if diff.Mask&session.FieldArtist != 0 {
		_ = m.registry.SetProperty(handle, "artist", diff.Artist)
	}
	if diff.Mask&session.FieldAlbum != 0 {
		_ = m.registry.SetProperty(handle, "album", diff.Album)
	}
}

func ackErr(err error) (int32, string) {
	if err != nil {
		return errors.Errno(err), ""
	}
	return 0, ""
}
