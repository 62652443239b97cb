package policy

import (
	"strconv"

	"github.com/openvela/mediad/internal/errors"
	mod "github.com/openvela/mediad/internal/module"
	"github.com/openvela/mediad/internal/parcel"
)

// Module adapts a Store onto the wire dispatch contract. Wire shape:
// name:str, cmd:str, value:str, apply:i32, resp_len:i32.
type Module struct {
	store *Store
}

func NewModule(store *Store) *Module { return &Module{store: store} }

func (m *Module) ID() mod.ID { return mod.Policy }

func (m *Module) Handle(conn mod.Conn, ack bool, in *parcel.Parcel) (int32, string) {
	name, err := in.ReadString()
	if err != nil {
		return errors.Errno(err), ""
	}
	cmd, err := in.ReadString()
	if err != nil {
		return errors.Errno(err), ""
	}
	value, err := in.ReadString()
	if err != nil {
		return errors.Errno(err), ""
	}
	applyFlag, err := in.ReadInt32()
	if err != nil {
		return errors.Errno(err), ""
	}
	apply := applyFlag != 0

	switch cmd {
	case "set_int":
		v, perr := strconv.ParseInt(value, 10, 32)
		if perr != nil {
			return errors.Errno(errors.NewProtocolError("policy.set_int", perr)), ""
		}
		return ackErr(m.store.SetInt(name, int32(v), apply))

	case "get_int":
		v, err := m.store.GetInt(name)
		if err != nil {
			return errors.Errno(err), ""
		}
		return 0, strconv.FormatInt(int64(v), 10)

	case "set_string":
		return ackErr(m.store.SetString(name, value, apply))

	case "get_string":
		v, err := m.store.GetString(name)
		if err != nil {
			return errors.Errno(err), ""
		}
		return 0, v

	case "include":
		return ackErr(m.store.Include(name, value, apply))

	case "exclude":
		return ackErr(m.store.Exclude(name, value, apply))

	case "contain":
		has, err := m.store.Contain(name, value)
		if err != nil {
			return errors.Errno(err), ""
		}
		if has {
			return 0, "1"
		}
		return 0, "0"

	case "increase":
		return ackErr(m.store.Increase(name, apply))

	case "decrease":
		return ackErr(m.store.Decrease(name, apply))

	case "subscribe":
		err := m.store.Subscribe(name, func(changed string) {
			n := parcel.New()
			n.AppendString(changed)
			n.AppendString("changed")
			if notifyErr := conn.Notify(n); notifyErr != nil {
				_ = notifyErr
			}
		})
		return ackErr(err)

	case "unsubscribe":
		m.store.Unsubscribe(name)
		return 0, ""

	case "dump":
		return 0, m.store.Dump()

	case "ping":
		return 0, m.store.Ping()

	default:
		return errors.Errno(errors.NewUnsupportedError("policy." + cmd)), ""
	}
}

func (m *Module) Detach(conn mod.Conn) {}

func ackErr(err error) (int32, string) {
	if err != nil {
		return errors.Errno(err), ""
	}
	return 0, ""
}
