// Package reactor implements the connection lifecycle and dispatch
// table: one goroutine per accepted connection reads framed parcels,
// extracts the leading module id, and hands the remainder to that
// module's Handler. Shared module state (focus stack, session lists,
// player/recorder registry) is never locked by the reactor itself, since
// each module owns its own state; this daemon runs one goroutine per
// connection rather than a single poll loop, so the dispatch table's
// handlers are responsible for their own internal locking (every Handler
// here already guards its state with a mutex for that reason).
package reactor

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/openvela/mediad/internal/errors"
	"github.com/openvela/mediad/internal/logger"
	"github.com/openvela/mediad/internal/metrics"
	mod "github.com/openvela/mediad/internal/module"
	"github.com/openvela/mediad/internal/parcel"
	"github.com/openvela/mediad/internal/transport"
	"golang.org/x/sync/errgroup"
)

// Conn is the reactor's connection object, implementing mod.Conn. Every
// module handler sees connections only through this narrow interface.
type Conn struct {
	id       string
	localCPU string
	raw      net.Conn

	notifyMu   sync.Mutex
	notifyConn net.Conn

	dataMu sync.Mutex
	data   mod.ConnData

	aliveFlag sync.Map // presence of key "x" means alive; simpler than atomic.Bool pre-1.19 portability concerns
}

func newConn(id string, raw net.Conn, localCPU string) *Conn {
	c := &Conn{id: id, raw: raw, localCPU: localCPU, data: mod.None{}}
	c.aliveFlag.Store("x", true)
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Data() mod.ConnData {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return c.data
}

func (c *Conn) SetData(d mod.ConnData) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	c.data = d
}

func (c *Conn) Alive() bool {
	_, ok := c.aliveFlag.Load("x")
	return ok
}

func (c *Conn) markDead() { c.aliveFlag.Delete("x") }

// Notify sends p on the connection's reverse-notify socket, serialized
// by a per-connection mutex since a client's notify socket is shared
// across however many modules want to push events to it. If no notify
// socket has been established yet (the CREATE_NOTIFY handshake hasn't
// completed), the parcel is dropped — there's no delivery path for
// events before that handshake finishes.
func (c *Conn) Notify(p *parcel.Parcel) error {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if c.notifyConn == nil {
		return errors.NewIOError("reactor.notify", nil)
	}
	return p.Send(c.notifyConn, parcel.Notify)
}

func (c *Conn) setNotifyConn(nc net.Conn) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.notifyConn = nc
}

// Reactor owns the listeners, the dispatch table, and the set of live
// connections.
type Reactor struct {
	handlers map[mod.ID]mod.Handler
	notify   transport.Dialer
	localCPU string
	metrics  *metrics.Collectors

	connsMu sync.Mutex
	conns   map[string]*Conn
	nextID  uint64

	log *slog.Logger
}

// New builds a reactor with the given handler set (one per module id it
// should answer to — a deployment need not wire every module) and a
// Dialer used to dial back for the CREATE_NOTIFY reverse-notify
// handshake. collectors may be nil, in which case the reactor runs
// without instrumentation.
func New(handlers []mod.Handler, notifyDialer transport.Dialer, localCPU string, collectors *metrics.Collectors) *Reactor {
	table := make(map[mod.ID]mod.Handler, len(handlers))
	for _, h := range handlers {
		table[h.ID()] = h
	}
	return &Reactor{
		handlers: table,
		notify:   notifyDialer,
		localCPU: localCPU,
		metrics:  collectors,
		conns:    make(map[string]*Conn),
		log:      logger.Logger(),
	}
}

// Serve accepts connections from ln until ctx is cancelled, running each
// connection's read loop in the group so a single bad connection cannot
// crash the daemon.
func (r *Reactor) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return g.Wait()
			default:
				return errors.NewIOError("reactor.accept", err)
			}
		}
		conn := r.register(c)
		g.Go(func() error {
			r.serveConn(ctx, conn)
			return nil
		})
	}
}

func (r *Reactor) register(raw net.Conn) *Conn {
	r.connsMu.Lock()
	r.nextID++
	id := "conn-" + itoa(r.nextID)
	conn := newConn(id, raw, r.localCPU)
	r.conns[id] = conn
	r.connsMu.Unlock()
	if r.metrics != nil {
		r.metrics.ActiveConnections.Inc()
	}
	return conn
}

func (r *Reactor) unregister(conn *Conn) {
	conn.markDead()
	r.connsMu.Lock()
	delete(r.conns, conn.id)
	r.connsMu.Unlock()
	if r.metrics != nil {
		r.metrics.ActiveConnections.Dec()
	}

	for _, h := range r.handlers {
		h.Detach(conn)
	}
	_ = conn.raw.Close()
	log := logger.WithConn(r.log, conn.id, conn.localCPU)
	log.Debug("connection closed")
}

func (r *Reactor) serveConn(ctx context.Context, conn *Conn) {
	defer r.unregister(conn)
	log := logger.WithConn(r.log, conn.id, conn.localCPU)

	dec := &parcel.Decoder{}
	buf := make([]byte, 4096)
	for {
		n, err := conn.raw.Read(buf)
		if n > 0 {
			dec.Push(buf[:n])
			for {
				p, ok, perr := dec.Pop()
				if perr != nil {
					if r.metrics != nil {
						r.metrics.ParcelDecodeErrors.Inc()
					}
					log.Warn("parcel decode error, closing connection", "error", perr)
					return
				}
				if !ok {
					break
				}
				r.dispatch(conn, p, log)
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Debug("connection read error", "error", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (r *Reactor) dispatch(conn *Conn, p *parcel.Parcel, log *slog.Logger) {
	switch p.Code() {
	case parcel.Send, parcel.SendAck:
		r.dispatchModule(conn, p, p.Code() == parcel.SendAck, log)
	case parcel.CreateNotify:
		r.handleCreateNotify(conn, p, log)
	default:
		log.Warn("unexpected parcel code from client", "code", p.Code())
	}
}

func (r *Reactor) dispatchModule(conn *Conn, p *parcel.Parcel, ack bool, log *slog.Logger) {
	modID, err := p.ReadInt32()
	if err != nil {
		log.Warn("malformed module id", "error", err)
		return
	}
	h, ok := r.handlers[mod.ID(modID)]
	if !ok {
		if ack {
			reply := parcel.New()
			reply.AppendInt32(-int32(errors.ErrnoUnsupported))
			reply.AppendString("")
			if err := reply.Send(conn.raw, parcel.Reply); err != nil {
				log.Debug("reply write failed", "error", err)
			}
		}
		return
	}

	ret, resp := h.Handle(conn, ack, p)
	if ret < 0 && r.metrics != nil {
		r.metrics.HandlerErrors.WithLabelValues(mod.ID(modID).String()).Inc()
	}
	if ack {
		reply := parcel.New()
		reply.AppendInt32(ret)
		reply.AppendString(resp)
		if err := reply.Send(conn.raw, parcel.Reply); err != nil {
			log.Debug("reply write failed", "error", err)
		}
	}
}

// handleCreateNotify implements the reverse-notify handshake: the body
// carries {key, cpu}; the server dials back to the socket the client
// listens on under key. The one notify Dialer given to New serves both
// same-CPU and cross-CPU clients: cpu is logged on failure and does not
// select a different transport.
func (r *Reactor) handleCreateNotify(conn *Conn, p *parcel.Parcel, log *slog.Logger) {
	key, err := p.ReadString()
	if err != nil {
		log.Warn("malformed create_notify body", "error", err)
		return
	}
	cpu, err := p.ReadString()
	if err != nil {
		log.Warn("malformed create_notify body", "error", err)
		return
	}

	nc, err := r.notify.Dial(context.Background(), key)
	if err != nil {
		log.Warn("reverse notify dial failed", "endpoint", key, "cpu", cpu, "error", err)
		return
	}
	conn.setNotifyConn(nc)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
