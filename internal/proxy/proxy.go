// Package proxy implements the client-side async connection proxy: an
// event-loop–friendly RPC client that owns one command pipe (dialed
// against a candidate CPU list with failover) and, on request, a second
// reverse-notify event pipe accepted back from the server after a
// CREATE_NOTIFY handshake. Every exported method is safe to call from
// any goroutine; the proxy serializes its own state under one mutex and
// runs its own read loops rather than requiring the caller to drive an
// external poll loop.
package proxy

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/openvela/mediad/internal/errors"
	"github.com/openvela/mediad/internal/logger"
	"github.com/openvela/mediad/internal/parcel"
	"github.com/openvela/mediad/internal/transport"
)

// State is the proxy's connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateListening
	StateDisconnecting
	StateClosed
)

// pendingWrite is a queued parcel not yet sent, held back while a
// transition (connecting, reconnecting, tearing down) is in flight.
type pendingWrite struct {
	p         *parcel.Parcel
	onReceive func(*parcel.Parcel, error)
}

// Proxy is one client-side connection to the daemon, following one or
// more candidate CPU names with failover before a reverse listener
// exists.
type Proxy struct {
	dialer   transport.Dialer
	listener transport.Listener
	localCPU string
	cpus     []string
	cpuIdx   int

	onConnect func(error)
	onEvent   func(*parcel.Parcel)
	onRelease func()

	mu             sync.Mutex
	state          State
	listenWanted   bool
	disconnectWant bool
	pendingWrites  []pendingWrite
	sentWrites     []pendingWrite
	conn           net.Conn
	eventConn      net.Conn

	closed chan struct{}
}

// New builds a proxy over a comma/semicolon-delimited candidate CPU
// list, tokenized up front. listener may be nil if the caller never
// passes wantListen=true to Connect.
func New(d transport.Dialer, listener transport.Listener, localCPU, cpuList string, onConnect func(error), onEvent func(*parcel.Parcel), onRelease func()) *Proxy {
	return &Proxy{
		dialer:    d,
		listener:  listener,
		localCPU:  localCPU,
		cpus:      tokenizeCPUList(cpuList),
		onConnect: onConnect,
		onEvent:   onEvent,
		onRelease: onRelease,
		closed:    make(chan struct{}),
	}
}

func tokenizeCPUList(list string) []string {
	fields := strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Wait blocks until the proxy is released or ctx is cancelled, letting a
// caller park a goroutine on a proxy's lifetime the same way it would
// park on an external event loop's exit.
func (p *Proxy) Wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-p.closed:
	}
}

// Connect dials the head of the candidate list.
func (p *Proxy) Connect(ctx context.Context, wantListen bool) {
	p.mu.Lock()
	p.listenWanted = wantListen
	p.state = StateConnecting
	p.mu.Unlock()
	p.dialNext(ctx)
}

func (p *Proxy) dialNext(ctx context.Context) {
	p.mu.Lock()
	if p.cpuIdx >= len(p.cpus) {
		p.mu.Unlock()
		if p.onConnect != nil {
			p.onConnect(errors.NewNotFoundError("proxy.connect", nil))
		}
		return
	}
	cpu := p.cpus[p.cpuIdx]
	p.cpuIdx++
	p.mu.Unlock()

	conn, err := p.dialer.Dial(ctx, cpu)
	if err != nil {
		logger.Logger().Warn("proxy dial failed, advancing candidate list", "cpu", cpu, "error", err)
		p.dialNext(ctx)
		return
	}

	p.mu.Lock()
	p.conn = conn
	p.state = StateConnected
	p.mu.Unlock()

	go p.readCommandPipe(conn)

	if p.onConnect != nil {
		p.onConnect(nil)
	}
}

// readCommandPipe decodes frames off the command pipe for the lifetime
// of conn, routing the first reply through ReceiveFirstResponse (which
// decides whether to start reverse-listener setup or flush queued
// writes) and every later reply through Deliver.
func (p *Proxy) readCommandPipe(conn net.Conn) {
	dec := parcel.NewDecoder()
	buf := make([]byte, 4096)
	first := true
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Push(buf[:n])
			for {
				pkt, ok, perr := dec.Pop()
				if perr != nil {
					logger.Logger().Warn("proxy command pipe decode error", "error", perr)
					return
				}
				if !ok {
					break
				}
				if first {
					first = false
					p.ReceiveFirstResponse(pkt)
					if p.State() == StateListening {
						go p.setupReverseListener(context.Background())
					}
				} else {
					p.Deliver(pkt)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// setupReverseListener implements the reverse-notify handshake: mint a
// key, bind a listening socket named after it, send CREATE_NOTIFY{key,
// local_cpu} on the command pipe, then accept the server's dial-back
// onto the event pipe and start reading it.
func (p *Proxy) setupReverseListener(ctx context.Context) {
	if p.listener == nil {
		logger.Logger().Warn("proxy listen requested but no listener configured")
		return
	}
	key := uuid.NewString()
	ln, err := p.listener.Listen(key)
	if err != nil {
		logger.Logger().Warn("proxy reverse listener bind failed", "error", err)
		return
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	req := parcel.New()
	req.AppendString(key)
	req.AppendString(p.localCPU)
	if conn != nil {
		if err := req.Send(conn, parcel.CreateNotify); err != nil {
			logger.Logger().Warn("proxy create_notify send failed", "error", err)
			_ = ln.Close()
			return
		}
	}

	ec, err := ln.Accept()
	_ = ln.Close()
	if err != nil {
		select {
		case <-ctx.Done():
		default:
			logger.Logger().Warn("proxy reverse listener accept failed", "error", err)
		}
		return
	}

	p.mu.Lock()
	p.eventConn = ec
	p.mu.Unlock()

	p.readEventPipe(ec)
}

// readEventPipe decodes frames off the event pipe for the lifetime of
// conn, handing every complete parcel to DeliverEvent.
func (p *Proxy) readEventPipe(conn net.Conn) {
	dec := parcel.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Push(buf[:n])
			for {
				pkt, ok, perr := dec.Pop()
				if perr != nil {
					return
				}
				if !ok {
					break
				}
				p.DeliverEvent(pkt)
			}
		}
		if err != nil {
			return
		}
	}
}

// Send enqueues a parcel. If a transition is in flight (connecting,
// reconnecting) the write is held in pendingWrites; otherwise it is
// written to the command pipe immediately and moved to sentWrites to
// await its response via Deliver. A write error removes that write from
// sentWrites at once and invokes its on_receive with a nil parcel and an
// IOError.
func (p *Proxy) Send(pkt *parcel.Parcel, onReceive func(*parcel.Parcel, error)) {
	p.mu.Lock()
	w := pendingWrite{p: pkt, onReceive: onReceive}
	if p.state == StateConnecting || p.state == StateDisconnecting {
		p.pendingWrites = append(p.pendingWrites, w)
		p.mu.Unlock()
		return
	}
	conn := p.conn
	p.sentWrites = append(p.sentWrites, w)
	p.mu.Unlock()

	if conn == nil {
		return
	}
	if err := pkt.Send(conn, parcel.SendAck); err != nil {
		logger.Logger().Warn("proxy write failed", "error", err)
		p.cancelSentWrite(pkt)
	}
}

// cancelSentWrite removes pkt's entry from sentWrites (searching from
// the tail, since a just-failed write was just appended there) and
// delivers its cancellation.
func (p *Proxy) cancelSentWrite(pkt *parcel.Parcel) {
	p.mu.Lock()
	var w pendingWrite
	found := false
	for i := len(p.sentWrites) - 1; i >= 0; i-- {
		if p.sentWrites[i].p == pkt {
			w = p.sentWrites[i]
			p.sentWrites = append(p.sentWrites[:i], p.sentWrites[i+1:]...)
			found = true
			break
		}
	}
	p.mu.Unlock()
	if found && w.onReceive != nil {
		w.onReceive(nil, errors.NewIOError("proxy.send", nil))
	}
}

// ReceiveFirstResponse clears CONNECTING on the first response received
// after a dial and either starts reverse-listener setup or flushes
// queued writes to the wire.
func (p *Proxy) ReceiveFirstResponse(resp *parcel.Parcel) {
	p.mu.Lock()
	if len(p.sentWrites) > 0 {
		w := p.sentWrites[0]
		p.sentWrites = p.sentWrites[1:]
		p.mu.Unlock()
		if w.onReceive != nil {
			w.onReceive(resp, nil)
		}
	} else {
		p.mu.Unlock()
	}

	p.mu.Lock()
	if p.listenWanted {
		p.state = StateListening
		p.mu.Unlock()
		return
	}
	p.state = StateConnected
	flush := p.pendingWrites
	p.pendingWrites = nil
	conn := p.conn
	p.sentWrites = append(p.sentWrites, flush...)
	p.mu.Unlock()

	for _, w := range flush {
		if conn == nil {
			continue
		}
		if err := w.p.Send(conn, parcel.SendAck); err != nil {
			logger.Logger().Warn("proxy flush write failed", "error", err)
			p.cancelSentWrite(w.p)
		}
	}
}

// Deliver dequeues the oldest sent write and invokes its on_receive:
// each completed response dequeues exactly one entry from sentWrites.
func (p *Proxy) Deliver(resp *parcel.Parcel) {
	p.mu.Lock()
	if len(p.sentWrites) == 0 {
		p.mu.Unlock()
		return
	}
	w := p.sentWrites[0]
	p.sentWrites = p.sentWrites[1:]
	p.mu.Unlock()
	if w.onReceive != nil {
		w.onReceive(resp, nil)
	}
}

// Reconnect is only valid before a reverse listener exists. It closes
// the current command pipe and dials the next candidate.
func (p *Proxy) Reconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateListening {
		p.mu.Unlock()
		return errors.NewBusyError("proxy.reconnect", nil)
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.state = StateConnecting
	p.mu.Unlock()
	p.dialNext(ctx)
	return nil
}

// Disconnect half-closes the command pipe so the server drops its side
// on POLLHUP; pending writes are cancelled (on_receive invoked with a
// nil parcel and a CancelledError) and the proxy transitions to
// Disconnecting until the caller calls Release.
func (p *Proxy) Disconnect() {
	p.mu.Lock()
	p.disconnectWant = true
	p.state = StateDisconnecting
	pending := p.pendingWrites
	p.pendingWrites = nil
	conn := p.conn
	p.mu.Unlock()

	if conn != nil {
		if hc, ok := conn.(interface{ CloseWrite() error }); ok {
			_ = hc.CloseWrite()
		} else {
			_ = conn.Close()
		}
	}

	for _, w := range pending {
		if w.onReceive != nil {
			w.onReceive(nil, errors.NewCancelledError("proxy.disconnect"))
		}
	}
}

// Release cancels every still-outstanding sent write, closes both pipes,
// and fires on_release, matching "when both pipes are closed and
// disconnect was requested, on_release fires and the proxy is freed".
func (p *Proxy) Release() {
	p.mu.Lock()
	if !p.disconnectWant {
		p.mu.Unlock()
		return
	}
	sent := p.sentWrites
	p.sentWrites = nil
	p.state = StateClosed
	conn := p.conn
	ec := p.eventConn
	p.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if ec != nil {
		_ = ec.Close()
	}

	for _, w := range sent {
		if w.onReceive != nil {
			w.onReceive(nil, errors.NewCancelledError("proxy.release"))
		}
	}
	close(p.closed)
	if p.onRelease != nil {
		p.onRelease()
	}
}

// DeliverEvent hands a parcel received on the reverse event pipe to
// on_event without touching sentWrites.
func (p *Proxy) DeliverEvent(pkt *parcel.Parcel) {
	if p.onEvent != nil {
		p.onEvent(pkt)
	}
}

// State returns the proxy's current lifecycle state.
func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PendingCount and SentCount expose queue depths for tests and metrics.
func (p *Proxy) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pendingWrites)
}

func (p *Proxy) SentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sentWrites)
}
