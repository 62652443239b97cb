// Package transport abstracts the three socket families the reactor and
// proxy dial and listen on: AF_UNIX for same-CPU clients, AF_RPMSG for
// cross-CPU clients (NuttX-specific, no Linux/Go equivalent — modeled
// here as a seam with a Unix-domain loopback implementation), and an
// optional AF_INET/AF_INET6 endpoint.
package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"github.com/openvela/mediad/internal/errors"
	"golang.org/x/sys/unix"
)

// recvBufferBytes is the deliberately small per-connection receive buffer
// applied to every accepted parcel connection (see setRecvBuffer below) —
// embedded targets favor bounding per-socket memory over throughput.
const recvBufferBytes = 16 * 1024

// Dialer connects to a named endpoint (a CPU name for rpmsg/unix, a
// host:port for tcp).
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (net.Conn, error)
}

// Listener listens on a named endpoint and accepts connections from it.
type Listener interface {
	Listen(endpoint string) (net.Listener, error)
}

// UnixTransport implements same-CPU local sockets under a runtime
// directory, naming each endpoint "md:<cpu_name>" (sanitized into a
// filesystem path since ':' is not portable across every filesystem this
// might run on in test).
type UnixTransport struct {
	RuntimeDir string
}

func (t *UnixTransport) path(endpoint string) string {
	return filepath.Join(t.RuntimeDir, "md."+endpoint+".sock")
}

func (t *UnixTransport) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", t.path(endpoint))
	if err != nil {
		return nil, errors.NewIOError("transport.unix.dial", err)
	}
	return conn, nil
}

func (t *UnixTransport) Listen(endpoint string) (net.Listener, error) {
	p := t.path(endpoint)
	_ = os.Remove(p) // drop a stale socket file from a prior crashed run
	ln, err := net.Listen("unix", p)
	if err != nil {
		return nil, errors.NewIOError("transport.unix.listen", err)
	}
	return &tunedListener{Listener: ln}, nil
}

// tunedListener wraps a net.Listener so every accepted connection gets
// setRecvBuffer applied before a caller ever sees it. SO_RCVBUF is a
// per-socket option, so it has to be set post-accept rather than on the
// listening fd itself.
type tunedListener struct {
	net.Listener
}

func (t *tunedListener) Accept() (net.Conn, error) {
	conn, err := t.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if sc, ok := conn.(syscallConn); ok {
		_ = setRecvBuffer(sc, recvBufferBytes)
	}
	return conn, nil
}

// TCPTransport is the optional AF_INET/AF_INET6 endpoint available
// alongside the local and cross-CPU transports.
type TCPTransport struct{}

func (t *TCPTransport) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, errors.NewIOError("transport.tcp.dial", err)
	}
	return conn, nil
}

func (t *TCPTransport) Listen(endpoint string) (net.Listener, error) {
	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, errors.NewIOError("transport.tcp.listen", err)
	}
	return &tunedListener{Listener: ln}, nil
}

// setRecvBuffer tunes SO_RCVBUF on a raw fd, used by callers that hold a
// *net.TCPConn or *net.UnixConn fresh off Accept/Dial. This is the
// concrete use of golang.org/x/sys/unix in this daemon: embedded targets
// benefit from a deliberately small receive buffer per parcel
// connection rather than the OS default sized for bulk transfer.
func setRecvBuffer(conn syscallConn, bytes int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// syscallConn matches the method set *net.TCPConn and *net.UnixConn
// actually implement (syscall.Conn), so either can be passed to
// setRecvBuffer without an adapter.
type syscallConn interface {
	SyscallConn() (syscall.RawConn, error)
}

// RPMSGTransport is the cross-CPU transport seam. Real NuttX hardware
// binds this to an AF_RPMSG socket identified by the peer CPU's name;
// there is no such address family outside NuttX, so this host-side
// implementation is a Unix-domain loopback standing in for it in tests
// and in any build that never runs on the target hardware. A real
// implementation plugs in here by satisfying the same Dialer/Listener
// pair — see DESIGN.md's Open Questions entry on AF_RPMSG.
type RPMSGTransport struct {
	UnixTransport
}

// NewRPMSGTransport returns the loopback stand-in rooted at runtimeDir.
func NewRPMSGTransport(runtimeDir string) *RPMSGTransport {
	return &RPMSGTransport{UnixTransport{RuntimeDir: runtimeDir}}
}
