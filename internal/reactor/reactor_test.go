package reactor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/openvela/mediad/internal/metrics"
	mod "github.com/openvela/mediad/internal/module"
	"github.com/openvela/mediad/internal/parcel"
)

type echoHandler struct{ id mod.ID }

func (h *echoHandler) ID() mod.ID { return h.id }

func (h *echoHandler) Handle(conn mod.Conn, ack bool, in *parcel.Parcel) (int32, string) {
	target, _ := in.ReadString()
	cmd, _ := in.ReadString()
	return 0, target + ":" + cmd
}

func (h *echoHandler) Detach(conn mod.Conn) {}

type failHandler struct{ id mod.ID }

func (h *failHandler) ID() mod.ID { return h.id }

func (h *failHandler) Handle(conn mod.Conn, ack bool, in *parcel.Parcel) (int32, string) {
	return -1, ""
}

func (h *failHandler) Detach(conn mod.Conn) {}

type nopDialer struct{}

func (nopDialer) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	c1, _ := net.Pipe()
	return c1, nil
}

func TestServeDispatchesToHandlerAndRepliesOnAck(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	ln := newPipeListener(serverConn)

	r := New([]mod.Handler{&echoHandler{id: mod.Session}}, nopDialer{}, "cpu0", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Serve(ctx, ln) }()

	req := parcel.New()
	req.AppendInt32(int32(mod.Session))
	req.AppendString("head")
	req.AppendString("query")
	require.NoError(t, req.Send(clientConn, parcel.SendAck))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := parcel.Recv(clientConn)
	require.NoError(t, err)
	require.Equal(t, parcel.Reply, reply.Code())

	ret, err := reply.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, int32(0), ret)

	resp, err := reply.ReadString()
	require.NoError(t, err)
	require.Equal(t, "head:query", resp)
}

func TestServeUnknownModuleRepliesUnsupported(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	ln := newPipeListener(serverConn)

	r := New([]mod.Handler{&echoHandler{id: mod.Session}}, nopDialer{}, "cpu0", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Serve(ctx, ln) }()

	req := parcel.New()
	req.AppendInt32(int32(mod.Focus))
	req.AppendString("music")
	req.AppendString("request")
	require.NoError(t, req.Send(clientConn, parcel.SendAck))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := parcel.Recv(clientConn)
	require.NoError(t, err)

	ret, err := reply.ReadInt32()
	require.NoError(t, err)
	require.Less(t, ret, int32(0))
}

// TestServeWiresConnectionAndHandlerErrorMetrics drives one request to a
// handler that returns a negative result over a real Serve loop and checks that the reactor increments
// the collectors it was built with, rather than leaving them at zero.
func TestServeWiresConnectionAndHandlerErrorMetrics(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	ln := newPipeListener(serverConn)

	collectors := metrics.New()
	reg := prometheus.NewRegistry()
	collectors.MustRegister(reg)

	r := New([]mod.Handler{&failHandler{id: mod.Focus}}, nopDialer{}, "cpu0", collectors)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Serve(ctx, ln) }()

	req := parcel.New()
	req.AppendInt32(int32(mod.Focus))
	req.AppendString("music")
	req.AppendString("request")
	require.NoError(t, req.Send(clientConn, parcel.SendAck))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := parcel.Recv(clientConn)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(collectors.ActiveConnections) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(collectors.HandlerErrors.WithLabelValues(mod.Focus.String())) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

// pipeListener adapts a single already-connected net.Conn into a
// net.Listener that yields it exactly once, for tests that want to
// drive the reactor's Serve loop over an in-memory net.Pipe.
type pipeListener struct {
	conn   net.Conn
	served bool
	done   chan struct{}
}

func newPipeListener(conn net.Conn) *pipeListener {
	return &pipeListener{conn: conn, done: make(chan struct{})}
}

func (l *pipeListener) Accept() (net.Conn, error) {
	if l.served {
		<-l.done
		return nil, errClosed{}
	}
	l.served = true
	return l.conn, nil
}

func (l *pipeListener) Close() error {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	return nil
}

func (l *pipeListener) Addr() net.Addr { return pipeAddr{} }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

type errClosed struct{}

func (errClosed) Error() string { return "listener closed" }
