package proxy

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openvela/mediad/internal/parcel"
)

// pipeDialer hands out one end of an in-memory net.Pipe per endpoint and
// keeps the other end reachable to tests under peer(endpoint), standing
// in for a real server accepting the dial.
type pipeDialer struct {
	mu    sync.Mutex
	peers map[string]net.Conn
	fail  map[string]bool
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{peers: make(map[string]net.Conn)}
}

func (d *pipeDialer) Dial(ctx context.Context, endpoint string) (net.Conn, error) {
	if d.fail[endpoint] {
		return nil, errDial
	}
	c1, c2 := net.Pipe()
	d.mu.Lock()
	d.peers[endpoint] = c2
	d.mu.Unlock()
	return c1, nil
}

func (d *pipeDialer) peer(endpoint string) net.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peers[endpoint]
}

var errDial = &dialErr{}

type dialErr struct{}

func (*dialErr) Error() string { return "dial failed" }

// addrCapturingListener binds a real loopback TCP listener per endpoint
// (ignoring the name itself, unlike the real transports) so a test can
// dial the reverse-notify socket a proxy just bound.
type addrCapturingListener struct {
	mu  sync.Mutex
	lns map[string]net.Listener
}

func newAddrCapturingListener() *addrCapturingListener {
	return &addrCapturingListener{lns: make(map[string]net.Listener)}
}

func (l *addrCapturingListener) Listen(endpoint string) (net.Listener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.lns[endpoint] = ln
	l.mu.Unlock()
	return ln, nil
}

func (l *addrCapturingListener) addr(endpoint string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln, ok := l.lns[endpoint]
	if !ok {
		return ""
	}
	return ln.Addr().String()
}

func TestTokenizeCPUList(t *testing.T) {
	require.Equal(t, []string{"cpu0", "cpu1", "cpu2"}, tokenizeCPUList("cpu0,cpu1;cpu2"))
	require.Equal(t, []string{"cpu0"}, tokenizeCPUList(" cpu0 "))
}

func TestConnectDialsHeadOfList(t *testing.T) {
	d := newPipeDialer()
	var connectErr error
	var gotErr bool
	px := New(d, nil, "cpu-local", "cpu0,cpu1", func(err error) { connectErr = err; gotErr = true }, nil, nil)

	px.Connect(context.Background(), false)

	require.True(t, gotErr)
	require.NoError(t, connectErr)
	require.Equal(t, StateConnected, px.State())
}

func TestConnectFailoverToNextCPU(t *testing.T) {
	d := newPipeDialer()
	d.fail = map[string]bool{"cpu0": true}
	var connectErr error
	px := New(d, nil, "cpu-local", "cpu0,cpu1", func(err error) { connectErr = err }, nil, nil)

	px.Connect(context.Background(), false)

	require.NoError(t, connectErr)
	require.Equal(t, StateConnected, px.State())
}

func TestConnectExhaustsListSurfacesError(t *testing.T) {
	d := newPipeDialer()
	d.fail = map[string]bool{"cpu0": true, "cpu1": true}
	var connectErr error
	px := New(d, nil, "cpu-local", "cpu0,cpu1", func(err error) { connectErr = err }, nil, nil)

	px.Connect(context.Background(), false)

	require.Error(t, connectErr)
}

func TestSendWhileConnectingQueuesAsPending(t *testing.T) {
	d := newPipeDialer()
	px := New(d, nil, "cpu-local", "cpu0", nil, nil, nil)
	px.mu.Lock()
	px.state = StateConnecting
	px.mu.Unlock()

	px.Send(parcel.New(), nil)
	require.Equal(t, 1, px.PendingCount())
	require.Equal(t, 0, px.SentCount())
}

func TestSendWhenSteadyGoesToSentWrites(t *testing.T) {
	d := newPipeDialer()
	px := New(d, nil, "cpu-local", "cpu0", nil, nil, nil)
	px.Connect(context.Background(), false)

	peer := d.peer("cpu0")
	drained := make(chan struct{})
	go func() {
		buf := make([]byte, 64)
		peer.Read(buf)
		close(drained)
	}()

	px.Send(parcel.New(), nil)
	<-drained
	require.Equal(t, 1, px.SentCount())
}

func TestFirstResponseFlushesPendingWritesInOrder(t *testing.T) {
	d := newPipeDialer()
	px := New(d, nil, "cpu-local", "cpu0", nil, nil, nil)
	px.mu.Lock()
	px.state = StateConnecting
	px.mu.Unlock()

	var order []int
	var mu sync.Mutex
	px.Send(parcel.New(), func(*parcel.Parcel, error) { mu.Lock(); order = append(order, 1); mu.Unlock() })
	px.Send(parcel.New(), func(*parcel.Parcel, error) { mu.Lock(); order = append(order, 2); mu.Unlock() })

	px.ReceiveFirstResponse(parcel.New()) // no sentWrites yet, no real conn: just flips state
	require.Equal(t, StateConnected, px.State())
	require.Equal(t, 2, px.SentCount())
	require.Equal(t, 0, px.PendingCount())

	px.Deliver(parcel.New())
	px.Deliver(parcel.New())
	require.Equal(t, []int{1, 2}, order)
}

func TestFirstResponseWithListenWantedEntersListening(t *testing.T) {
	d := newPipeDialer()
	px := New(d, nil, "cpu-local", "cpu0", nil, nil, nil)
	px.Connect(context.Background(), true)

	px.ReceiveFirstResponse(parcel.New())
	require.Equal(t, StateListening, px.State())
}

func TestReconnectRejectedAfterListening(t *testing.T) {
	d := newPipeDialer()
	px := New(d, nil, "cpu-local", "cpu0,cpu1", nil, nil, nil)
	px.Connect(context.Background(), true)
	px.ReceiveFirstResponse(parcel.New())

	err := px.Reconnect(context.Background())
	require.Error(t, err)
}

func TestDisconnectCancelsPendingWrites(t *testing.T) {
	d := newPipeDialer()
	px := New(d, nil, "cpu-local", "cpu0", nil, nil, nil)
	px.mu.Lock()
	px.state = StateConnecting
	px.mu.Unlock()

	var cancelled bool
	px.Send(parcel.New(), func(p *parcel.Parcel, err error) {
		cancelled = p == nil && err != nil
	})

	px.Disconnect()
	require.True(t, cancelled)
	require.Equal(t, StateDisconnecting, px.State())
}

func TestReleaseCancelsSentWritesAndFiresOnRelease(t *testing.T) {
	d := newPipeDialer()
	var released bool
	px := New(d, nil, "cpu-local", "cpu0", nil, nil, func() { released = true })
	px.Connect(context.Background(), false)

	peer := d.peer("cpu0")
	go io.Copy(io.Discard, peer)

	px.Send(parcel.New(), nil)

	px.Disconnect()
	px.Release()

	require.True(t, released)
	require.Equal(t, StateClosed, px.State())
}

func TestDeliverEventDoesNotTouchSentWrites(t *testing.T) {
	d := newPipeDialer()
	var gotEvent bool
	px := New(d, nil, "cpu-local", "cpu0", nil, func(*parcel.Parcel) { gotEvent = true }, nil)
	px.Connect(context.Background(), false)

	peer := d.peer("cpu0")
	go io.Copy(io.Discard, peer)

	px.Send(parcel.New(), nil)

	px.DeliverEvent(parcel.New())
	require.True(t, gotEvent)
	require.Equal(t, 1, px.SentCount())
}

// TestSendWriteErrorCancelsWrite covers the failure path: a write onto
// an already-closed command pipe must cancel the write with an error,
// not leave it stranded in sentWrites forever.
func TestSendWriteErrorCancelsWrite(t *testing.T) {
	d := newPipeDialer()
	px := New(d, nil, "cpu-local", "cpu0", nil, nil, nil)
	px.Connect(context.Background(), false)

	peer := d.peer("cpu0")
	_ = peer.Close()
	_ = px.conn.Close()

	var gotErr bool
	px.Send(parcel.New(), func(p *parcel.Parcel, err error) {
		gotErr = p == nil && err != nil
	})

	require.True(t, gotErr)
	require.Equal(t, 0, px.SentCount())
}

// TestReverseNotifyHandshakeDeliversEvent drives the full listen path:
// connect, receive a first reply that requested LISTENING, observe the
// CREATE_NOTIFY the proxy sends on the command pipe, dial back onto the
// bound reverse socket the way a reactor would, and confirm a parcel
// written there reaches on_event.
func TestReverseNotifyHandshakeDeliversEvent(t *testing.T) {
	d := newPipeDialer()
	lns := newAddrCapturingListener()

	eventc := make(chan *parcel.Parcel, 1)
	px := New(d, lns, "cpu-local", "cpu0", nil, func(p *parcel.Parcel) { eventc <- p }, nil)
	px.Connect(context.Background(), true)

	peer := d.peer("cpu0")

	reply := parcel.New()
	reply.AppendInt32(0)
	reply.AppendString("")
	require.NoError(t, reply.Send(peer, parcel.Reply))

	createNotify, err := parcel.Recv(peer)
	require.NoError(t, err)
	require.Equal(t, parcel.CreateNotify, createNotify.Code())
	key, err := createNotify.ReadString()
	require.NoError(t, err)
	cpu, err := createNotify.ReadString()
	require.NoError(t, err)
	require.Equal(t, "cpu-local", cpu)
	require.NotEmpty(t, key)

	addr := lns.addr(key)
	require.NotEmpty(t, addr)

	notifyConn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer notifyConn.Close()

	evt := parcel.New()
	evt.AppendString("focus")
	evt.AppendString("suggest")
	require.NoError(t, evt.Send(notifyConn, parcel.Notify))

	select {
	case got := <-eventc:
		gotMod, err := got.ReadString()
		require.NoError(t, err)
		gotCmd, err := got.ReadString()
		require.NoError(t, err)
		require.Equal(t, "focus", gotMod)
		require.Equal(t, "suggest", gotCmd)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reverse-notify event")
	}

	require.Eventually(t, func() bool {
		return px.State() == StateListening
	}, 2*time.Second, 5*time.Millisecond)
}
