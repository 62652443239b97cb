// Command mediactl is a minimal command-line client over the client-side
// async connection proxy: it dials a running mediad, sends one module
// command, prints the reply, and — with -listen — also completes the
// reverse-notify handshake and prints the first event it receives on
// the event pipe. Its request encoding matches the focus module's wire
// shape (target, cmd) directly and the session module's (target, cmd,
// arg) with -arg; other modules have their own trailing fields and are
// out of scope for this tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mod "github.com/openvela/mediad/internal/module"
	"github.com/openvela/mediad/internal/parcel"
	"github.com/openvela/mediad/internal/proxy"
	"github.com/openvela/mediad/internal/transport"
)

func main() {
	var (
		runtimeDir = flag.String("runtime-dir", "/tmp/mediad", "Directory holding AF_UNIX socket files")
		localCPU   = flag.String("local-cpu", "ctl0", "This client's CPU identity, sent in CREATE_NOTIFY")
		cpuList    = flag.String("cpus", "cpu0", "Comma/semicolon-delimited candidate CPU list to dial")
		moduleID   = flag.Int("module", int(mod.Focus), "Module id to address")
		target     = flag.String("target", "", "Command target (stream type, handle id, or role, depending on module)")
		cmdName    = flag.String("cmd", "peek", "Command name")
		arg        = flag.String("arg", "", "Extra argument some modules (e.g. session) read after target and cmd")
		listen     = flag.Bool("listen", false, "Also complete the reverse-notify handshake and print the first event")
		timeout    = flag.Duration("timeout", 5*time.Second, "Overall deadline for connect, send, and (if -listen) the first event")
	)
	flag.Parse()

	t := &transport.UnixTransport{RuntimeDir: *runtimeDir}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	connected := make(chan error, 1)
	replied := make(chan struct{})
	events := make(chan *parcel.Parcel, 1)

	px := proxy.New(t, t, *localCPU, *cpuList,
		func(err error) { connected <- err },
		func(p *parcel.Parcel) {
			select {
			case events <- p:
			default:
			}
		},
		func() {},
	)

	px.Connect(ctx, *listen)

	select {
	case err := <-connected:
		if err != nil {
			fmt.Fprintln(os.Stderr, "connect failed:", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "connect timed out")
		os.Exit(1)
	}

	req := parcel.New()
	req.AppendInt32(int32(*moduleID))
	req.AppendString(*target)
	req.AppendString(*cmdName)
	if mod.ID(*moduleID) == mod.Session {
		req.AppendString(*arg)
	}

	px.Send(req, func(resp *parcel.Parcel, err error) {
		defer close(replied)
		if err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
			return
		}
		ret, rerr := resp.ReadInt32()
		if rerr != nil {
			fmt.Fprintln(os.Stderr, "malformed reply:", rerr)
			return
		}
		body, _ := resp.ReadString()
		fmt.Printf("ret=%d body=%q\n", ret, body)
	})

	select {
	case <-replied:
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "reply timed out")
		os.Exit(1)
	}

	if *listen {
		select {
		case evt := <-events:
			fmt.Printf("event: %d byte body on reverse-notify pipe\n", evt.Len())
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "no event received before timeout")
		}
	}

	px.Disconnect()
	px.Release()
	px.Wait(context.Background())
}
