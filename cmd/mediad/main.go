// Command mediad is the on-device media control-plane daemon: one
// reactor process brokering playback, capture, routing policy, audio-
// focus arbitration, and "now playing" session control for client
// processes on the same or remote CPUs.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"net/http"

	"github.com/openvela/mediad/internal/config"
	"github.com/openvela/mediad/internal/focus"
	"github.com/openvela/mediad/internal/logger"
	"github.com/openvela/mediad/internal/metrics"
	mod "github.com/openvela/mediad/internal/module"
	"github.com/openvela/mediad/internal/persist"
	"github.com/openvela/mediad/internal/policy"
	"github.com/openvela/mediad/internal/reactor"
	"github.com/openvela/mediad/internal/registry"
	"github.com/openvela/mediad/internal/session"
	"github.com/openvela/mediad/internal/transport"
)

// defaultMatrix is used when no focus matrix resource file is
// configured: a permissive three-level table (media requested during a
// notification plays ducked under it, notification ducks media, alarm
// pauses everything else) that is enough to bring the daemon up without
// an operator-authored resource file. Rows are the requesting stream,
// columns the current top.
const defaultMatrix = `# built-in default focus interaction matrix
Stream, Media, Notification, Alarm
Media, 0:0, 4:4, 5:0
Notification, 0:4, 0:0, 5:0
Alarm, 0:2, 0:2, 0:0
`

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	daemonCfg := config.Default()
	if cfg.configPath != "" {
		loaded, err := config.Load(cfg.configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config load error:", err)
			os.Exit(1)
		}
		daemonCfg = loaded
	}
	applyOverrides(&daemonCfg, cfg)

	logger.Init()
	if err := logger.SetLevel(daemonCfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid log level %q, using default\n", daemonCfg.LogLevel)
	}
	log := logger.Logger().With("component", "cli")

	if err := os.MkdirAll(daemonCfg.RuntimeDir, 0o755); err != nil {
		log.Error("failed to create runtime dir", "dir", daemonCfg.RuntimeDir, "error", err)
		os.Exit(1)
	}

	store, err := persist.Open(daemonCfg.PersistDir, daemonCfg.PersistDebounce())
	if err != nil {
		log.Error("failed to open persistence store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var matrixReader io.Reader = strings.NewReader(defaultMatrix)
	if daemonCfg.FocusMatrixPath != "" {
		f, err := os.Open(daemonCfg.FocusMatrixPath)
		if err != nil {
			log.Error("failed to open focus matrix", "path", daemonCfg.FocusMatrixPath, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		matrixReader = f
	}
	arbiter, err := focus.NewArbiter(daemonCfg.FocusStackCapacity, matrixReader)
	if err != nil {
		log.Error("failed to load focus matrix", "error", err)
		os.Exit(1)
	}

	mediator := session.NewMediator()
	policyStore := policy.NewStore(store, func(name string) {
		log.Debug("policy apply requested", "criterion", name)
	})

	collectors := metrics.New()
	arbiter.SetDepthHook(func(depth int) {
		collectors.FocusStackDepth.Set(float64(depth))
	})
	mediator.SetRosterHook(func(controllers, controllees int) {
		collectors.Controllers.Set(float64(controllers))
		collectors.Controllees.Set(float64(controllees))
	})

	nodes := make([]*registry.Node, 0, len(daemonCfg.PlayerNodeNames)+len(daemonCfg.RecorderNodeNames))
	for _, n := range daemonCfg.PlayerNodeNames {
		nodes = append(nodes, &registry.Node{Name: n, Kind: registry.KindPlayer})
	}
	for _, n := range daemonCfg.RecorderNodeNames {
		nodes = append(nodes, &registry.Node{Name: n, Kind: registry.KindRecorder})
	}
	reg := registry.New(nodes)

	handlers := []mod.Handler{
		focus.NewModule(arbiter),
		session.NewModule(mediator),
		policy.NewModule(policyStore),
		registry.NewPlayerModule(reg),
		registry.NewRecorderModule(reg),
	}

	unixTransport := &transport.UnixTransport{RuntimeDir: daemonCfg.RuntimeDir}
	notifyTransport := transport.NewRPMSGTransport(daemonCfg.RuntimeDir)
	r := reactor.New(handlers, notifyTransport, daemonCfg.LocalCPU, collectors)

	ln, err := unixTransport.Listen(daemonCfg.LocalCPU)
	if err != nil {
		log.Error("failed to bind local socket", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Serve(gctx, ln) })

	if daemonCfg.TCPPort >= 0 {
		tcpTransport := &transport.TCPTransport{}
		tcpLn, err := tcpTransport.Listen(fmt.Sprintf(":%d", daemonCfg.TCPPort))
		if err != nil {
			log.Error("failed to bind tcp socket", "error", err)
			os.Exit(1)
		}
		g.Go(func() error { return r.Serve(gctx, tcpLn) })
	}

	if daemonCfg.MetricsListenAddr != "" {
		promReg := prometheus.NewRegistry()
		collectors.MustRegister(promReg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: daemonCfg.MetricsListenAddr, Handler: mux}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	log.Info("mediad started", "local_cpu", daemonCfg.LocalCPU, "runtime_dir", daemonCfg.RuntimeDir, "version", version)

	<-ctx.Done()
	log.Info("shutdown signal received")
	stop()

	if err := g.Wait(); err != nil {
		log.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("mediad stopped cleanly")
}

func applyOverrides(daemonCfg *config.Config, cli *cliConfig) {
	if cli.logLevel != "" {
		daemonCfg.LogLevel = cli.logLevel
	}
	if cli.localCPU != "" {
		daemonCfg.LocalCPU = cli.localCPU
	}
	if cli.runtimeDir != "" {
		daemonCfg.RuntimeDir = cli.runtimeDir
	}
	if cli.tcpPort != 0 {
		daemonCfg.TCPPort = cli.tcpPort
	}
	if cli.metricsAddr != "" {
		daemonCfg.MetricsListenAddr = cli.metricsAddr
	}
}
