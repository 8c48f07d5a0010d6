// Command rpc-server is the thin startup glue SPEC_FULL.md §4.13 asks
// for: load a config.Descriptor, build the logging/metrics stack, run
// testservice.OrderService behind an rpc.Dispatcher over a tcp.Server,
// and serve /metrics. None of this is core scope per spec.md §1 — it
// exists so the repository runs end to end.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/a2535171138/rpcgo/config"
	"github.com/a2535171138/rpcgo/logging"
	"github.com/a2535171138/rpcgo/metrics"
	"github.com/a2535171138/rpcgo/netutil"
	"github.com/a2535171138/rpcgo/rpc"
	"github.com/a2535171138/rpcgo/tcp"
	"github.com/a2535171138/rpcgo/testservice"
	"github.com/a2535171138/rpcgo/wire"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "rpc-server",
	Short:         "Run the example RPC server (testservice.OrderService)",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML/JSON/TOML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rpc-server:", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	desc, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.NewAsyncLogger(desc.LogFileName, desc.LogFilePath, desc.LogMaxFileSize, desc.LogSyncInterval, logging.ParseLevel(desc.LogLevel))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Close()

	reg := prometheus.NewRegistry()
	collect := metrics.New(reg)

	if desc.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpSrv := &http.Server{Addr: desc.MetricsAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics http server: %v", err)
			}
		}()
		defer httpSrv.Close()
		log.Infof("metrics listening on %s", desc.MetricsAddr)
	}

	disp := rpc.NewDispatcher(log, collect)
	disp.Register(testservice.OrderService{})

	srv, err := tcp.NewServer(
		netutil.New(desc.ListenIP, desc.ListenPort),
		disp,
		tcp.WithServerWorkers(desc.WorkerThreads),
		tcp.WithServerLogger(log),
		tcp.WithServerCollectors(collect),
		tcp.WithServerChecksum(wire.ChecksumCRC32),
	)
	if err != nil {
		return fmt.Errorf("new server: %w", err)
	}

	if cfgFile != "" {
		if watcher, werr := config.Watch(cfgFile, log, collect, nil); werr == nil {
			defer watcher.Close()
		} else {
			log.Errorf("config watch disabled: %v", werr)
		}
	}

	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Infof("rpc-server listening on %s", srv.Addr().String())
	select {
	case <-sigCh:
		log.Infof("shutdown signal received")
		srv.Stop()
		<-serverDone
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	return nil
}
