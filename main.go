package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"github.com/valyala/fasthttp"
	"k8s.io/klog/v2"

	"github.com/deuspy/deuspy/docstore"
	"github.com/deuspy/deuspy/kv/pebblekv"
	"github.com/deuspy/deuspy/metrics"
)

var gitCommitSHA = ""

// defaultPort is the HTTP port the server listens on when -port is not
// given, matching the single-instance, no-env-vars deployment model.
const defaultPort = 9990

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "deuspy",
		Version:     gitCommitSHA,
		Description: "A small schemaless document database with an HTTP CRUD+query surface.",
		Flags:       append([]cli.Flag{}, NewKlogFlagSet()...),
		Commands: []*cli.Command{
			newCmd_Serve(),
			newCmd_Version(),
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Fatal(err)
	}
}

// newCmd_Serve is the single server entry point: it starts the HTTP
// service against a KV database in the given directory (current working
// directory by default), created if missing.
func newCmd_Serve() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "start the HTTP server",
		Description: "Starts the HTTP CRUD+query service on the given port against a pebble database in the given directory.",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "TCP port to listen on",
				Value: defaultPort,
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "directory holding the pebble database, created if missing",
				Value: ".",
			},
			&cli.Int64Flag{
				Name:  "alloc-retries",
				Usage: "retry cap before allocation gives up",
				Value: 64,
			},
		},
		Action: func(c *cli.Context) error {
			return runServe(c.Context, c.Int("port"), c.String("data-dir"), int(c.Int64("alloc-retries")))
		},
	}
}

func runServe(ctx context.Context, port int, dataDir string, allocRetries int) error {
	engine, err := pebblekv.Open(dataDir)
	if err != nil {
		return fmt.Errorf("opening pebble database at %s: %w", dataDir, err)
	}
	defer engine.Close()

	store := docstore.Open(engine, docstore.WithMaxAllocRetries(allocRetries))

	startedAt := time.Now().UTC().Format(time.RFC3339)
	metrics.Version.WithLabelValues(startedAt, "", gitCommitSHA, runtime.Version(), runtime.GOOS, runtime.GOARCH).Set(1)

	if device, err := metrics.GetDeviceForDirectory(dataDir); err == nil {
		prometheus.MustRegister(metrics.NewDiskCollector([]string{device}))
	} else {
		klog.Warningf("disk metrics disabled: %v", err)
	}
	prometheus.MustRegister(metrics.NewNetCollector(nil))

	addr := fmt.Sprintf(":%d", port)
	klog.Infof("listening on %s, data dir %s", addr, dataDir)

	server := &fasthttp.Server{
		Handler: NewHandler(store),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		klog.Info("shutting down")
		return server.Shutdown()
	}
}
