// Command daosnfs mounts the configured exports of a DAOS-style object
// filesystem behind the FSAL adapter and keeps them served until shutdown.
// The NFS protocol frontend attaches to the fsal.ExportHandle instances
// this harness constructs.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/mjmac/daosnfs/internal/logger"
	"github.com/mjmac/daosnfs/pkg/config"
	"github.com/mjmac/daosnfs/pkg/daosfs"
	"github.com/mjmac/daosnfs/pkg/fsal"
	"github.com/mjmac/daosnfs/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
		return
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring log output: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Error("daosnfs: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var opMetrics metrics.OperationMetrics = metrics.NopOperationMetrics{}
	var storageMetrics metrics.StorageMetrics = metrics.NopStorageMetrics{}
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		opMetrics = metrics.NewOperationMetrics()
		storageMetrics = metrics.NewStorageMetrics()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			logger.Info("daosnfs: metrics listening on %s", cfg.Metrics.Listen)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("daosnfs: metrics server: %v", err)
			}
		}()
	}

	contentStore, err := config.CreateContentStore(ctx, &cfg.Content)
	if err != nil {
		return fmt.Errorf("creating content store: %w", err)
	}

	connector, err := config.CreateConnector(&cfg.Storage, contentStore, storageMetrics)
	if err != nil {
		return fmt.Errorf("creating storage connector: %w", err)
	}

	session := daosfs.NewSession(connector)
	defer func() {
		if err := session.Close(); err != nil {
			logger.Error("daosnfs: closing storage session: %v", err)
		}
	}()

	exports := make([]*fsal.Export, 0, len(cfg.Exports))
	for _, expCfg := range cfg.Exports {
		export, err := fsal.Mount(session, fsal.ExportConfig{
			Name:        expCfg.Name,
			ServerGroup: expCfg.ServerGroup,
			Pool:        expCfg.Pool,
			Container:   expCfg.Container,
			Umask:       expCfg.Umask,
		}, opMetrics)
		if err != nil {
			unmountAll(exports)
			return fmt.Errorf("mounting export %q: %w", expCfg.Name, err)
		}
		exports = append(exports, export)
	}
	logger.Info("daosnfs: %d export(s) mounted, storage=%s content=%s",
		len(exports), cfg.Storage.Type, cfg.Content.Type)

	// Block until a shutdown signal arrives.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("daosnfs: received %s, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("daosnfs: metrics server shutdown: %v", err)
		}
	}

	unmountAll(exports)
	_ = waitDeadline(shutdownCtx)
	return nil
}

func unmountAll(exports []*fsal.Export) {
	for i := len(exports) - 1; i >= 0; i-- {
		if err := exports[i].Unmount(); err != nil {
			logger.Error("daosnfs: unmounting export %q: %v", exports[i].Name(), err)
		}
	}
}

// waitDeadline gives in-flight storage calls a moment to drain before the
// process exits; unmount already detached every export.
func waitDeadline(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}
