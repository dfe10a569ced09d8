package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"

	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/gali1/dohrelay/server"
)

const version = "0.1.0"

var (
	cfgPath string

	rootCmd = &cobra.Command{
		Use:     "dohrelay",
		Short:   "UDP to DNS-over-HTTPS relay",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
)

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", "dohrelay.toml", "location of the config file, if not found it will be generated")
}

func setup() (*config.Config, error) {
	cfg, err := config.Load(cfgPath, version)
	if err != nil {
		return nil, fmt.Errorf("config loading failed: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())

	switch cfg.LogLevel {
	case "debug":
		logger.SetLevel(zlog.LevelDebug)
	case "info":
		logger.SetLevel(zlog.LevelInfo)
	case "warn":
		logger.SetLevel(zlog.LevelWarn)
	case "error":
		logger.SetLevel(zlog.LevelError)
	default:
		return nil, fmt.Errorf("log verbosity level unknown: %s", cfg.LogLevel)
	}

	zlog.SetDefault(logger)

	// a configured certificate pair must exist on disk before anything
	// binds, a bad path found at the first TLS handshake is far harder
	// to diagnose
	for _, path := range []string{cfg.TLSCertificate, cfg.TLSPrivateKey} {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("certificate check failed: %w", err)
		}
	}

	middleware.Setup(cfg)

	return cfg, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}

	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func runMetrics(addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	zlog.Info("Metrics server listening...", "addr", addr)

	go func() {
		srv := &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}

		if err := srv.ListenAndServe(); err != nil {
			zlog.Error("Metrics listener failed", "addr", addr, "error", err.Error())
		}
	}()
}

func run() error {
	zlog.Info("Starting dohrelay...", "version", version)

	cfg, err := setup()
	if err != nil {
		return err
	}

	if err := writePIDFile(cfg.PIDFile); err != nil {
		return fmt.Errorf("pid file failed: %w", err)
	}

	srv := server.New(cfg)
	if err := srv.Run(); err != nil {
		return fmt.Errorf("udp listener failed: %w", err)
	}

	runMetrics(cfg.Metrics)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	<-c

	zlog.Info("Stopping dohrelay...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zlog.Warn("Shutdown timed out", "error", err.Error())
	}

	if cfg.PIDFile != "" {
		_ = os.Remove(cfg.PIDFile)
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
