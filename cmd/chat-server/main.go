package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-chat-server/internal/metrics"
	"github.com/kstaniek/go-chat-server/internal/registry"
	"github.com/kstaniek/go-chat-server/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("chat-server %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	if cfg == nil {
		return 1
	}
	l, logCloser, err := setupLogger(cfg.logFormat, cfg.logLevel, cfg.logFile)
	if err != nil {
		fmt.Printf("logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logCloser.Close() }()
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	srv := server.NewServer(
		server.WithListenAddr(cfg.listenAddr()),
		server.WithMaxClients(cfg.maxConnections),
		server.WithBanlist(registry.NewBanlist(cfg.banlistPath)),
		server.WithQueuePolicy(cfg.policy()),
		server.WithDispatchDelay(cfg.dispatchDelay),
		server.WithLogPath(cfg.logFile),
		server.WithLogger(l),
	)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	console := server.NewConsole(srv, os.Stdin, os.Stdout)
	go console.Run()

	// Start mDNS advertisement once the listener is bound.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		portNum := 0
		if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when the listener is bound and the context is live.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exit := 0
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-srv.StopRequested():
		l.Info("shutdown_requested")
	case err := <-serveErr:
		if err != nil {
			l.Error("tcp_server_error", "error", err)
			exit = 1
		}
	}
	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shCancel()
	if err := srv.Shutdown(shCtx); err != nil {
		l.Error("shutdown_error", "error", err)
		exit = 1
	}
	wg.Wait()
	l.Info("stopped")
	return exit
}
