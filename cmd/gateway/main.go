package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/keskad/xpressnet-gateway/internal/metrics"
	"github.com/keskad/xpressnet-gateway/internal/wsserver"
)

// Helper implementations moved to dedicated files: version.go, config.go,
// logger.go, hub_init.go, controller_init.go, mdns.go, metrics_logger.go,
// http.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("xpressnet-gateway %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	ctrl, d := initController(ctx, cfg, h, l, &wg)

	srv := wsserver.NewServer(
		wsserver.WithHub(h),
		wsserver.WithDispatcher(d),
		wsserver.WithLogger(l),
		wsserver.WithMaxClients(cfg.maxClients),
		wsserver.WithReadDeadline(cfg.clientReadTO),
	)
	srv.SetListenAddr(cfg.wsListenAddr)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("ws_server_error", "error", err)
			cancel()
		}
	}()

	var httpSrv interface{ Close() error }
	if cfg.httpEnable {
		s := startStatusHTTP(ctx, cfg, ctrl)
		httpSrv = s
	}

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		addr := srv.Addr()
		var portNum int
		if _, p, err := net.SplitHostPort(addr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 {
			lastColon := strings.LastIndex(addr, ":")
			if lastColon >= 0 {
				if pn, perr := strconv.Atoi(addr[lastColon+1:]); perr == nil {
					portNum = pn
				}
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
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	if httpSrv != nil {
		_ = httpSrv.Close()
	}
	_ = srv.Shutdown(context.Background())
	wg.Wait()
}
