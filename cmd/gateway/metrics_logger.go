package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/keskad/xpressnet-gateway/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"serial_rx", snap.SerialRx,
					"serial_tx", snap.SerialTx,
					"ws_rx", snap.WSRx,
					"ws_tx", snap.WSTx,
					"hub_drops", snap.HubDrops,
					"hub_kicks", snap.HubKicks,
					"hub_clients", snap.HubClients,
					"checksum_errors", snap.ChecksumErrors,
					"framing_errors", snap.FramingErrors,
					"getstate_timeouts", snap.GetStateTimeout,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
