package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/keskad/xpressnet-gateway/internal/dispatch"
	"github.com/keskad/xpressnet-gateway/internal/hub"
	"github.com/keskad/xpressnet-gateway/internal/serial"
	"github.com/keskad/xpressnet-gateway/internal/xpressnet"
)

// initController builds the Store, the Dispatcher and the Controller
// (either the real serial.Transport or xpressnet.MockController, selected
// by SERIAL_DEVICE/--serial-device=mock) and wires them together: decoded
// events and connection transitions flow into the dispatcher, which fans
// them out through the hub.
func initController(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (xpressnet.Controller, *dispatch.Dispatcher) {
	store := xpressnet.NewStore()
	var d *dispatch.Dispatcher

	if cfg.serialDev == "mock" {
		ctrl := xpressnet.NewMockController(store, func(ev xpressnet.Event) { d.HandleEvent(ev) })
		d = dispatch.New(ctrl, store, h)
		l.Info("controller_backend", "backend", "mock")
		return ctrl, d
	}

	t := serial.NewTransport(cfg.serialDev, cfg.baud, cfg.serialReadTO, cfg.reconnectInterval, cfg.commandDelay, cfg.stateTimeout, store)
	d = dispatch.New(t, store, h)
	t.Subscribe(func(ev xpressnet.Event) { d.HandleEvent(ev) })
	t.OnConnChange(func(s serial.ConnState) { d.HandleConnChange(s == serial.Connected) })

	wg.Add(1)
	go func() {
		defer wg.Done()
		t.Run(ctx)
	}()
	go func() { <-ctx.Done(); t.Close() }()

	l.Info("controller_backend", "backend", "serial", "device", cfg.serialDev, "baud", cfg.baud)
	return t, d
}
