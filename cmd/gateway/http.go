package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/keskad/xpressnet-gateway/internal/xpressnet"
)

// startStatusHTTP serves the /status page (supplemented from the original
// Python http_server.py: a minimal dashboard plus emergencyOff/
// resumeNormalOperations buttons) on cfg.httpPort.
func startStatusHTTP(ctx context.Context, cfg *appConfig, ctrl xpressnet.Controller) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		status := "Not Connected"
		if ctrl.IsConnected() {
			status = "Connected"
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html>
<head><title>XpressNet Gateway Status</title></head>
<body>
<h1>XpressNet Gateway Status</h1>
<p><strong>Hostname:</strong> %s</p>
<p><strong>Websocket Port:</strong> %s</p>
<p><strong>Controller Status:</strong> %s</p>
<form method="POST" action="/emergencyOff"><button type="submit">Emergency Off</button></form>
<form method="POST" action="/resumeNormalOperations"><button type="submit">Resume Normal Operations</button></form>
</body>
</html>`, hostname, cfg.wsListenAddr, status)
	})
	mux.HandleFunc("/emergencyOff", func(w http.ResponseWriter, r *http.Request) {
		_ = ctrl.EmergencyOff(r.Context())
		http.Redirect(w, r, "/status", http.StatusSeeOther)
	})
	mux.HandleFunc("/resumeNormalOperations", func(w http.ResponseWriter, r *http.Request) {
		_ = ctrl.ResumeNormalOperations(r.Context())
		http.Redirect(w, r, "/status", http.StatusSeeOther)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.httpPort), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return
		}
	}()
	go func() { <-ctx.Done(); _ = srv.Close() }()
	return srv
}
