// Package wsserver implements the websocket listener: it upgrades incoming
// HTTP connections, registers each client with the hub, and pumps inbound
// commands to the dispatcher while the hub drains outbound broadcasts back
// to the client. It plays the role the teacher's Cannelloni TCP server
// plays for CAN frames, adapted to gorilla/websocket text messages.
package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/keskad/xpressnet-gateway/internal/dispatch"
	"github.com/keskad/xpressnet-gateway/internal/hub"
	"github.com/keskad/xpressnet-gateway/internal/logging"
	"github.com/keskad/xpressnet-gateway/internal/metrics"
)

// Server owns the HTTP listener upgrading clients to websocket connections.
type Server struct {
	mu         sync.RWMutex
	addr       string
	path       string
	Hub        *hub.Hub
	Dispatcher *dispatch.Dispatcher

	readDeadline time.Duration
	writeTimeout time.Duration
	maxClients   int
	upgrader     websocket.Upgrader

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error

	httpSrv *http.Server
	ln      net.Listener

	clientsMu sync.RWMutex
	clients   map[*hub.Client]*websocket.Conn

	wg     sync.WaitGroup
	logger *slog.Logger

	totalAccepted      atomic.Uint64
	totalUpgradeFail   atomic.Uint64
	totalConnected     atomic.Uint64
	totalDisconnected  atomic.Uint64
	totalDispatchError atomic.Uint64
}

const (
	defaultReadDeadline = 60 * time.Second
	defaultWriteTimeout = 200 * time.Millisecond
	defaultPath         = "/"
)

type ServerOption func(*Server)

// NewServer constructs a Server with sane defaults; apply options to
// customize.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		path:         defaultPath,
		readDeadline: defaultReadDeadline,
		writeTimeout: defaultWriteTimeout,
		readyCh:      make(chan struct{}),
		errCh:        make(chan error, 1),
		clients:      make(map[*hub.Client]*websocket.Conn),
		logger:       logging.L(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption       { return func(s *Server) { s.addr = a } }
func WithPath(p string) ServerOption             { return func(s *Server) { s.path = p } }
func WithHub(h *hub.Hub) ServerOption            { return func(s *Server) { s.Hub = h } }
func WithDispatcher(d *dispatch.Dispatcher) ServerOption {
	return func(s *Server) { s.Dispatcher = d }
}
func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}
func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve binds the listener and accepts websocket clients until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	if addr == "" {
		addr = ":0"
	}
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade(ctx))
	s.httpSrv = &http.Server{Handler: mux}

	if s.readyCh != nil {
		s.readyOnce.Do(func() { close(s.readyCh) })
	}
	s.logger.Info("ws_listen", "addr", s.Addr(), "path", s.path)
	s.logger.Info("ready")

	go func() { <-ctx.Done(); _ = s.httpSrv.Close() }()

	if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		if ctx.Err() != nil {
			return nil
		}
		return wrap
	}
	return nil
}

func (s *Server) handleUpgrade(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.totalAccepted.Add(1)
		if s.maxClients > 0 && s.Hub != nil && s.Hub.Count() >= s.maxClients {
			metrics.IncHubKick()
			http.Error(w, "too many clients", http.StatusServiceUnavailable)
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			wrap := fmt.Errorf("%w: %v", ErrUpgrade, err)
			metrics.IncError(mapErrToMetric(wrap))
			s.setError(wrap)
			s.totalUpgradeFail.Add(1)
			return
		}
		connLogger := s.logger.With("remote", conn.RemoteAddr().String())
		cl := s.newClient()
		s.clientsMu.Lock()
		s.clients[cl] = conn
		s.clientsMu.Unlock()
		s.totalConnected.Add(1)
		connLogger.Info("client_connected")
		s.startWriter(ctx.Done(), conn, cl, connLogger)
		s.startReader(ctx, conn, cl, connLogger)
	}
}

func (s *Server) newClient() *hub.Client {
	bufSize := 64
	if s.Hub != nil && s.Hub.OutBufSize > 0 {
		bufSize = s.Hub.OutBufSize
	}
	cl := &hub.Client{Out: make(chan []byte, bufSize), Closed: make(chan struct{})}
	if s.Hub != nil {
		s.Hub.Add(cl)
	}
	return cl
}

// Shutdown gracefully closes every client connection and waits for their
// goroutines, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
	s.clientsMu.Lock()
	for cl, conn := range s.clients {
		_ = conn.Close()
		if s.Hub != nil {
			s.Hub.Remove(cl)
		}
		delete(s.clients, cl)
	}
	s.clientsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"upgrade_fail", s.totalUpgradeFail.Load(),
			"connected", s.totalConnected.Load(),
			"disconnected", s.totalDisconnected.Load(),
			"dispatch_errors", s.totalDispatchError.Load())
		return nil
	}
}

// encodeErrEnvelope renders a bare error envelope; the reader uses it when
// no dispatcher is configured to handle an inbound message.
func encodeErrEnvelope(statusCode int, msg string) []byte {
	b, _ := json.Marshal(struct {
		StatusCode int    `json:"status_code"`
		Message    string `json:"message"`
	}{statusCode, msg})
	return b
}
