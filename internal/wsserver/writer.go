package wsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/keskad/xpressnet-gateway/internal/hub"
	"github.com/keskad/xpressnet-gateway/internal/metrics"
)

// startWriter launches the goroutine pushing hub broadcasts and this
// client's own dispatch replies out over its websocket connection.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn *websocket.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.Hub != nil {
				s.Hub.Remove(cl)
			}
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		for {
			select {
			case msg := <-cl.Out:
				_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
					return
				}
				metrics.IncWSTx()
			case <-cl.Closed:
				return
			case <-ctxDone:
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}()
}
