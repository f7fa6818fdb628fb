package wsserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/keskad/xpressnet-gateway/internal/dispatch"
	"github.com/keskad/xpressnet-gateway/internal/hub"
	"github.com/keskad/xpressnet-gateway/internal/metrics"
)

// startReader launches the goroutine reading inbound JSON commands from one
// client and handing them to the dispatcher. The dispatcher's synchronous
// reply goes straight back onto this client's own Out channel; broadcasts
// triggered by the eventual decoded reply arrive on Out independently, from
// the hub.
func (s *Server) startReader(ctx context.Context, conn *websocket.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer conn.Close()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
				}
				return
			}
			metrics.IncWSRx()
			if s.Dispatcher == nil {
				select {
				case cl.Out <- encodeErrEnvelope(520, "dispatcher_unavailable"):
				default:
				}
				continue
			}
			s.Dispatcher.Dispatch(ctx, msg, func(env dispatch.Envelope) {
				select {
				case cl.Out <- env.Encode():
				default:
					metrics.IncHubDrop()
				}
			})
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
}
