package serial

import (
	"context"
	"errors"

	"github.com/keskad/xpressnet-gateway/internal/logging"
	"github.com/keskad/xpressnet-gateway/internal/metrics"
	"github.com/keskad/xpressnet-gateway/internal/transport"
	"github.com/keskad/xpressnet-gateway/internal/xpressnet"
)

var ErrTxOverflow = errors.New("serial tx overflow")

// TXWriter funnels every outgoing XpressNet frame through one goroutine,
// giving the single writer guard §5 requires: writes are serialized and
// each frame is written atomically.
type TXWriter struct{ base *transport.AsyncTx }

// NewTXWriter creates a serial TXWriter with a buffered channel of size buf.
func NewTXWriter(parent context.Context, sp Port, buf int) *TXWriter {
	send := func(fr xpressnet.Frame) error {
		_, err := sp.Write(fr.Bytes())
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSerialWrite)
			logging.L().Error("serial_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncSerialTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSerialOverflow)
			return ErrTxOverflow
		},
	}
	return &TXWriter{base: transport.NewAsyncTx(parent, buf, send, hooks)}
}

// SendFrame queues a frame for asynchronous write (drops with ErrTxOverflow
// if the buffer is full).
func (w *TXWriter) SendFrame(fr xpressnet.Frame) error { return w.base.SendFrame(fr) }

// Close stops the writer and waits for the pending goroutine to exit.
func (w *TXWriter) Close() { w.base.Close() }
