// Package framing implements the two stdin/stdout adapters that sit on
// top of the radio engine: a raw fixed-window chunker and a KISS framer.
package framing

import (
	"bufio"
	"context"
	"io"

	"github.com/charmbracelet/log"

	"github.com/jgoerzen/lorapipe/internal/engine"
)

// Transmitter is the subset of *engine.Engine an adapter needs to submit
// outbound payloads.
type Transmitter interface {
	EnqueueTransmit(ctx context.Context, payload []byte) error
}

// RunRaw implements spec.md §4.9's raw stream adapter: stdin is chunked
// into windows of at most maxPacketSize-1 bytes and each is handed to
// EnqueueTransmit; received frames are written to stdout verbatim and
// flushed. Returns only once both directions have finished (input at
// EOF or on a send error, output when frames is closed or ctx is done),
// with the first non-nil error either of them reported.
func RunRaw(ctx context.Context, tx Transmitter, frames <-chan engine.ReceivedFrame, in io.Reader, out io.Writer, maxPacketSize int, logger *log.Logger) error {
	errs := make(chan error, 2)
	go func() { errs <- pumpRawInput(ctx, tx, in, maxPacketSize, logger) }()
	go func() { errs <- pumpOutput(ctx, frames, out, logger) }()

	// Input reaching EOF is routine for one-directional traffic and
	// must not tear down the output side; wait for both tasks and
	// surface whichever error (if any) is real.
	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func pumpRawInput(ctx context.Context, tx Transmitter, in io.Reader, maxPacketSize int, logger *log.Logger) error {
	window := maxPacketSize - 1
	buf := make([]byte, window)
	for {
		n, err := io.ReadFull(in, buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if sendErr := tx.EnqueueTransmit(ctx, chunk); sendErr != nil {
				return sendErr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			logger.Debug("raw adapter: end of input")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// pumpOutput implements the output half shared by the raw and KISS
// adapters: each received frame's payload is written to out and flushed.
func pumpOutput(ctx context.Context, frames <-chan engine.ReceivedFrame, out io.Writer, logger *log.Logger) error {
	bw := bufio.NewWriter(out)
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if _, err := bw.Write(frame.Payload); err != nil {
				return err
			}
			if err := bw.Flush(); err != nil {
				return err
			}
			logger.Debug("raw adapter: delivered frame", "len", len(frame.Payload))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
