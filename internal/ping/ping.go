// Package ping implements the ping generator and pong responder
// adapters from spec.md §4.9: a simple liveness exerciser for the radio
// engine that needs no external input stream.
package ping

import (
	"context"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/jgoerzen/lorapipe/internal/engine"
)

// Transmitter is the subset of *engine.Engine an adapter needs to submit
// outbound payloads.
type Transmitter interface {
	EnqueueTransmit(ctx context.Context, payload []byte) error
}

// interval between ping transmissions.
const interval = 5 * time.Second

// RunPing periodically enqueues "Ping <n>" for monotonically increasing
// n, starting at 1, until ctx is cancelled.
func RunPing(ctx context.Context, tx Transmitter, logger *log.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ticker.C:
			n++
			payload := []byte(fmt.Sprintf("Ping %d", n))
			if err := tx.EnqueueTransmit(ctx, payload); err != nil {
				return err
			}
			logger.Debug("ping: sent", "n", n)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunPong answers every received frame with a "Pong <payload>, <quality>"
// line written to out and echoed back over the radio, per spec.md §4.9.
func RunPong(ctx context.Context, tx Transmitter, frames <-chan engine.ReceivedFrame, out io.Writer, logger *log.Logger) error {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			text := formatPong(frame)
			if _, err := fmt.Fprintln(out, text); err != nil {
				return err
			}
			if err := tx.EnqueueTransmit(ctx, []byte(text)); err != nil {
				return err
			}
			logger.Debug("pong: replied", "text", text)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func formatPong(frame engine.ReceivedFrame) string {
	payload := toUTF8Lossy(frame.Payload)
	quality := "unknown"
	if frame.Quality != nil {
		quality = fmt.Sprintf("snr=%s rssi=%s", frame.Quality.SNR, frame.Quality.RSSI)
	}
	return fmt.Sprintf("Pong %s, %s", payload, quality)
}

// toUTF8Lossy mirrors Rust's String::from_utf8_lossy: invalid sequences
// become the Unicode replacement character rather than failing.
func toUTF8Lossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out := make([]rune, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		out = append(out, r)
		b = b[size:]
	}
	return string(out)
}
