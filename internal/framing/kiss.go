package framing

import (
	"bufio"
	"context"
	"io"

	"github.com/charmbracelet/log"

	"github.com/jgoerzen/lorapipe/internal/engine"
)

// fend is the KISS frame delimiter (http://www.ax25.net/kiss.aspx).
const fend = 0xC0

// dataFrameCmd is the KISS command nibble identifying a data frame
// (as opposed to TNC control frames like TXDELAY or SetHardware).
const dataFrameCmd = 0x00

// RunKISS implements spec.md §4.9's KISS adapter: stdin is read up to
// each FEND, only frames whose leading command byte marks them as data
// frames are forwarded (the leading FEND is restored before
// transmission), and the output path is shared with RunRaw.
func RunKISS(ctx context.Context, tx Transmitter, frames <-chan engine.ReceivedFrame, in io.Reader, out io.Writer, logger *log.Logger) error {
	errs := make(chan error, 2)
	go func() { errs <- pumpKISSInput(ctx, tx, in, logger) }()
	go func() { errs <- pumpOutput(ctx, frames, out, logger) }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func pumpKISSInput(ctx context.Context, tx Transmitter, in io.Reader, logger *log.Logger) error {
	br := bufio.NewReader(in)
	for {
		buf, err := br.ReadBytes(fend)
		switch {
		case len(buf) == 0 && err == io.EOF:
			logger.Debug("kiss adapter: end of input")
			return nil
		case err != nil && err != io.EOF:
			return err
		}

		// buf ends with FEND but (for a real frame) doesn't begin with
		// one; strip the trailing delimiter before inspecting it.
		body := buf
		if len(body) > 0 && body[len(body)-1] == fend {
			body = body[:len(body)-1]
		}

		if len(body) < 1 {
			// Just the delimiter itself: the gap between two frames.
		} else if body[0] != dataFrameCmd {
			logger.Debug("kiss adapter: discarding TNC control frame", "cmd", body[0])
		} else {
			frame := make([]byte, 0, len(body)+1)
			frame = append(frame, fend)
			frame = append(frame, body...)
			if sendErr := tx.EnqueueTransmit(ctx, frame); sendErr != nil {
				return sendErr
			}
		}

		if err == io.EOF {
			logger.Debug("kiss adapter: end of input")
			return nil
		}
	}
}
