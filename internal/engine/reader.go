package engine

import (
	"io"

	"github.com/charmbracelet/log"

	"github.com/jgoerzen/lorapipe/internal/serial"
)

// runLineReader pulls lines from port forever and pushes each onto
// linesIn. On clean end-of-stream it logs a debug note and returns; on
// any other I/O error it logs the failure. Either way it closes linesIn
// from the producer side, so the engine's next blocking receive returns
// a disconnect it can surface as a fatal error, matching spec.md §4.2.
func runLineReader(port serial.Port, linesIn chan<- string, logger *log.Logger) {
	defer close(linesIn)
	for {
		line, err := port.ReadLine()
		if err != nil {
			if err == io.EOF {
				logger.Debug("end of stream from serial port")
			} else {
				logger.Error("fatal error reading serial port", "err", err)
			}
			return
		}
		logger.Debug("serial line", "dir", "in", "line", line)
		linesIn <- line
	}
}
