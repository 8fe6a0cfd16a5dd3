package engine

import (
	"context"
	"time"

	"github.com/jgoerzen/lorapipe/internal/radioerr"
)

// DefaultInitLines is the built-in radio initialization sequence used
// when no init file is supplied, per spec.md §4.3.
var DefaultInitLines = []string{
	"sys get ver",
	"mac reset",
	"mac pause",
	"radio get mod",
	"radio get freq",
	"radio get pwr",
	"radio get sf",
	"radio get bw",
	"radio get cr",
	"radio get wdt",
	"radio set pwr 20",
	"radio set sf sf12",
	"radio set bw 125",
	"radio set cr 4/5",
	"radio set wdt 60000",
}

// Configure implements spec.md §4.3: probe with a deliberately invalid
// command, drain whatever replies were already buffered, then replay the
// initialization lines (initLines if non-nil, else DefaultInitLines),
// failing if any elicits invalid_param.
func (e *Engine) Configure(ctx context.Context, initLines []string) error {
	if err := e.writeLine(invalidCmdProbe); err != nil {
		return err
	}

	select {
	case <-time.After(initDrainWait):
	case <-ctx.Done():
		return ctx.Err()
	}
	e.drainPending()

	lines := initLines
	if lines == nil {
		lines = DefaultInitLines
	}

	for _, line := range lines {
		if line == "" {
			continue
		}
		if err := e.writeLine(line); err != nil {
			return err
		}
		reply, err := e.readLine(ctx)
		if err != nil {
			return err
		}
		if reply == replyInvalid {
			return radioerr.ConfigF(nil, "radio rejected init line %q", line)
		}
	}
	return nil
}

// drainPending non-blockingly discards whatever lines have already
// accumulated on linesIn, so that stray replies from the invalid-command
// probe do not get mistaken for the first real init reply.
func (e *Engine) drainPending() {
	for {
		select {
		case _, ok := <-e.linesIn:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
