package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jgoerzen/lorapipe/internal/engine"
	"github.com/jgoerzen/lorapipe/internal/framing"
	"github.com/jgoerzen/lorapipe/internal/ping"
	"github.com/jgoerzen/lorapipe/internal/radioerr"
	"github.com/jgoerzen/lorapipe/internal/serial"
)

// PipeCommand runs the raw stream adapter.
type PipeCommand struct{}

// KISSCommand runs the KISS-framed adapter.
type KISSCommand struct{}

// PingCommand runs the periodic ping generator; received frames are
// merely discarded.
type PingCommand struct{}

// PongCommand runs the ping/pong responder.
type PongCommand struct{}

func (c *PipeCommand) Execute(args []string) error {
	return withEngine(func(ctx context.Context, e *engine.Engine, logger *log.Logger) error {
		return framing.RunRaw(ctx, e, e.Frames(), os.Stdin, os.Stdout, opts.MaxPacketSize, logger)
	})
}

func (c *KISSCommand) Execute(args []string) error {
	return withEngine(func(ctx context.Context, e *engine.Engine, logger *log.Logger) error {
		return framing.RunKISS(ctx, e, e.Frames(), os.Stdin, os.Stdout, logger)
	})
}

func (c *PingCommand) Execute(args []string) error {
	return withEngine(func(ctx context.Context, e *engine.Engine, logger *log.Logger) error {
		errs := make(chan error, 2)
		go func() { errs <- ping.RunPing(ctx, e, logger) }()
		go func() {
			for range e.Frames() {
				// Ping mode doesn't act on replies; drain so the engine's
				// frame queue never backs up.
			}
			errs <- nil
		}()
		err := <-errs
		return err
	})
}

func (c *PongCommand) Execute(args []string) error {
	return withEngine(func(ctx context.Context, e *engine.Engine, logger *log.Logger) error {
		return ping.RunPong(ctx, e, e.Frames(), os.Stdout, logger)
	})
}

// withEngine builds the logger, opens and configures the radio per the
// global options, runs the engine's main loop alongside fn, and tears
// both down on the first fatal error or an interrupt signal.
func withEngine(fn func(ctx context.Context, e *engine.Engine, logger *log.Logger) error) error {
	logger := log.New(os.Stderr)
	logger.SetLevel(log.InfoLevel)
	if opts.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	if opts.MaxPacketSize < 10 || opts.MaxPacketSize > 250 {
		return fmt.Errorf("--maxpacketsize must be between 10 and 250, got %d", opts.MaxPacketSize)
	}

	port, err := serial.Open(opts.Args.Port)
	if err != nil {
		return err
	}
	defer port.Close()

	cfg := engine.DefaultConfig()
	cfg.ReadQuality = opts.ReadQual
	cfg.Pack = opts.Pack
	cfg.MaxPacketSize = opts.MaxPacketSize
	cfg.TxWait = time.Duration(opts.TxWait) * time.Millisecond
	cfg.EotWait = time.Duration(opts.EotWait) * time.Millisecond
	if opts.TxSlot > 0 {
		slot := time.Duration(opts.TxSlot) * time.Millisecond
		cfg.TxSlot = &slot
	}

	e := engine.New(port, cfg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	initLines, err := loadInitLines(opts.InitFile)
	if err != nil {
		return err
	}
	if err := e.Configure(ctx, initLines); err != nil {
		return err
	}

	errs := make(chan error, 2)
	go func() { errs <- e.Run(ctx) }()
	go func() { errs <- fn(ctx, e, logger) }()

	err = <-errs
	cancel()
	<-errs

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadInitLines reads path (spec.md §6's init file format: one shell-
// style command per line, blank lines ignored) or returns nil to fall
// back to engine.DefaultInitLines when path is empty.
func loadInitLines(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, radioerr.ConfigF(err, "open init file %s", path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, radioerr.ConfigF(err, "read init file %s", path)
	}
	return lines, nil
}
