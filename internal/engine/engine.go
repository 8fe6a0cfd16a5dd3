// Package engine implements the radio I/O engine: the core event loop
// that multiplexes a receive path and a transmit path onto a single
// line-oriented command channel to a LoraStik-class radio module, and
// the one-byte continuation-flag turn-taking protocol between peers.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jgoerzen/lorapipe/internal/radioerr"
	"github.com/jgoerzen/lorapipe/internal/serial"
)

const (
	replyOK         = "ok"
	replyErr        = "radio_err"
	replyInvalid    = "invalid_param"
	rxPrefix        = "radio_rx "
	initDrainWait   = 1 * time.Second
	invalidCmdProbe = "INVALIDCOMMAND"
)

// txQueueCapacity is the bounded transmit-request queue depth. Producers
// block once two frames are already pending, which is the back-pressure
// spec.md §5 relies on to cap queueing latency.
const txQueueCapacity = 2

// Engine owns the serial writer, the line-reader's output endpoint, and
// both transmit/receive queues. Only the goroutine running Run (and the
// helpers it calls synchronously) ever touches the fields below the
// channels; there is no external mutable state to protect.
type Engine struct {
	port   serial.Port
	cfg    Config
	logger *log.Logger

	linesIn chan string
	txReq   chan []byte
	frames  *frameQueue

	extradata []byte
	txDelay   *time.Time
	txSlotEnd *time.Time
	radioMode RadioMode

	// pendingOutbound holds a transmit-queue item that Step D's wait
	// already dequeued while triggering an RX-stop race; Step B
	// consumes it in place of polling the channel on the next
	// iteration, per spec.md §4.4 Step D.
	pendingOutbound    []byte
	pendingOutboundSet bool
}

// New creates an Engine over port and immediately starts its
// line-reader task.
func New(port serial.Port, cfg Config, logger *log.Logger) *Engine {
	e := &Engine{
		port:      port,
		cfg:       cfg,
		logger:    logger,
		linesIn:   make(chan string),
		txReq:     make(chan []byte, txQueueCapacity),
		frames:    newFrameQueue(),
		radioMode: Idle,
	}
	go runLineReader(port, e.linesIn, logger)
	return e
}

// Frames returns the channel received frames are delivered on, in the
// order the radio reported them.
func (e *Engine) Frames() <-chan ReceivedFrame {
	return e.frames.Out()
}

// EnqueueTransmit submits payload for transmission. It blocks while two
// frames are already queued, providing the back-pressure spec.md §5
// describes.
func (e *Engine) EnqueueTransmit(ctx context.Context, payload []byte) error {
	select {
	case e.txReq <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLine blocks for the next line from the reader task, translating a
// closed channel (end of stream, or a fatal reader error) into a
// TransportError.
func (e *Engine) readLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-e.linesIn:
		if !ok {
			return "", radioerr.TransportF(nil, "serial line channel disconnected")
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *Engine) writeLine(s string) error {
	e.logger.Debug("serial line", "dir", "out", "line", s)
	return e.port.WriteLine(s)
}

// Run drives the main event loop described in spec.md §4.4 until a
// fatal error occurs or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer e.frames.close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Step A: transmit-delay gate.
		skipToReceive := false
		if e.txDelay != nil {
			remaining := time.Until(*e.txDelay)
			if remaining > 0 {
				if err := e.enterReceive(ctx); err != nil {
					return err
				}
				timer := time.NewTimer(remaining)
				select {
				case line, ok := <-e.linesIn:
					timer.Stop()
					if !ok {
						return radioerr.TransportF(nil, "serial line channel disconnected")
					}
					if err := e.handleRX(ctx, line, e.cfg.ReadQuality); err != nil {
						return err
					}
					continue
				case <-timer.C:
					e.txDelay = nil
					skipToReceive = true
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				}
			} else {
				e.txDelay = nil
				skipToReceive = true
			}
		}

		// Step B: drain outbound. Skipped when Step A just cleared an
		// expired tx_delay: the radio is already in Receiving mode and
		// spec.md §4.4 has this fall through to Step C rather than
		// attempt a send first.
		if !skipToReceive {
			if len(e.extradata) > 0 {
				if err := e.doSend(ctx, nil); err != nil {
					return err
				}
				continue
			}
			payload, ok := e.popOutbound()
			if ok {
				if err := e.doSend(ctx, payload); err != nil {
					return err
				}
				continue
			}
		}

		// Step C: enter receive mode if not already.
		if err := e.enterReceive(ctx); err != nil {
			return err
		}

		// Step D: wait on either lines-in or a transmit request.
		select {
		case line, ok := <-e.linesIn:
			if !ok {
				return radioerr.TransportF(nil, "serial line channel disconnected")
			}
			if err := e.handleRX(ctx, line, e.cfg.ReadQuality); err != nil {
				return err
			}
		case payload := <-e.txReq:
			e.pendingOutbound = payload
			e.pendingOutboundSet = true
			if err := e.rxStop(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// popOutbound returns the next queued transmit payload, preferring a
// value Step D already dequeued while racing an RX-stop, then falling
// back to a non-blocking poll of the transmit queue.
func (e *Engine) popOutbound() ([]byte, bool) {
	if e.pendingOutboundSet {
		payload := e.pendingOutbound
		e.pendingOutbound = nil
		e.pendingOutboundSet = false
		return payload, true
	}
	select {
	case payload := <-e.txReq:
		return payload, true
	default:
		return nil, false
	}
}

// pendingQueueLen reports how many frames are ready to send without
// consuming them: either the stashed pendingOutbound, or the current
// depth of the buffered transmit-request channel.
func (e *Engine) pendingQueueLen() int {
	if e.pendingOutboundSet {
		return 1 + len(e.txReq)
	}
	return len(e.txReq)
}

// enterReceive implements spec.md §4.5.
func (e *Engine) enterReceive(ctx context.Context) error {
	if e.radioMode == Receiving {
		return nil
	}
	if err := e.writeLine("radio rx 0"); err != nil {
		return err
	}
	reply, err := e.readLine(ctx)
	if err != nil {
		return err
	}
	if reply == replyErr {
		// Firmware quirk: a stray error may precede the real reply.
		reply, err = e.readLine(ctx)
		if err != nil {
			return err
		}
	}
	if reply != replyOK {
		return radioerr.ProtocolF(nil, "enter-receive: expected ok, got %q", reply)
	}
	e.radioMode = Receiving
	return nil
}

// rxStop implements spec.md §4.8.
func (e *Engine) rxStop(ctx context.Context) error {
	if err := e.writeLine("radio rxstop"); err != nil {
		return err
	}
	r, err := e.readLine(ctx)
	if err != nil {
		return err
	}
	if strings.HasPrefix(r, rxPrefix) {
		// A packet arrived during the stop race. Quality polling is
		// disabled: the radio is transitioning out of receive and may
		// not answer quality queries cleanly.
		if err := e.handleRX(ctx, r, false); err != nil {
			return err
		}
		// Tolerate whatever the firmware says here (often radio_tx_ok-
		// style "ok", sometimes a stray radio_err); only reaching the
		// next iteration matters.
		if _, err := e.readLine(ctx); err != nil {
			return err
		}
	}
	e.radioMode = Idle
	return nil
}

// handleRX implements spec.md §4.6.
func (e *Engine) handleRX(ctx context.Context, msg string, pollQuality bool) error {
	if !strings.HasPrefix(msg, rxPrefix) {
		// Stray radio_err and anything else is harmless in receive mode.
		return nil
	}

	decoded, err := hex.DecodeString(msg[len(rxPrefix):])
	if err != nil {
		return radioerr.ProtocolF(err, "radio_rx: bad hex payload %q", msg)
	}
	if len(decoded) == 0 {
		return radioerr.ProtocolF(nil, "radio_rx: empty payload")
	}

	var quality *Quality
	if pollQuality {
		q, err := e.readQuality(ctx)
		if err != nil {
			return err
		}
		quality = q
	}

	flag := decoded[0]
	payload := decoded[1:]

	switch flag {
	case 0:
		e.txDelay = nil
	case 1:
		delay := time.Now().Add(e.cfg.EotWait)
		e.txDelay = &delay
	case 2:
		// Peer is ceding the floor; we must immediately claim our turn.
	default:
		e.logger.Warn("radio_rx: unrecognized continuation flag", "flag", flag)
	}

	e.frames.push(ReceivedFrame{Payload: payload, Quality: quality})

	if flag == 2 {
		return e.doSend(ctx, nil)
	}
	return nil
}

func (e *Engine) readQuality(ctx context.Context) (*Quality, error) {
	if err := e.writeLine("radio get snr"); err != nil {
		return nil, err
	}
	snr, err := e.readLine(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.writeLine("radio get rssi"); err != nil {
		return nil, err
	}
	rssi, err := e.readLine(ctx)
	if err != nil {
		return nil, err
	}
	return &Quality{SNR: snr, RSSI: rssi}, nil
}

// doSend implements spec.md §4.7.
func (e *Engine) doSend(ctx context.Context, payload []byte) error {
	limit := e.cfg.MaxPacketSize - 1

	out := make([]byte, 0, len(e.extradata)+len(payload))
	out = append(out, e.extradata...)
	out = append(out, payload...)
	e.extradata = nil

	if len(out) > limit {
		tail := append([]byte(nil), out[limit:]...)
		out = out[:limit]
		e.extradata = tail
	}

	// Opportunistically fold in at most one more queued frame: packing
	// tries to merge it even if that splits it, non-packing only if the
	// whole frame still fits. Either way this attempts just once per
	// send; a queue that is already empty leaves out untouched.
	if len(out) < limit && len(e.extradata) == 0 {
		if next, ok := e.popOutbound(); ok {
			if e.cfg.Pack {
				out = append(out, next...)
				if len(out) > limit {
					tail := append([]byte(nil), out[limit:]...)
					out = out[:limit]
					e.extradata = tail
				}
			} else if len(out)+len(next) <= limit {
				out = append(out, next...)
			} else {
				e.extradata = append([]byte(nil), next...)
			}
		}
	}

	select {
	case <-time.After(e.cfg.TxWait):
	case <-ctx.Done():
		return ctx.Err()
	}

	moreToSend := len(e.extradata) > 0 || e.pendingQueueLen() > 0
	var flag byte
	if moreToSend {
		flag = 1
	}

	if flag == 1 {
		now := time.Now()
		if e.txSlotEnd == nil && e.cfg.TxSlot != nil {
			end := now.Add(*e.cfg.TxSlot)
			e.txSlotEnd = &end
		} else if e.txSlotEnd != nil && now.After(*e.txSlotEnd) {
			flag = 2
			delay := now.Add(e.cfg.EotWait)
			e.txDelay = &delay
			e.txSlotEnd = nil
		}
	} else {
		e.txSlotEnd = nil
	}

	wire := make([]byte, 0, len(out)+1)
	wire = append(wire, flag)
	wire = append(wire, out...)
	if err := e.writeLine(fmt.Sprintf("radio tx %s", hex.EncodeToString(wire))); err != nil {
		return err
	}

	reply, err := e.readLine(ctx)
	if err != nil {
		return err
	}
	if reply == replyErr {
		reply, err = e.readLine(ctx)
		if err != nil {
			return err
		}
	}
	if reply != replyOK {
		return radioerr.ProtocolF(nil, "do-send: expected ok, got %q", reply)
	}

	// Consume, but per spec.md §9's Open Question, do not strictly
	// check, the final radio_tx_ok-style reply.
	if _, err := e.readLine(ctx); err != nil {
		return err
	}

	e.radioMode = Idle
	return nil
}
