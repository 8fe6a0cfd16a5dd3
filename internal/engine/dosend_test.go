package engine

import (
	"context"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

// spyPort records the hex payload of every "radio tx" line and answers
// with a canned ok/radio_tx_ok pair over a channel, standing in for the
// firmware in white-box doSend tests that bypass the main loop. The
// line-reader goroutine New starts blocks on lines rather than racing
// WriteLine for an EOF.
type spyPort struct {
	mu    sync.Mutex
	sent  []string
	lines chan string
}

func newSpyPort() *spyPort {
	return &spyPort{lines: make(chan string, 16)}
}

func (p *spyPort) WriteLine(s string) error {
	if strings.HasPrefix(s, "radio tx ") {
		p.mu.Lock()
		p.sent = append(p.sent, strings.TrimPrefix(s, "radio tx "))
		p.mu.Unlock()
		p.lines <- "ok"
		p.lines <- "radio_tx_ok"
	}
	return nil
}

func (p *spyPort) ReadLine() (string, error) {
	line, ok := <-p.lines
	if !ok {
		return "", io.EOF
	}
	return line, nil
}

func (p *spyPort) Close() error {
	close(p.lines)
	return nil
}

func (p *spyPort) sentLines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	copy(out, p.sent)
	return out
}

func TestDoSendSplitsOversizedPayload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPacketSize = 10
	cfg.TxWait = 0
	e := New(newSpyPort(), cfg, quietLogger())

	big := []byte("0123456789ABCDEF") // 16 bytes, limit is 9
	err := e.doSend(context.Background(), big)
	require.NoError(t, err)
	require.Equal(t, big[9:], e.extradata)
}

func TestDoSendPackFalseDoesNotStraddle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPacketSize = 10
	cfg.TxWait = 0
	cfg.Pack = false
	e := New(newSpyPort(), cfg, quietLogger())
	e.txReq <- []byte("XYZ")

	err := e.doSend(context.Background(), []byte("123456"))
	require.NoError(t, err)
	// "123456" (6) + "XYZ" (3) = 9 <= limit 9: fits whole, no straddle.
	require.Empty(t, e.extradata)
}

func TestDoSendPackFalseDefersWhenItWouldStraddle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPacketSize = 10
	cfg.TxWait = 0
	cfg.Pack = false
	e := New(newSpyPort(), cfg, quietLogger())
	e.txReq <- []byte("TOOLONGFORIT")

	err := e.doSend(context.Background(), []byte("123456"))
	require.NoError(t, err)
	// Queued frame didn't fit whole: it is carried, untouched, in
	// extradata for the next packet rather than split.
	require.Equal(t, "TOOLONGFORIT", string(e.extradata))
	select {
	case queued := <-e.txReq:
		t.Fatalf("expected the oversized frame to leave the queue, still queued: %q", queued)
	default:
	}
}

func TestDoSendEncodesFlagByteAndPayload(t *testing.T) {
	port := newSpyPort()
	cfg := DefaultConfig()
	cfg.MaxPacketSize = 100
	cfg.TxWait = 0
	e := New(port, cfg, quietLogger())

	require.NoError(t, e.doSend(context.Background(), []byte("solo")))
	require.Len(t, port.sentLines(), 1)

	wire, err := hex.DecodeString(port.sentLines()[0])
	require.NoError(t, err)
	require.Equal(t, byte(0), wire[0])
	require.Equal(t, "solo", string(wire[1:]))
}

// TestDoSendNeverExceedsMaxPacketSize is a property test for spec.md's
// extradata-bound invariant: whatever doSend is handed, the wire frame
// it emits (flag byte included) never exceeds MaxPacketSize, and any
// remainder is carried forward in extradata rather than dropped.
func TestDoSendNeverExceedsMaxPacketSize(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxSize := rapid.IntRange(2, 64).Draw(rt, "maxSize")
		payload := []byte(rapid.StringN(0, 200, -1).Draw(rt, "payload"))

		cfg := DefaultConfig()
		cfg.MaxPacketSize = maxSize
		cfg.TxWait = 0
		port := newSpyPort()
		e := New(port, cfg, quietLogger())

		err := e.doSend(context.Background(), payload)
		require.NoError(rt, err)
		require.Len(rt, port.sentLines(), 1)

		wireLen := len(port.sentLines()[0]) / 2
		require.LessOrEqual(rt, wireLen, maxSize)
		require.Equal(rt, len(payload), wireLen-1+len(e.extradata))
	})
}
