package engine_test

import (
	"io"
	"strings"
	"sync"
)

// fakePort is an in-memory stand-in for serial.Port: WriteLine pushes
// onto a channel a test-side "radio" goroutine reads, and ReadLine pulls
// from a channel that goroutine (or the test directly, for unsolicited
// traffic) feeds.
type fakePort struct {
	out chan string
	in  chan string

	mu     sync.Mutex
	closed bool
}

func newFakePort() *fakePort {
	return &fakePort{
		out: make(chan string, 64),
		in:  make(chan string, 64),
	}
}

func (p *fakePort) WriteLine(s string) error {
	p.out <- s
	return nil
}

func (p *fakePort) ReadLine() (string, error) {
	s, ok := <-p.in
	if !ok {
		return "", io.EOF
	}
	return s, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.in)
	}
	return nil
}

// inject delivers an unsolicited (or scripted) line to the engine.
func (p *fakePort) inject(s string) {
	p.in <- s
}

// simRadio plays the part of the LoraStik firmware: for every line the
// engine writes, it looks up (or synthesizes) a canned reply sequence
// and feeds it back, while recording every "radio tx" payload it saw.
type simRadio struct {
	port *fakePort

	mu       sync.Mutex
	txHex    []string
	overlay  map[string][]string
	sentCmds chan string
}

func newSimRadio(port *fakePort) *simRadio {
	r := &simRadio{
		port:     port,
		overlay:  map[string][]string{},
		sentCmds: make(chan string, 256),
	}
	go r.run()
	return r
}

// override replaces the canned reply sequence for an exact command line.
func (r *simRadio) override(cmd string, replies ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlay[cmd] = replies
}

func (r *simRadio) txPayloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.txHex))
	copy(out, r.txHex)
	return out
}

func (r *simRadio) run() {
	for cmd := range r.port.out {
		r.sentCmds <- cmd
		replies := r.replyFor(cmd)
		for _, line := range replies {
			r.port.in <- line
		}
	}
}

func (r *simRadio) replyFor(cmd string) []string {
	r.mu.Lock()
	if rep, ok := r.overlay[cmd]; ok {
		r.mu.Unlock()
		return rep
	}
	r.mu.Unlock()

	switch {
	case cmd == "radio rx 0":
		return []string{"ok"}
	case cmd == "radio rxstop":
		return []string{"ok"}
	case cmd == "radio get snr":
		return []string{"-42"}
	case cmd == "radio get rssi":
		return []string{"-110"}
	case strings.HasPrefix(cmd, "radio tx "):
		r.mu.Lock()
		r.txHex = append(r.txHex, strings.TrimPrefix(cmd, "radio tx "))
		r.mu.Unlock()
		return []string{"ok", "radio_tx_ok"}
	default:
		return []string{"ok"}
	}
}
