// Package serial wraps a line-oriented serial transport to the radio
// module: open, configure, read a \r\n-terminated line, write a line.
// Only the radio engine writes; only the line-reader task reads.
package serial

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	goserial "go.bug.st/serial"

	"github.com/jgoerzen/lorapipe/internal/radioerr"
)

// effectively-infinite read timeout, matching the 20-year duration the
// original LoraSer used to get a blocking read without a platform-specific
// "no timeout" sentinel.
const readTimeout = 20 * 365 * 24 * time.Hour

const autobaudChar = 0x55
const autobaudSettle = 100 * time.Millisecond

// Port is a duplex, line-oriented connection to the radio.
type Port interface {
	// ReadLine blocks for the next line, with EOL characters stripped.
	// Returns io.EOF when the transport reaches a clean end of stream.
	ReadLine() (string, error)
	// WriteLine appends "\r\n", writes, and flushes.
	WriteLine(s string) error
	Close() error
}

type radioPort struct {
	name string

	readMu sync.Mutex
	br     *bufio.Reader

	writeMu sync.Mutex
	w       io.Writer

	closer io.Closer
}

// Open opens and configures the named serial device at 115200-8-N-1 with
// no flow control, performs the autobaud bootstrap sequence, and returns
// a ready-to-use Port.
func Open(name string) (Port, error) {
	port, err := goserial.Open(name, &goserial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	})
	if err != nil {
		return nil, radioerr.TransportF(err, "open %s", name)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, radioerr.TransportF(err, "set read timeout on %s", name)
	}

	if err := autobaudBootstrap(port); err != nil {
		port.Close()
		return nil, err
	}

	return &radioPort{
		name:   name,
		br:     bufio.NewReader(port),
		w:      port,
		closer: port,
	}, nil
}

// autobaudBootstrap sends a line BREAK followed by the 0x55 sync
// character some LoraStik firmware needs to settle into 115200bps mode
// when it boots in autobaud. Break blocks for the requested duration
// itself, so it stands in for the original assert/sleep/clear sequence.
func autobaudBootstrap(port goserial.Port) error {
	if err := port.Break(autobaudSettle); err != nil {
		return radioerr.TransportF(err, "send break")
	}
	time.Sleep(autobaudSettle)
	if _, err := port.Write([]byte{autobaudChar}); err != nil {
		return radioerr.TransportF(err, "write autobaud sync byte")
	}
	if err := port.Drain(); err != nil {
		return radioerr.TransportF(err, "flush autobaud sync byte")
	}
	time.Sleep(autobaudSettle)
	return nil
}

func (p *radioPort) ReadLine() (string, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	line, err := p.br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return "", io.EOF
		}
		if err == io.EOF {
			return "", radioerr.TransportF(err, "%s: line %q missing newline terminator before end of stream", p.name, line)
		}
		return "", radioerr.TransportF(err, "%s: read line", p.name)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *radioPort) WriteLine(s string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := io.WriteString(p.w, s+"\r\n"); err != nil {
		return radioerr.TransportF(err, "%s: write line %q", p.name, s)
	}
	if f, ok := p.w.(interface{ Drain() error }); ok {
		if err := f.Drain(); err != nil {
			return radioerr.TransportF(err, "%s: flush after %q", p.name, s)
		}
	}
	return nil
}

func (p *radioPort) Close() error {
	return p.closer.Close()
}

var _ fmt.Stringer = (*radioPort)(nil)

func (p *radioPort) String() string {
	return p.name
}
