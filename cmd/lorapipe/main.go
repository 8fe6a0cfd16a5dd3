// Command lorapipe pipes packets over a half-duplex LoRa radio module,
// multiplexing a line-oriented command channel between receive and
// transmit and exposing the result as a raw, KISS-framed, or ping/pong
// stdin/stdout pipe.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	flags "github.com/jessevdk/go-flags"
)

// options is the top-level CLI surface, parsed by go-flags the way the
// teacher's CLICommand gathers its subcommands.
type options struct {
	Debug         bool   `long:"debug" description:"enable debug-level logging, including raw serial lines"`
	ReadQual      bool   `long:"readqual" description:"poll radio signal quality (snr/rssi) after each receive"`
	Pack          bool   `long:"pack" description:"aggressively pack queued frames into one packet even if it splits one"`
	InitFile      string `long:"initfile" description:"path to a file of radio init commands, one per line" value-name:"<path>"`
	MaxPacketSize int    `long:"maxpacketsize" default:"100" description:"maximum payload size in bytes, including the continuation flag (10-250)"`
	TxWait        int    `long:"txwait" default:"120" description:"milliseconds to wait before each transmit"`
	EotWait       int    `long:"eotwait" default:"1000" description:"milliseconds to wait for a deferred transmit after a more-coming signal"`
	TxSlot        int    `long:"txslot" default:"0" description:"milliseconds of continuous airtime before yielding to the peer (0 disables yielding)"`

	Args struct {
		Port string `positional-arg-name:"port" description:"filesystem path to the radio's serial device"`
	} `positional-args:"yes" required:"yes"`

	Pipe PipeCommand `command:"pipe" description:"raw stdin/stdout packet pipe"`
	KISS KISSCommand `command:"kiss" description:"KISS-framed packet pipe"`
	Ping PingCommand `command:"ping" description:"periodic ping generator"`
	Pong PongCommand `command:"pong" description:"ping/pong responder"`
}

var opts options

func main() {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		log.Error("fatal error", "port", opts.Args.Port, "cause", err)
		os.Exit(1)
	}
}
