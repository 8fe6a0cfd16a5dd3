package engine

import "time"

// RadioMode is the engine's logical view of the radio's command-acceptance
// state, inferred from the commands it has issued. It is never persisted.
type RadioMode int

const (
	// Idle means the radio will accept "radio tx" or "radio rx 0".
	Idle RadioMode = iota
	// Receiving means the radio is armed for reception via "radio rx 0".
	Receiving
)

func (m RadioMode) String() string {
	if m == Receiving {
		return "receiving"
	}
	return "idle"
}

// Quality holds the radio's signal-quality readings as returned verbatim
// by the firmware, polled immediately after a successful receive.
type Quality struct {
	SNR  string
	RSSI string
}

// ReceivedFrame is one application-level frame recovered from a
// "radio_rx" line, with the continuation-flag byte already stripped.
type ReceivedFrame struct {
	Payload []byte
	Quality *Quality
}

// Config holds the engine's tunable behavior, corresponding to
// spec.md's EngineConfig.
type Config struct {
	// ReadQuality polls "radio get snr"/"radio get rssi" after every
	// successful receive and attaches the readings to the frame.
	ReadQuality bool
	// TxWait is slept immediately before emitting "radio tx …", giving
	// the peer time to finish decoding, deliver, and re-enter receive.
	TxWait time.Duration
	// EotWait bounds how long this node waits to transmit after a
	// peer's "more coming" (flag=1) signal before assuming the
	// continuation was lost.
	EotWait time.Duration
	// MaxPacketSize is the maximum payload length, including the
	// one-byte continuation flag, accepted per "radio tx".
	MaxPacketSize int
	// Pack, when true, concatenates queued frames aggressively into
	// each outbound packet even if that splits a frame; when false,
	// a following queued frame is appended only if it fits whole.
	Pack bool
	// TxSlot, when non-nil, bounds the continuous airtime this node
	// may hold before it must yield to the peer with flag=2. Nil
	// disables yielding.
	TxSlot *time.Duration
}

// DefaultConfig returns the engine configuration matching the CLI
// defaults described in spec.md §6.
func DefaultConfig() Config {
	return Config{
		ReadQuality:   false,
		TxWait:        120 * time.Millisecond,
		EotWait:       1000 * time.Millisecond,
		MaxPacketSize: 100,
		Pack:          false,
		TxSlot:        nil,
	}
}
