package ping_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/jgoerzen/lorapipe/internal/engine"
	"github.com/jgoerzen/lorapipe/internal/ping"
)

type recordingTransmitter struct {
	sent chan []byte
}

func newRecordingTransmitter() *recordingTransmitter {
	return &recordingTransmitter{sent: make(chan []byte, 16)}
}

func (r *recordingTransmitter) EnqueueTransmit(ctx context.Context, payload []byte) error {
	r.sent <- append([]byte(nil), payload...)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestRunPongFormatsAndEchoes(t *testing.T) {
	tx := newRecordingTransmitter()
	frames := make(chan engine.ReceivedFrame, 1)
	var out bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ping.RunPong(ctx, tx, frames, &out, quietLogger()) }()

	frames <- engine.ReceivedFrame{
		Payload: []byte("hi there"),
		Quality: &engine.Quality{SNR: "7", RSSI: "-80"},
	}

	var sent []byte
	select {
	case sent = <-tx.sent:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pong echo")
	}
	require.Equal(t, "Pong hi there, snr=7 rssi=-80", string(sent))
	require.Eventually(t, func() bool {
		return out.String() == "Pong hi there, snr=7 rssi=-80\n"
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestRunPongHandlesMissingQuality(t *testing.T) {
	tx := newRecordingTransmitter()
	frames := make(chan engine.ReceivedFrame, 1)
	var out bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ping.RunPong(ctx, tx, frames, &out, quietLogger()) }()

	frames <- engine.ReceivedFrame{Payload: []byte("x")}

	select {
	case sent := <-tx.sent:
		require.Equal(t, "Pong x, unknown", string(sent))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pong echo")
	}

	cancel()
	<-done
}
