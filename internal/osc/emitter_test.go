package osc

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/tarz-one/Companion/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// oscPad appends the OSC null terminator plus padding to a 4-byte boundary.
func oscPad(b []byte) []byte {
	b = append(b, 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func keywordPayload(address string, value int32) []byte {
	var buf bytes.Buffer
	buf.Write(oscPad([]byte(address)))
	buf.Write(oscPad([]byte(",i")))
	_ = binary.Write(&buf, binary.BigEndian, value)
	return buf.Bytes()
}

func transcriptPayload(address, text string) []byte {
	var buf bytes.Buffer
	buf.Write(oscPad([]byte(address)))
	buf.Write(oscPad([]byte(",s")))
	buf.Write(oscPad([]byte(text)))
	return buf.Bytes()
}

func listenUDP(t *testing.T) (net.PacketConn, int) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr).Port
}

func readDatagram(t *testing.T, conn net.PacketConn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read datagram: %v", err)
	}
	return buf[:n]
}

func TestEmitKeywordWireFormat(t *testing.T) {
	conn, port := listenUDP(t)

	emitter := NewEmitter(config.OSCConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    port,
	}, newLogger())

	for _, name := range []string{"love", "hate", "stop"} {
		address := "/keyword/" + name
		if err := emitter.EmitKeyword(address); err != nil {
			t.Fatalf("emit %s: %v", name, err)
		}
		got := readDatagram(t, conn)
		want := keywordPayload(address, 1)
		if !bytes.Equal(got, want) {
			t.Fatalf("%s payload mismatch:\n got %q\nwant %q", address, got, want)
		}
	}
}

func TestEmitKeywordSendsExactlyOneMessage(t *testing.T) {
	conn, port := listenUDP(t)

	emitter := NewEmitter(config.OSCConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    port,
	}, newLogger())

	if err := emitter.EmitKeyword("/keyword/love"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	readDatagram(t, conn)

	// With pulse resets disabled no second datagram may arrive.
	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 64)
	if n, _, err := conn.ReadFrom(buf); err == nil {
		t.Fatalf("unexpected extra datagram: %q", buf[:n])
	}
}

func TestEmitKeywordPulseReset(t *testing.T) {
	conn, port := listenUDP(t)

	emitter := NewEmitter(config.OSCConfig{
		Enabled:      true,
		Host:         "127.0.0.1",
		Port:         port,
		PulseResetMS: 10,
	}, newLogger())

	if err := emitter.EmitKeyword("/keyword/stop"); err != nil {
		t.Fatalf("emit: %v", err)
	}

	trigger := readDatagram(t, conn)
	if want := keywordPayload("/keyword/stop", 1); !bytes.Equal(trigger, want) {
		t.Fatalf("trigger mismatch:\n got %q\nwant %q", trigger, want)
	}
	reset := readDatagram(t, conn)
	if want := keywordPayload("/keyword/stop", 0); !bytes.Equal(reset, want) {
		t.Fatalf("reset mismatch:\n got %q\nwant %q", reset, want)
	}
	emitter.Close()
}

func TestEmitTranscript(t *testing.T) {
	conn, port := listenUDP(t)

	emitter := NewEmitter(config.OSCConfig{
		Enabled:           true,
		Host:              "127.0.0.1",
		Port:              port,
		SendTranscripts:   true,
		TranscriptAddress: "/transcription/text",
	}, newLogger())

	if err := emitter.EmitTranscript("i love this"); err != nil {
		t.Fatalf("emit transcript: %v", err)
	}
	got := readDatagram(t, conn)
	want := transcriptPayload("/transcription/text", "i love this")
	if !bytes.Equal(got, want) {
		t.Fatalf("transcript mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestEmitKeywordUnreachableTargetIsNotFatal(t *testing.T) {
	// Port 1 is almost certainly closed; UDP sends still succeed locally, so
	// exercise the error path with an unresolvable host instead.
	emitter := NewEmitter(config.OSCConfig{
		Enabled: true,
		Host:    "invalid.host.local.",
		Port:    9000,
	}, newLogger())
	if err := emitter.EmitKeyword("/keyword/love"); err == nil {
		t.Skip("resolver unexpectedly resolved test host")
	}
}
