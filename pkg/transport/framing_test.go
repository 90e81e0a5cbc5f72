package transport

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/JZwlth/iotauth/pkg/log"
	"github.com/JZwlth/iotauth/pkg/wire"
)

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name    string
		msgType wire.MessageType
		payload []byte
	}{
		{"empty hello", wire.MsgAuthHello, nil},
		{"single byte", wire.MsgAuthAlert, []byte{0x02}},
		{"one-byte length", wire.MsgAuthResponse, bytes.Repeat([]byte("x"), 127)},
		{"two-byte length", wire.MsgSessionKeyReq, bytes.Repeat([]byte("y"), 512)},
		{"max size", wire.MsgSessionKeyReq, bytes.Repeat([]byte("z"), DefaultMaxMessageSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			if err := NewFrameWriter(buf).WriteFrame(tt.msgType, tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}

			frame, err := NewFrameReader(buf).ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if frame.Type != tt.msgType {
				t.Errorf("Type = %v, want %v", frame.Type, tt.msgType)
			}
			if !bytes.Equal(frame.Payload, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(frame.Payload), len(tt.payload))
			}
			if buf.Len() != 0 {
				t.Errorf("%d bytes left unread", buf.Len())
			}
		})
	}
}

func TestFrameWriterMessageTooLarge(t *testing.T) {
	err := NewFrameWriter(io.Discard).WriteFrame(wire.MsgSessionKeyReq, make([]byte, DefaultMaxMessageSize+1))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestFrameReaderMessageTooLarge(t *testing.T) {
	frame, err := wire.EncodeAuthFrame(wire.MsgAuthResponse, make([]byte, 300))
	if err != nil {
		t.Fatalf("EncodeAuthFrame failed: %v", err)
	}

	reader := NewFrameReader(bytes.NewReader(frame))
	reader.SetMaxMessageSize(100)
	if _, err := reader.ReadFrame(); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestFrameReaderEOF(t *testing.T) {
	_, err := NewFrameReader(bytes.NewReader(nil)).ReadFrame()
	if err != io.EOF {
		t.Errorf("expected io.EOF between frames, got %v", err)
	}
}

func TestFrameReaderTruncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"type only", []byte{0x15}},
		{"unterminated length", []byte{0x15, 0x80}},
		{"short payload", []byte{0x15, 0x05, 0x01, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameReader(bytes.NewReader(tt.data)).ReadFrame()
			if !errors.Is(err, ErrFrameTruncated) {
				t.Errorf("expected ErrFrameTruncated, got %v", err)
			}
		})
	}
}

func TestFrameReaderOverlongLength(t *testing.T) {
	data := []byte{0x15, 0x80, 0x80, 0x80, 0x80, 0x01}
	_, err := NewFrameReader(bytes.NewReader(data)).ReadFrame()
	if !errors.Is(err, wire.ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

// A frame split across reads must still be returned whole.
func TestFrameReaderSplitReads(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 200)
	frame, err := wire.EncodeAuthFrame(wire.MsgAuthResponse, payload)
	if err != nil {
		t.Fatalf("EncodeAuthFrame failed: %v", err)
	}

	r, w := io.Pipe()
	go func() {
		for _, b := range frame {
			w.Write([]byte{b})
		}
		w.Close()
	}()

	got, err := NewFrameReader(r).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Error("payload mismatch")
	}
}

func TestMultipleFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)

	hello := wire.EncodeAuthHello(&wire.AuthHello{AuthID: 101, Nonce: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}})
	writer.WriteFrame(wire.MsgAuthHello, hello)
	writer.WriteFrame(wire.MsgAuthResponse, []byte("key"))

	reader := NewFrameReader(buf)
	first, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("first ReadFrame failed: %v", err)
	}
	if first.Type != wire.MsgAuthHello || !bytes.Equal(first.Payload, hello) {
		t.Errorf("first frame = %v %x", first.Type, first.Payload)
	}

	second, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("second ReadFrame failed: %v", err)
	}
	if second.Type != wire.MsgAuthResponse || string(second.Payload) != "key" {
		t.Errorf("second frame = %v %q", second.Type, second.Payload)
	}

	if _, err := reader.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

// capturingLogger captures log events for testing.
type capturingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *capturingLogger) Log(event log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *capturingLogger) Events() []log.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]log.Event(nil), l.events...)
}

func TestFramerLogs(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := &capturingLogger{}

	framer := NewFramer(buf)
	framer.SetLogger(logger, "conn-123", "ex-1")

	if err := framer.WriteFrame(wire.MsgAuthResponse, []byte("hello")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := framer.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	events := logger.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	wantDirs := []log.Direction{log.DirectionOut, log.DirectionIn}
	for i, e := range events {
		if e.ConnectionID != "conn-123" {
			t.Errorf("event %d: ConnectionID = %q", i, e.ConnectionID)
		}
		if e.ExchangeID != "ex-1" {
			t.Errorf("event %d: ExchangeID = %q", i, e.ExchangeID)
		}
		if e.Direction != wantDirs[i] {
			t.Errorf("event %d: Direction = %v, want %v", i, e.Direction, wantDirs[i])
		}
		if e.Layer != log.LayerTransport {
			t.Errorf("event %d: Layer = %v", i, e.Layer)
		}
		if e.Frame == nil {
			t.Fatalf("event %d: Frame is nil", i)
		}
		// type + 1-byte length + payload
		if e.Frame.Size != 7 {
			t.Errorf("event %d: Frame.Size = %d, want 7", i, e.Frame.Size)
		}
	}
}

func TestFramerLogsTruncatedData(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := &capturingLogger{}

	writer := NewFrameWriter(buf)
	writer.SetLogger(logger, "conn-big", "")
	if err := writer.WriteFrame(wire.MsgSessionKeyReq, make([]byte, MaxLogFrameDataSize*2)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	f := events[0].Frame
	if !f.Truncated {
		t.Error("expected Truncated")
	}
	if len(f.Data) != MaxLogFrameDataSize {
		t.Errorf("len(Data) = %d, want %d", len(f.Data), MaxLogFrameDataSize)
	}
	if f.Size <= MaxLogFrameDataSize*2 {
		t.Errorf("Size = %d, want full frame size", f.Size)
	}
}

func TestFramerNoLoggerNoPanic(t *testing.T) {
	buf := new(bytes.Buffer)
	framer := NewFramer(buf)
	framer.SetLogger(nil, "", "")

	if err := framer.WriteFrame(wire.MsgAuthHello, nil); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := framer.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
}
