package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/JZwlth/iotauth/pkg/log"
	"github.com/JZwlth/iotauth/pkg/wire"
)

// Framing constants.
const (
	// DefaultMaxMessageSize is the default maximum Auth frame payload (64 KB).
	DefaultMaxMessageSize = 65536

	// MaxLogFrameDataSize is the maximum frame data size to include in logs (4 KB).
	// Larger frames are truncated in log events to avoid excessive memory usage.
	MaxLogFrameDataSize = 4096
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrFrameTruncated indicates the peer closed the stream inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// FrameWriter writes Auth-facing frames to an underlying writer.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize uint32
	mu             sync.Mutex

	// Logging support (optional)
	logger     log.Logger
	connID     string
	exchangeID string
}

// NewFrameWriter creates a new frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: DefaultMaxMessageSize,
	}
}

// SetLogger configures logging for this writer.
// Pass nil to disable logging.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID, exchangeID string) {
	fw.logger = logger
	fw.connID = connID
	fw.exchangeID = exchangeID
}

// WriteFrame writes one frame with a single Write call.
// Thread-safe: can be called from multiple goroutines.
func (fw *FrameWriter) WriteFrame(msgType wire.MessageType, payload []byte) error {
	if uint32(len(payload)) > fw.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(payload), fw.maxMessageSize)
	}

	frame, err := wire.EncodeAuthFrame(msgType, payload)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(frame); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrTransport, msgType, err)
	}

	if fw.logger != nil {
		fw.logger.Log(makeFrameEvent(fw.connID, fw.exchangeID, frame, log.DirectionOut))
	}

	return nil
}

// FrameReader reads Auth-facing frames from an underlying reader. Frames are
// delimited by their length field, never by read boundaries.
type FrameReader struct {
	r              *bufio.Reader
	maxMessageSize uint32

	// Logging support (optional)
	logger     log.Logger
	connID     string
	exchangeID string
}

// NewFrameReader creates a new frame reader.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:              bufio.NewReader(r),
		maxMessageSize: DefaultMaxMessageSize,
	}
}

// SetLogger configures logging for this reader.
// Pass nil to disable logging.
func (fr *FrameReader) SetLogger(logger log.Logger, connID, exchangeID string) {
	fr.logger = logger
	fr.connID = connID
	fr.exchangeID = exchangeID
}

// SetMaxMessageSize updates the maximum payload size.
func (fr *FrameReader) SetMaxMessageSize(size uint32) {
	fr.maxMessageSize = size
}

// ReadFrame reads one frame.
// It returns io.EOF only when the peer closed the stream between frames.
func (fr *FrameReader) ReadFrame() (*wire.AuthFrame, error) {
	typeByte, err := fr.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: read type: %w", ErrTransport, err)
	}

	var header [1 + wire.MaxVarintLen]byte
	header[0] = typeByte
	n := 1

	var length uint64
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return nil, fr.truncated(err)
		}
		header[n] = b
		n++

		v, _, derr := wire.DecodeVarint(header[:n], 1)
		if derr == nil {
			length = v
			break
		}
		if n == len(header) {
			return nil, derr
		}
	}

	if length > uint64(fr.maxMessageSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, fr.truncated(err)
	}

	frame := &wire.AuthFrame{Type: wire.MessageType(typeByte), Payload: payload}

	if fr.logger != nil {
		raw := make([]byte, 0, n+len(payload))
		raw = append(append(raw, header[:n]...), payload...)
		fr.logger.Log(makeFrameEvent(fr.connID, fr.exchangeID, raw, log.DirectionIn))
	}

	return frame, nil
}

func (fr *FrameReader) truncated(err error) error {
	if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrFrameTruncated
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// Framer combines frame reading and writing.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a new framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{
		FrameReader: NewFrameReader(rw),
		FrameWriter: NewFrameWriter(rw),
	}
}

// SetLogger configures logging for both reader and writer.
// Pass nil to disable logging.
func (f *Framer) SetLogger(logger log.Logger, connID, exchangeID string) {
	f.FrameReader.SetLogger(logger, connID, exchangeID)
	f.FrameWriter.SetLogger(logger, connID, exchangeID)
}

// makeFrameEvent creates a log event for a frame.
func makeFrameEvent(connID, exchangeID string, frame []byte, direction log.Direction) log.Event {
	data, truncated := log.FrameData(frame, MaxLogFrameDataSize)
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		ExchangeID:   exchangeID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleAuthClient,
		Frame: &log.FrameEvent{
			Size:      len(frame),
			Data:      data,
			Truncated: truncated,
		},
	}
}
