// Package buffer implements the message framer consumed by protocol.Core:
// Reader accumulates inbound bytes fed by the transport and exposes one
// fully-framed message at a time with zero-copy views; Writer builds
// outbound messages with length-prefix patching and a chunked COPY mode.
//
// Reader is built to accumulate chunks fed by an asynchronous transport,
// rather than reading directly off a blocking io.Reader, so the engine it
// backs never blocks on the network itself.
package buffer

import (
	"encoding/binary"
	"log/slog"
)

// DefaultMaxMessageSize caps a single declared message payload.
const DefaultMaxMessageSize = 1 << 24 // 16 MiB

// Reader accumulates bytes fed by the transport and frames one message at a
// time. A message only becomes visible via HasMessage once its full payload
// has arrived; reads past the framed payload return a *BufferError.
type Reader struct {
	logger         *slog.Logger
	MaxMessageSize int

	data []byte // unconsumed inbound bytes; data[0] is the next unframed byte

	framed        bool
	untypedActive bool
	msgType       byte
	payload       []byte // zero-copy view into data: the full current message payload
	cursor        []byte // remaining unread portion of payload
}

// NewReader constructs a Reader. maxMessageSize <= 0 selects DefaultMaxMessageSize.
func NewReader(logger *slog.Logger, maxMessageSize int) *Reader {
	if logger == nil {
		logger = slog.Default()
	}

	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}

	return &Reader{logger: logger, MaxMessageSize: maxMessageSize}
}

// Feed appends a chunk of bytes received from the transport to the reader's
// pending stream. Feed never blocks and never parses; framing happens
// lazily in HasMessage.
func (r *Reader) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	r.data = append(r.data, chunk...)
}

// Buffered returns the number of bytes fed but not yet consumed.
func (r *Reader) Buffered() int {
	return len(r.data)
}

// HasMessage reports whether a complete, typed (tag + length-prefixed)
// message is available. It re-derives framing from r.data every call so it
// is safe to poll after every Feed.
func (r *Reader) HasMessage() (bool, error) {
	if r.framed {
		return true, nil
	}

	if len(r.data) < 5 {
		return false, nil
	}

	declared := int(binary.BigEndian.Uint32(r.data[1:5]))
	if declared < 4 {
		return false, &BufferError{Reason: "declared message length smaller than the length field itself"}
	}

	payloadLen := declared - 4
	if payloadLen > r.MaxMessageSize {
		return false, &MessageSizeExceeded{Max: r.MaxMessageSize, Size: payloadLen}
	}

	total := 1 + declared
	if len(r.data) < total {
		return false, nil
	}

	r.msgType = r.data[0]
	r.payload = r.data[5:total]
	r.cursor = r.payload
	r.framed = true
	r.untypedActive = false
	return true, nil
}

// HasUntypedMessage is the length-prefixed, tag-less framing used only for
// StartupMessage, SSLRequest, and CancelRequest during the pre-auth phase.
func (r *Reader) HasUntypedMessage() (bool, error) {
	if r.framed {
		return true, nil
	}

	if len(r.data) < 4 {
		return false, nil
	}

	declared := int(binary.BigEndian.Uint32(r.data[0:4]))
	if declared < 4 {
		return false, &BufferError{Reason: "declared startup message length smaller than the length field itself"}
	}

	payloadLen := declared - 4
	if payloadLen > r.MaxMessageSize {
		return false, &MessageSizeExceeded{Max: r.MaxMessageSize, Size: payloadLen}
	}

	if len(r.data) < declared {
		return false, nil
	}

	r.msgType = 0
	r.payload = r.data[4:declared]
	r.cursor = r.payload
	r.framed = true
	r.untypedActive = true
	return true, nil
}

// MessageType returns the tag of the currently framed message. Only valid
// once HasMessage has returned true.
func (r *Reader) MessageType() byte { return r.msgType }

// MessageLength returns the payload length (excluding tag and length
// prefix) of the currently framed message.
func (r *Reader) MessageLength() int { return len(r.payload) }

// ReadInt16 reads a big-endian int16 from the current message's cursor.
func (r *Reader) ReadInt16() (int16, error) {
	if len(r.cursor) < 2 {
		return 0, newInsufficientData(len(r.cursor), 2)
	}

	v := int16(binary.BigEndian.Uint16(r.cursor[:2]))
	r.cursor = r.cursor[2:]
	return v, nil
}

// ReadInt32 reads a big-endian int32 from the current message's cursor.
func (r *Reader) ReadInt32() (int32, error) {
	if len(r.cursor) < 4 {
		return 0, newInsufficientData(len(r.cursor), 4)
	}

	v := int32(binary.BigEndian.Uint32(r.cursor[:4]))
	r.cursor = r.cursor[4:]
	return v, nil
}

// ReadUint32 reads a big-endian uint32 from the current message's cursor.
func (r *Reader) ReadUint32() (uint32, error) {
	if len(r.cursor) < 4 {
		return 0, newInsufficientData(len(r.cursor), 4)
	}

	v := binary.BigEndian.Uint32(r.cursor[:4])
	r.cursor = r.cursor[4:]
	return v, nil
}

// ReadCString reads a NUL-terminated string. The returned string aliases
// the reader's internal buffer (zero-copy) and is only valid until the next
// ConsumeMessage.
func (r *Reader) ReadCString() (string, error) {
	for i, b := range r.cursor {
		if b == 0 {
			s := bytesToString(r.cursor[:i])
			r.cursor = r.cursor[i+1:]
			return s, nil
		}
	}

	return "", newMissingNulTerminator()
}

// ReadBytes returns the next n bytes as a zero-copy view, or nil for n == -1
// (the wire's NULL-value sentinel).
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n == -1 {
		return nil, nil
	}

	if n < 0 {
		return nil, &BufferError{Reason: "negative byte count"}
	}

	if len(r.cursor) < n {
		return nil, newInsufficientData(len(r.cursor), n)
	}

	v := r.cursor[:n]
	r.cursor = r.cursor[n:]
	return v, nil
}

// Remaining returns the unread tail of the current message as a zero-copy
// view, used by COPY framing to hand the rest of a CopyData payload to a
// decoder without further field parsing.
func (r *Reader) Remaining() []byte {
	return r.cursor
}

// ConsumeMessage discards the fully-framed current message (whether or not
// all of its fields were read) and advances to the next one.
func (r *Reader) ConsumeMessage() {
	if !r.framed {
		return
	}

	header := 5
	if r.untypedActive {
		header = 4
	}

	r.data = r.data[header+len(r.payload):]
	r.framed = false
	r.untypedActive = false
	r.payload = nil
	r.cursor = nil
}

// DiscardMessage is an alias of ConsumeMessage used when a caller
// deliberately skips a message's fields (e.g. after a MessageSizeExceeded
// recovery or an unimplemented message type).
func (r *Reader) DiscardMessage() {
	r.ConsumeMessage()
}
