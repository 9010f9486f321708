package buffer

import (
	"bytes"
	"encoding/binary"
)

// DefaultCopyFlushThreshold is the chunk-mode flush threshold for COPY IN
// streaming.
const DefaultCopyFlushThreshold = 32 * 1024

// Writer builds outbound messages. A single Writer accumulates one or more
// messages (Start/.../End) into Bytes(); an extended-query flight batches
// several messages ending in Sync before the caller flushes them in one
// transport write.
type Writer struct {
	frame bytes.Buffer
	start int // offset of the current message's tag byte within frame
	err   error
}

// NewWriter constructs an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Start begins a new message with the given tag. Call EndTagged to patch
// the length prefix once all fields have been written.
func (w *Writer) Start(tag byte) {
	if w.err != nil {
		return
	}

	w.start = w.frame.Len()
	w.frame.WriteByte(tag)
	w.frame.Write([]byte{0, 0, 0, 0}) // reserved length prefix
}

// StartUntyped begins an untagged, length-prefixed message (StartupMessage,
// SSLRequest, CancelRequest).
func (w *Writer) StartUntyped() {
	if w.err != nil {
		return
	}

	w.start = w.frame.Len()
	w.frame.Write([]byte{0, 0, 0, 0})
}

func (w *Writer) WriteInt16(v int16) {
	if w.err != nil {
		return
	}

	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.frame.Write(b[:])
}

func (w *Writer) WriteInt32(v int32) {
	if w.err != nil {
		return
	}

	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.frame.Write(b[:])
}

func (w *Writer) WriteUint32(v uint32) {
	if w.err != nil {
		return
	}

	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.frame.Write(b[:])
}

func (w *Writer) WriteInt64(v int64) {
	if w.err != nil {
		return
	}

	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.frame.Write(b[:])
}

// WriteCString writes a NUL-terminated string.
func (w *Writer) WriteCString(s string) {
	if w.err != nil {
		return
	}

	w.frame.WriteString(s)
	w.frame.WriteByte(0)
}

// WriteBytes writes raw bytes with no length prefix or terminator of its own.
func (w *Writer) WriteBytes(b []byte) {
	if w.err != nil {
		return
	}

	w.frame.Write(b)
}

// WriteLengthPrefixed writes a 4-byte length (or -1 for NULL) followed by
// the value, the encoding used for every bind parameter and column value.
func (w *Writer) WriteLengthPrefixed(b []byte) {
	if w.err != nil {
		return
	}

	if b == nil {
		w.WriteInt32(-1)
		return
	}

	w.WriteInt32(int32(len(b)))
	w.WriteBytes(b)
}

// EndTagged patches a message that was opened with Start.
func (w *Writer) EndTagged() error {
	if w.err != nil {
		return w.err
	}

	buf := w.frame.Bytes()
	lenOffset := w.start + 1
	length := uint32(w.frame.Len() - lenOffset)
	binary.BigEndian.PutUint32(buf[lenOffset:lenOffset+4], length)
	return nil
}

// EndUntyped patches a message that was opened with StartUntyped.
func (w *Writer) EndUntyped() error {
	if w.err != nil {
		return w.err
	}

	buf := w.frame.Bytes()
	length := uint32(w.frame.Len() - w.start)
	binary.BigEndian.PutUint32(buf[w.start:w.start+4], length)
	return nil
}

// Bytes returns the accumulated, not-yet-flushed message bytes.
func (w *Writer) Bytes() []byte {
	return w.frame.Bytes()
}

// Reset clears the writer for reuse.
func (w *Writer) Reset() {
	w.frame.Reset()
	w.err = nil
	w.start = 0
}

// Len reports the number of pending unflushed bytes.
func (w *Writer) Len() int {
	return w.frame.Len()
}
