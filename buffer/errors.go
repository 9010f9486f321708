package buffer

import "fmt"

// BufferError is raised whenever a caller reads past the declared boundary
// of the message currently framed by a Reader, or whenever a message is
// malformed (a declared length smaller than the length field, a missing
// NUL terminator). A declared length above MaxMessageSize is reported as
// MessageSizeExceeded instead.
type BufferError struct {
	Reason string
}

func (e *BufferError) Error() string {
	return fmt.Sprintf("pgproto: buffer error: %s", e.Reason)
}

func newInsufficientData(have, want int) error {
	return &BufferError{Reason: fmt.Sprintf("insufficient data: have %d bytes, want %d", have, want)}
}

func newMissingNulTerminator() error {
	return &BufferError{Reason: "missing NUL terminator in C string"}
}

// MessageSizeExceeded is returned when a declared message length is larger
// than the reader's configured MaxMessageSize.
type MessageSizeExceeded struct {
	Max  int
	Size int
}

func (e *MessageSizeExceeded) Error() string {
	return fmt.Sprintf("pgproto: message size %d exceeds maximum of %d", e.Size, e.Max)
}
