package protocol

import "io"

// Transport is the byte-duplex connection the Dispatcher reads from and
// writes to: a blocking, full-duplex byte stream, typically a net.Conn or
// TLS-wrapped net.Conn.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// PauseResumeReader is an optional capability a Transport may implement to
// receive explicit pause/resume signals. The Dispatcher's default read
// loop already blocks between reads while a COPY OUT sink callback is
// running, so this is only exercised by transports that read ahead on
// their own (e.g. a buffering wrapper).
type PauseResumeReader interface {
	PauseReading()
	ResumeReading()
}

func pauseReading(t Transport) {
	if pr, ok := t.(PauseResumeReader); ok {
		pr.PauseReading()
	}
}

func resumeReading(t Transport) {
	if pr, ok := t.(PauseResumeReader); ok {
		pr.ResumeReading()
	}
}
