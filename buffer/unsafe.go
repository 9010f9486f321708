package buffer

import "unsafe"

// bytesToString performs a zero-copy conversion from a byte slice view into
// the reader's internal buffer to a string. Safe only because Reader never
// mutates bytes once framed; callers that need to retain the string past
// the next ConsumeMessage must copy it themselves.
func bytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	return *(*string)(unsafe.Pointer(&b))
}
