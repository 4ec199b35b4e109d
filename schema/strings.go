package schema

import "bytes"

// ReadNullTerminatedString returns the text before the first NUL byte.
func ReadNullTerminatedString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
