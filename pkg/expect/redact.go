package expect

import (
	"bytes"
	"io"
)

// redactMask replaces every occurrence of the secret in redacted
// streams.
const redactMask = "[MASKED]"

// RedactWriter masks a secret in a byte stream before passing it on.
// Session transcripts need this: the device echoes every command back
// over the PTY, including passphrases and credential-bearing copy URLs.
// A carry buffer holds back trailing bytes that could be the start of
// the secret, so an occurrence split across Write calls is still
// caught. Close flushes the carry.
type RedactWriter struct {
	w      io.Writer
	secret []byte
	carry  []byte
}

// NewRedactWriter wraps w. An empty secret makes it a passthrough.
func NewRedactWriter(w io.Writer, secret string) *RedactWriter {
	return &RedactWriter{w: w, secret: []byte(secret)}
}

func (r *RedactWriter) Write(p []byte) (int, error) {
	if len(r.secret) == 0 {
		return r.w.Write(p)
	}

	data := append(r.carry, p...)
	data = bytes.ReplaceAll(data, r.secret, []byte(redactMask))

	// Hold back the longest tail that is a prefix of the secret; the
	// rest of the occurrence may arrive in the next Write.
	hold := 0
	for n := min(len(r.secret)-1, len(data)); n > 0; n-- {
		if bytes.Equal(data[len(data)-n:], r.secret[:n]) {
			hold = n
			break
		}
	}

	r.carry = append(r.carry[:0], data[len(data)-hold:]...)
	if _, err := r.w.Write(data[:len(data)-hold]); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close flushes held-back bytes. A trailing partial prefix of the
// secret is not an occurrence, so it is written as-is.
func (r *RedactWriter) Close() error {
	if len(r.carry) == 0 {
		return nil
	}
	_, err := r.w.Write(r.carry)
	r.carry = nil
	return err
}
