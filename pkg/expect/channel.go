package expect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"
)

var (
	// ErrExpectTimeout means no pattern matched before the deadline.
	ErrExpectTimeout = errors.New("timed out waiting for matching output")
	// ErrChannelClosed means the remote side closed the stream.
	ErrChannelClosed = errors.New("channel closed")
)

// Match describes the pattern that ended one Expect call.
type Match struct {
	// Index of the matched pattern in the slice passed to Expect.
	Index int
	// Groups holds the full match text followed by its capture groups.
	// Optional groups that did not participate are empty strings.
	Groups []string
	// Consumed is everything removed from the buffer, from its start
	// through the end of the match.
	Consumed string
}

// Channel turns a raw remote shell stream into an expect-style channel.
// A reader goroutine appends incoming bytes to an internal buffer, and
// Expect evaluates patterns against the whole unread buffer every time
// new output arrives. Bytes stay buffered until a match consumes them,
// so a pattern split across packets still matches once complete.
type Channel struct {
	rw io.ReadWriteCloser

	mu      sync.Mutex
	buf     []byte
	eof     bool
	readErr error

	// arrived carries a coalesced wakeup per buffer append or EOF.
	arrived chan struct{}

	transcript io.Writer

	closeOnce sync.Once
	done      chan struct{}
}

// Option adjusts a Channel at construction time.
type Option func(*Channel)

// WithTranscript copies every byte received from the remote side to w,
// before any matching. The writer is used from the reader goroutine
// only.
func WithTranscript(w io.Writer) Option {
	return func(c *Channel) { c.transcript = w }
}

// NewChannel wraps rw and starts the reader goroutine. Close releases
// it.
func NewChannel(rw io.ReadWriteCloser, opts ...Option) *Channel {
	c := &Channel{
		rw:      rw,
		arrived: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

func (c *Channel) readLoop() {
	chunk := make([]byte, 4096)
	for {
		n, err := c.rw.Read(chunk)
		if n > 0 {
			if c.transcript != nil {
				// Transcript failures must not kill the session.
				_, _ = c.transcript.Write(chunk[:n])
			}
			c.mu.Lock()
			c.buf = append(c.buf, chunk[:n]...)
			c.mu.Unlock()
			c.wake()
		}
		if err != nil {
			c.mu.Lock()
			c.eof = true
			if !errors.Is(err, io.EOF) {
				c.readErr = err
			}
			c.mu.Unlock()
			c.wake()
			return
		}
	}
}

func (c *Channel) wake() {
	select {
	case c.arrived <- struct{}{}:
	default:
	}
}

// Send writes text to the remote side as-is. The text is never included
// in the returned error; callers send secrets through here.
func (c *Channel) Send(text string) error {
	if _, err := c.rw.Write([]byte(text)); err != nil {
		return fmt.Errorf("write to channel: %w", err)
	}
	return nil
}

// SendLine sends text followed by a newline, which the remote terminal
// treats as pressing enter.
func (c *Channel) SendLine(text string) error {
	return c.Send(text + "\n")
}

// Expect blocks until one of patterns matches the unread buffer, the
// timeout elapses, ctx is canceled, or the stream ends. Patterns are
// tried in the given order against the entire buffer, and the first one
// that matches anywhere wins, so callers order them by priority. On a
// match, everything through the end of the match is consumed; the rest
// stays buffered for the next call.
func (c *Channel) Expect(ctx context.Context, patterns []*regexp.Regexp, timeout time.Duration) (Match, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m, st := c.scan(patterns)
		if st.matched {
			return m, nil
		}
		if st.eof {
			if st.readErr != nil {
				return Match{}, fmt.Errorf("%w: %v", ErrChannelClosed, st.readErr)
			}
			return Match{}, ErrChannelClosed
		}

		select {
		case <-c.arrived:
		case <-timer.C:
			return Match{}, ErrExpectTimeout
		case <-ctx.Done():
			return Match{}, ctx.Err()
		case <-c.done:
			return Match{}, ErrChannelClosed
		}
	}
}

type scanState struct {
	matched bool
	eof     bool
	readErr error
}

func (c *Channel) scan(patterns []*regexp.Regexp) (Match, scanState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	text := string(c.buf)
	for i, re := range patterns {
		loc := re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		m := Match{Index: i, Consumed: text[:loc[1]]}
		for g := 0; g*2 < len(loc); g++ {
			if loc[g*2] < 0 {
				m.Groups = append(m.Groups, "")
				continue
			}
			m.Groups = append(m.Groups, text[loc[g*2]:loc[g*2+1]])
		}
		c.buf = c.buf[loc[1]:]
		return m, scanState{matched: true}
	}
	return Match{}, scanState{eof: c.eof, readErr: c.readErr}
}

// Buffered reports how many received bytes no Expect call has consumed
// yet.
func (c *Channel) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Drain discards the unread buffer and returns the dropped bytes.
func (c *Channel) Drain() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := c.buf
	c.buf = nil
	return dropped
}

// Close shuts down the underlying stream and unblocks pending Expect
// calls. It is safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.rw.Close()
	})
	return err
}
