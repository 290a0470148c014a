package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Shell terminal geometry. The ASA CLI wraps output at the terminal
// width, which would tear response lines apart mid-pattern; 511 columns
// matches what interactive automation stacks conventionally request.
const (
	termType   = "vt100"
	termHeight = 24
	termWidth  = 511
)

// Shell opens an interactive shell with a PTY on the appliance and
// returns it as a byte stream. With a PTY allocated the appliance
// merges all output into one stream and echoes input back, which is
// exactly what dialogue automation wants to observe.
//
// The returned stream is independent of ctx; closing it tears down the
// remote shell.
func (c *Client) Shell(ctx context.Context) (io.ReadWriteCloser, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := c.sshClient.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", ErrConnectionFailed, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(termType, termHeight, termWidth, modes); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("%w: request pty: %v", ErrConnectionFailed, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrConnectionFailed, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrConnectionFailed, err)
	}

	if err := session.Shell(); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("%w: start shell: %v", ErrConnectionFailed, err)
	}

	return &shellStream{session: session, stdin: stdin, stdout: stdout}, nil
}

// shellStream adapts an ssh session with a PTY to io.ReadWriteCloser.
type shellStream struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	closeOnce sync.Once
	closeErr  error
}

func (s *shellStream) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *shellStream) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *shellStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()
		// The appliance dropping the line first is a normal logout.
		if err := s.session.Close(); err != nil && !errors.Is(err, io.EOF) {
			s.closeErr = err
		}
	})
	return s.closeErr
}
