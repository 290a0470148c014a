// Package ssh connects to firewall appliances and hands the caller an
// interactive shell stream suitable for expect-style automation.
//
// Example usage:
//
//	client, err := ssh.Dial(ctx, "fw01.example.net:22",
//	    ssh.WithUser("admin"),
//	    ssh.WithPassword(secret),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	shell, err := client.Shell(ctx)
//	if err != nil {
//	    return err
//	}
//	defer shell.Close()
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

var (
	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("ssh client is closed")
	// ErrConnectionFailed covers transport-level failures: dial, handshake, channel setup.
	ErrConnectionFailed = errors.New("ssh connection failed")
	// ErrAuthenticationFailed means the appliance rejected our credentials.
	ErrAuthenticationFailed = errors.New("ssh authentication failed")
)

// Client represents an SSH connection to a firewall appliance.
type Client struct {
	addr      string
	sshClient *ssh.Client
	opts      *options

	closed    chan struct{}
	closeOnce sync.Once
}

// options holds all configuration for the SSH client.
type options struct {
	user           string
	password       string
	privateKeyPath string
	dialTimeout    time.Duration
	keepalive      time.Duration
}

// Option configures the SSH client.
type Option func(*options)

// WithUser sets the SSH username (default: "admin").
func WithUser(user string) Option {
	return func(o *options) { o.user = user }
}

// WithPassword enables password and keyboard-interactive authentication.
// ASA images differ in which of the two they offer, so both are tried.
func WithPassword(password string) Option {
	return func(o *options) { o.password = password }
}

// WithPrivateKey sets the path to a private key file to try before
// password authentication.
func WithPrivateKey(path string) Option {
	return func(o *options) { o.privateKeyPath = path }
}

// WithTimeout sets the dial and handshake timeout (default: 30s).
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithKeepalive sets the keepalive interval (default: 30s, 0 to disable).
func WithKeepalive(d time.Duration) Option {
	return func(o *options) { o.keepalive = d }
}

// Dial establishes an SSH connection to the given "host:port" address.
// At least one of WithPassword or WithPrivateKey is required.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := &options{
		user:        "admin",
		dialTimeout: 30 * time.Second,
		keepalive:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	auth, err := o.authMethods()
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: o.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, addr, err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, o.clientConfig(auth))
	if err != nil {
		_ = conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %s: %v", ErrAuthenticationFailed, addr, err)
		}
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrConnectionFailed, addr, err)
	}

	c := &Client{
		addr:      addr,
		sshClient: ssh.NewClient(clientConn, chans, reqs),
		opts:      o,
		closed:    make(chan struct{}),
	}

	if o.keepalive > 0 {
		go c.keepaliveLoop()
	}

	logrus.Debugf("ssh: connected to %s", addr)
	return c, nil
}

func (o *options) authMethods() ([]ssh.AuthMethod, error) {
	var auth []ssh.AuthMethod

	if o.privateKeyPath != "" {
		keyData, err := os.ReadFile(o.privateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if o.password != "" {
		auth = append(auth, ssh.Password(o.password))
		// Some appliance SSH stacks only advertise keyboard-interactive
		// and expect the password as the answer to every challenge.
		auth = append(auth, ssh.KeyboardInteractive(
			func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = o.password
				}
				return answers, nil
			}))
	}

	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication method configured")
	}
	return auth, nil
}

func (o *options) clientConfig(auth []ssh.AuthMethod) *ssh.ClientConfig {
	cfg := &ssh.ClientConfig{
		User: o.user,
		Auth: auth,
		// Fleet backups hit hundreds of appliances from a bastion; pinning
		// host keys is managed outside this tool.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         o.dialTimeout,
	}

	// Older ASA releases only offer legacy key exchanges, ciphers and
	// host key formats that current defaults leave out. Setting these
	// fields replaces the defaults, so start from the full supported
	// set and add the legacy entries at the end.
	algos := ssh.SupportedAlgorithms()
	cfg.KeyExchanges = append(algos.KeyExchanges,
		"diffie-hellman-group14-sha1", "diffie-hellman-group1-sha1")
	cfg.Ciphers = append(algos.Ciphers, "aes128-cbc", "3des-cbc")
	cfg.HostKeyAlgorithms = append(algos.HostKeys, ssh.KeyAlgoRSA)
	return cfg
}

func (c *Client) keepaliveLoop() {
	ticker := time.NewTicker(c.opts.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if _, _, err := c.sshClient.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				logrus.Debugf("ssh: keepalive to %s failed: %v", c.addr, err)
				return
			}
		}
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close closes the SSH connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.sshClient != nil {
			_ = c.sshClient.Close()
		}
		logrus.Debugf("ssh: connection to %s closed", c.addr)
	})
	return nil
}
