// Package transport wraps a mail server socket with line framing,
// exact-length reads for IMAP literals, per-call deadlines and in-place
// TLS upgrade.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	// RecvBufferSize is the size of the single read performed by Recv
	RecvBufferSize = 4096

	// MaxLineLength bounds a single protocol line
	MaxLineLength = 1 << 20

	// MaxLiteralLength bounds a single IMAP literal
	MaxLiteralLength = 32 << 20

	// DefaultDialTimeout applies when Options.DialTimeout is zero
	DefaultDialTimeout = 15 * time.Second

	// DefaultIOTimeout applies when Options.IOTimeout is zero
	DefaultIOTimeout = 30 * time.Second
)

var (
	// ErrLineTooLong is returned when a line exceeds MaxLineLength
	ErrLineTooLong = errors.New("protocol line too long")

	// ErrLiteralTooLarge is returned when a literal exceeds MaxLiteralLength
	ErrLiteralTooLarge = errors.New("literal too large")

	// ErrBufferedData is returned when StartTLS would discard bytes
	// that arrived before the handshake
	ErrBufferedData = errors.New("unexpected data buffered before TLS handshake")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("connection closed")
)

// Options configures Dial.
type Options struct {
	// DialTimeout bounds the TCP connect and, for implicit TLS, the handshake
	DialTimeout time.Duration
	// IOTimeout bounds every individual read or write
	IOTimeout time.Duration
	// TLSConfig enables implicit TLS when non-nil
	TLSConfig *tls.Config
	// Dialer overrides the default net.Dialer, mainly for tests
	Dialer *net.Dialer
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = DefaultIOTimeout
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{}
	}
	return o
}

// Conn is a framed mail protocol connection. It is not safe for
// concurrent use; one protocol session drives it at a time.
type Conn struct {
	conn      net.Conn
	r         *bufio.Reader
	ioTimeout time.Duration

	closeOnce sync.Once
	closed    bool
}

// Dial connects to addr and, when opts.TLSConfig is set, completes a
// TLS handshake before returning.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	raw, err := opts.Dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	if opts.TLSConfig != nil {
		tlsConn := tls.Client(raw, opts.TLSConfig)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("tls handshake with %s failed: %w", addr, err)
		}
		raw = tlsConn
	}

	return NewConn(raw, opts.IOTimeout), nil
}

// NewConn wraps an already established connection.
func NewConn(conn net.Conn, ioTimeout time.Duration) *Conn {
	if ioTimeout <= 0 {
		ioTimeout = DefaultIOTimeout
	}
	return &Conn{
		conn:      conn,
		r:         bufio.NewReaderSize(conn, RecvBufferSize),
		ioTimeout: ioTimeout,
	}
}

// arm sets the socket deadline for one operation and interrupts it when
// ctx is cancelled. The returned func must be called when the operation
// finishes.
func (c *Conn) arm(ctx context.Context) (func(), error) {
	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.ioTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn := c.conn
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	return func() { stop() }, nil
}

// finish replaces a timeout caused by cancellation with the context error.
func finish(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

// Send writes command followed by CRLF.
func (c *Conn) Send(ctx context.Context, command string) error {
	return c.Write(ctx, []byte(command+"\r\n"))
}

// Write writes p unmodified.
func (c *Conn) Write(ctx context.Context, p []byte) error {
	disarm, err := c.arm(ctx)
	if err != nil {
		return err
	}
	defer disarm()

	if _, err := c.conn.Write(p); err != nil {
		return finish(ctx, fmt.Errorf("write failed: %w", err))
	}
	return nil
}

// ReadLine returns the next line without its terminator. Bytes are
// accumulated across as many socket reads as needed.
func (c *Conn) ReadLine(ctx context.Context) (string, error) {
	disarm, err := c.arm(ctx)
	if err != nil {
		return "", err
	}
	defer disarm()

	var line []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		if len(line)+len(chunk) > MaxLineLength {
			return "", ErrLineTooLong
		}
		line = append(line, chunk...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return "", finish(ctx, fmt.Errorf("read failed: %w", err))
	}

	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), nil
}

// ReadFull reads exactly n bytes, as announced by an IMAP {n} literal.
func (c *Conn) ReadFull(ctx context.Context, n int) ([]byte, error) {
	if n < 0 || n > MaxLiteralLength {
		return nil, ErrLiteralTooLarge
	}
	disarm, err := c.arm(ctx)
	if err != nil {
		return nil, err
	}
	defer disarm()

	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := c.r.Read(buf[read:])
		read += m
		if err != nil && read < n {
			return nil, finish(ctx, fmt.Errorf("read failed after %d of %d bytes: %w", read, n, err))
		}
	}
	return buf, nil
}

// Recv performs a single read of at most RecvBufferSize bytes and returns
// whatever arrived. It does no framing and is only suitable for short
// acknowledgements and diagnostics.
func (c *Conn) Recv(ctx context.Context) (string, error) {
	disarm, err := c.arm(ctx)
	if err != nil {
		return "", err
	}
	defer disarm()

	buf := make([]byte, RecvBufferSize)
	n, err := c.r.Read(buf)
	if err != nil && n == 0 {
		return "", finish(ctx, fmt.Errorf("read failed: %w", err))
	}
	return string(buf[:n]), nil
}

// StartTLS upgrades the connection in place. It must be called right
// after the server accepted STARTTLS and before any further command.
func (c *Conn) StartTLS(ctx context.Context, config *tls.Config) error {
	if c.r.Buffered() > 0 {
		return ErrBufferedData
	}
	disarm, err := c.arm(ctx)
	if err != nil {
		return err
	}
	defer disarm()

	tlsConn := tls.Client(c.conn, config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return finish(ctx, fmt.Errorf("tls handshake failed: %w", err))
	}
	c.conn = tlsConn
	c.r = bufio.NewReaderSize(tlsConn, RecvBufferSize)
	return nil
}

// IsTLS reports whether the connection is encrypted.
func (c *Conn) IsTLS() bool {
	_, ok := c.conn.(*tls.Conn)
	return ok
}

// Close closes the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed = true
		err = c.conn.Close()
	})
	return err
}
