// Package smtp is a minimal SMTP submission client that delivers one
// message per connection:
//
//	220 -> EHLO/250 -> [STARTTLS/220 + handshake + EHLO] -> AUTH LOGIN/334/334/235
//	-> MAIL FROM/250 -> RCPT TO/250 (per recipient) -> DATA/354 -> body/250 -> QUIT
//
// Every reply is checked against the expected code. On any mismatch the
// socket is closed before the error is returned.
package smtp

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
	"github.com/welldanyogia/webrana-mailengine/internal/transport"
)

const (
	protocolName = "smtp"

	// DefaultLocalName is sent with EHLO when Options.LocalName is empty
	DefaultLocalName = "localhost"

	codeServiceReady = 220
	codeClosing      = 221
	codeAuthOK       = 235
	codeOK           = 250
	codeAuthPrompt   = 334
	codeStartData    = 354
)

// State is the position of a session in the submission sequence.
type State int

const (
	StateConnected State = iota
	StateGreeted
	StateEhlo
	StateAuthenticated
	StateMailFrom
	StateRcptTo
	StateData
	StateSent
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateGreeted:
		return "greeted"
	case StateEhlo:
		return "ehlo"
	case StateAuthenticated:
		return "authenticated"
	case StateMailFrom:
		return "mail_from"
	case StateRcptTo:
		return "rcpt_to"
	case StateData:
		return "data"
	case StateSent:
		return "sent"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reply is one complete, possibly multi-line, server reply.
type Reply struct {
	Code  int
	Lines []string
}

// Text returns the reply text without codes, lines joined by newlines.
func (r *Reply) Text() string {
	return strings.Join(r.Lines, "\n")
}

// String renders the reply as it appeared on the wire.
func (r *Reply) String() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for i, l := range r.Lines {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(strconv.Itoa(r.Code))
		b.WriteByte(' ')
		b.WriteString(l)
	}
	return b.String()
}

// Options configures Dial.
type Options struct {
	Security    transport.Security
	TLSConfig   *tls.Config
	DialTimeout time.Duration
	IOTimeout   time.Duration
	// LocalName is the EHLO argument
	LocalName string
	Logger    *slog.Logger
}

// Client is one SMTP session. It is not safe for concurrent use.
type Client struct {
	conn       *transport.Conn
	addr       string
	localName  string
	state      State
	extensions map[string]string
	logger     *slog.Logger
}

// Dial connects to addr and reads the greeting. In TLS mode the
// connection is encrypted before the greeting is read.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	topts := transport.Options{
		DialTimeout: opts.DialTimeout,
		IOTimeout:   opts.IOTimeout,
	}
	if opts.Security == transport.SecurityTLS {
		topts.TLSConfig = transport.ClientTLSConfig(addr, opts.TLSConfig)
	}

	conn, err := transport.Dial(ctx, addr, topts)
	if err != nil {
		return nil, apperrors.NewConnectionError(protocolName, "dial", "", err)
	}
	return NewClient(ctx, conn, addr, opts)
}

// NewClient wraps an established connection and consumes the 220
// greeting. The connection is closed when the greeting is missing or
// unexpected.
func NewClient(ctx context.Context, conn *transport.Conn, addr string, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	localName := opts.LocalName
	if localName == "" {
		localName = DefaultLocalName
	}

	c := &Client{
		conn:      conn,
		addr:      addr,
		localName: localName,
		state:     StateConnected,
		logger:    logger,
	}

	reply, err := c.readReply(ctx)
	if err != nil {
		conn.Close()
		return nil, apperrors.NewConnectionError(protocolName, "greeting", "", err)
	}
	if reply.Code != codeServiceReady {
		conn.Close()
		return nil, apperrors.NewConnectionError(protocolName, "greeting", reply.String(), nil)
	}

	c.state = StateGreeted
	c.logger.Debug("smtp greeting received", slog.String("server", firstWord(reply.Lines[0])))
	return c, nil
}

// State returns the current session state.
func (c *Client) State() State { return c.state }

// Host returns the host part of the server address.
func (c *Client) Host() string {
	if host, _, err := net.SplitHostPort(c.addr); err == nil {
		return host
	}
	return c.addr
}

// Extension reports whether the server advertised ext in its EHLO reply,
// along with the extension's parameters.
func (c *Client) Extension(ext string) (bool, string) {
	params, ok := c.extensions[strings.ToUpper(ext)]
	return ok, params
}

// Hello sends EHLO and records the advertised extensions.
func (c *Client) Hello(ctx context.Context) error {
	if err := c.requireState("EHLO", StateGreeted); err != nil {
		return err
	}
	reply, err := c.cmd(ctx, "EHLO", codeOK, "EHLO "+c.localName)
	if err != nil {
		return err
	}

	c.extensions = make(map[string]string, len(reply.Lines))
	for _, line := range reply.Lines[1:] {
		name, params, _ := strings.Cut(line, " ")
		c.extensions[strings.ToUpper(name)] = params
	}
	c.state = StateEhlo
	return nil
}

// StartTLS negotiates STARTTLS, performs the TLS handshake on the open
// socket and repeats EHLO over the encrypted channel.
func (c *Client) StartTLS(ctx context.Context, config *tls.Config) error {
	if err := c.requireState("STARTTLS", StateEhlo); err != nil {
		return err
	}
	if _, err := c.cmd(ctx, "STARTTLS", codeServiceReady, "STARTTLS"); err != nil {
		return err
	}
	if err := c.conn.StartTLS(ctx, transport.ClientTLSConfig(c.addr, config)); err != nil {
		return c.fail(apperrors.NewConnectionError(protocolName, "STARTTLS", "", err))
	}
	c.logger.Debug("smtp connection upgraded to tls")

	c.state = StateGreeted
	return c.Hello(ctx)
}

// AuthLogin authenticates with AUTH LOGIN. A rejection is an auth error and
// is never retried.
func (c *Client) AuthLogin(ctx context.Context, username, password string) error {
	if err := c.requireState("AUTH", StateEhlo); err != nil {
		return err
	}

	steps := []struct {
		stage string
		line  string
		code  int
	}{
		{"AUTH", "AUTH LOGIN", codeAuthPrompt},
		{"AUTH_USER", base64.StdEncoding.EncodeToString([]byte(username)), codeAuthPrompt},
		{"AUTH_PASS", base64.StdEncoding.EncodeToString([]byte(password)), codeAuthOK},
	}
	for _, step := range steps {
		c.logger.Debug("smtp command", slog.String("stage", step.stage))
		if err := c.conn.Send(ctx, step.line); err != nil {
			return c.fail(apperrors.NewConnectionError(protocolName, step.stage, "", err))
		}
		reply, err := c.readReply(ctx)
		if err != nil {
			return c.fail(c.classifyReadError(step.stage, err))
		}
		if reply.Code != step.code {
			if isAuthRejection(reply.Code) {
				return c.fail(apperrors.NewAuthError(protocolName, step.stage, reply.String()))
			}
			return c.fail(apperrors.NewProtocolError(protocolName, step.stage, reply.String(),
				fmt.Errorf("expected %d", step.code)))
		}
	}

	c.state = StateAuthenticated
	return nil
}

// isAuthRejection reports whether code is a server refusing credentials
// rather than misunderstanding the exchange.
func isAuthRejection(code int) bool {
	switch code {
	case 454, 530, 534, 535, 538:
		return true
	}
	return false
}

// Mail sends MAIL FROM.
func (c *Client) Mail(ctx context.Context, from string) error {
	if err := c.requireState("MAIL FROM", StateEhlo, StateAuthenticated); err != nil {
		return err
	}
	if err := checkLine(from); err != nil {
		return c.fail(apperrors.NewProtocolError(protocolName, "MAIL FROM", "", err))
	}
	if _, err := c.cmd(ctx, "MAIL FROM", codeOK, "MAIL FROM:<"+from+">"); err != nil {
		return err
	}
	c.state = StateMailFrom
	return nil
}

// Rcpt sends RCPT TO for one recipient.
func (c *Client) Rcpt(ctx context.Context, to string) error {
	if err := c.requireState("RCPT TO", StateMailFrom, StateRcptTo); err != nil {
		return err
	}
	if err := checkLine(to); err != nil {
		return c.fail(apperrors.NewProtocolError(protocolName, "RCPT TO", "", err))
	}
	if _, err := c.cmd(ctx, "RCPT TO", codeOK, "RCPT TO:<"+to+">"); err != nil {
		return err
	}
	c.state = StateRcptTo
	return nil
}

// Data sends DATA, then the dot-stuffed message and the terminating
// "." line. It returns the server's acceptance reply.
func (c *Client) Data(ctx context.Context, msg []byte) (*Reply, error) {
	if err := c.requireState("DATA", StateRcptTo); err != nil {
		return nil, err
	}
	if _, err := c.cmd(ctx, "DATA", codeStartData, "DATA"); err != nil {
		return nil, err
	}
	c.state = StateData

	if err := c.conn.Write(ctx, dotStuff(msg)); err != nil {
		return nil, c.fail(apperrors.NewConnectionError(protocolName, "DATA_BODY", "", err))
	}
	reply, err := c.expect(ctx, "DATA_BODY", codeOK)
	if err != nil {
		return nil, err
	}
	c.state = StateSent
	return reply, nil
}

// Quit sends QUIT and closes the connection whatever the outcome.
func (c *Client) Quit(ctx context.Context) error {
	defer c.Close()
	if c.state == StateClosed {
		return nil
	}
	if err := c.conn.Send(ctx, "QUIT"); err != nil {
		return apperrors.NewConnectionError(protocolName, "QUIT", "", err)
	}
	reply, err := c.readReply(ctx)
	if err != nil {
		return c.classifyReadError("QUIT", err)
	}
	if reply.Code != codeClosing {
		return apperrors.NewProtocolError(protocolName, "QUIT", reply.String(), nil)
	}
	return nil
}

// Close closes the connection without QUIT.
func (c *Client) Close() error {
	c.state = StateClosed
	return c.conn.Close()
}

func (c *Client) requireState(stage string, allowed ...State) error {
	if slices.Contains(allowed, c.state) {
		return nil
	}
	return c.fail(apperrors.NewProtocolError(protocolName, stage, "",
		fmt.Errorf("%s not allowed in state %s", stage, c.state)))
}

// fail closes the socket and returns err.
func (c *Client) fail(err error) error {
	c.Close()
	return err
}

// cmd sends line and requires a reply with code.
func (c *Client) cmd(ctx context.Context, stage string, code int, line string) (*Reply, error) {
	c.logger.Debug("smtp command", slog.String("stage", stage))
	if err := c.conn.Send(ctx, line); err != nil {
		return nil, c.fail(apperrors.NewConnectionError(protocolName, stage, "", err))
	}
	return c.expect(ctx, stage, code)
}

func (c *Client) expect(ctx context.Context, stage string, code int) (*Reply, error) {
	reply, err := c.readReply(ctx)
	if err != nil {
		return nil, c.fail(c.classifyReadError(stage, err))
	}
	if reply.Code != code {
		return nil, c.fail(apperrors.NewProtocolError(protocolName, stage, reply.String(),
			fmt.Errorf("expected %d", code)))
	}
	return reply, nil
}

// readReply reads every line of one reply. Continuation lines carry a
// dash after the code ("250-SIZE"), the last line a space or nothing.
func (c *Client) readReply(ctx context.Context) (*Reply, error) {
	reply := &Reply{}
	for {
		line, err := c.conn.ReadLine(ctx)
		if err != nil {
			return nil, err
		}
		code, more, text, err := parseReplyLine(line)
		if err != nil {
			return nil, err
		}
		if reply.Code != 0 && code != reply.Code {
			return nil, &replyError{line: line, err: fmt.Errorf("reply code changed from %d to %d", reply.Code, code)}
		}
		reply.Code = code
		reply.Lines = append(reply.Lines, text)
		if !more {
			return reply, nil
		}
	}
}

func parseReplyLine(line string) (code int, more bool, text string, err error) {
	if len(line) < 3 {
		return 0, false, "", &replyError{line: line, err: errors.New("short reply")}
	}
	code, convErr := strconv.Atoi(line[:3])
	if convErr != nil || code < 100 || code > 599 {
		return 0, false, "", &replyError{line: line, err: errors.New("reply does not start with a status code")}
	}
	if len(line) == 3 {
		return code, false, "", nil
	}
	switch line[3] {
	case '-':
		return code, true, line[4:], nil
	case ' ':
		return code, false, line[4:], nil
	default:
		return 0, false, "", &replyError{line: line, err: errors.New("malformed reply separator")}
	}
}

type replyError struct {
	line string
	err  error
}

func (e *replyError) Error() string { return e.err.Error() }
func (e *replyError) Unwrap() error { return e.err }

func (c *Client) classifyReadError(stage string, err error) error {
	var re *replyError
	if errors.As(err, &re) {
		return apperrors.NewProtocolError(protocolName, stage, re.line, re.err)
	}
	return apperrors.NewConnectionError(protocolName, stage, "", err)
}

// dotStuff normalizes line endings to CRLF, doubles leading dots and
// appends the end-of-data marker.
func dotStuff(msg []byte) []byte {
	s := strings.ReplaceAll(string(msg), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")

	var b strings.Builder
	b.Grow(len(s) + len(s)/40 + 8)
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, ".") {
			b.WriteByte('.')
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString(".\r\n")
	return []byte(b.String())
}

func checkLine(s string) error {
	if strings.ContainsAny(s, "\r\n") {
		return fmt.Errorf("%w: line break in address", apperrors.ErrInvalidInput)
	}
	return nil
}

func firstWord(s string) string {
	w, _, _ := strings.Cut(s, " ")
	return w
}
