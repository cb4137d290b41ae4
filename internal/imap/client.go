// Package imap is a minimal IMAP4rev1 client that pulls a bounded window
// of INBOX messages over a single connection.
//
// The session follows a fixed command sequence with fixed tags:
//
//	A001 LOGIN, A002 SELECT, A003 SEARCH ALL, A{1000+n} FETCH n, A999 LOGOUT
//
// Commands issued out of order fail with a protocol error.
package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
	"github.com/welldanyogia/webrana-mailengine/internal/transport"
)

const (
	// DefaultFetchLimit is the number of most recent messages fetched per sync
	DefaultFetchLimit = 50

	protocolName = "imap"

	tagStartTLS  = "A000"
	tagLogin     = "A001"
	tagSelect    = "A002"
	tagSearch    = "A003"
	tagLogout    = "A999"
	fetchTagBase = 1000
)

// State is the position of a session in the command sequence.
type State int

const (
	StateConnected State = iota
	StateGreeted
	StateLoggedIn
	StateSelected
	StateSearched
	StateFetching
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateGreeted:
		return "greeted"
	case StateLoggedIn:
		return "logged_in"
	case StateSelected:
		return "selected"
	case StateSearched:
		return "searched"
	case StateFetching:
		return "fetching"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Options configures Dial.
type Options struct {
	Security    transport.Security
	TLSConfig   *tls.Config
	DialTimeout time.Duration
	IOTimeout   time.Duration
	Logger      *slog.Logger
}

// MailboxStatus is what SELECT reported.
type MailboxStatus struct {
	Name     string
	Exists   uint32
	ReadOnly bool
}

// Client is one IMAP session. It is not safe for concurrent use.
type Client struct {
	conn    *transport.Conn
	state   State
	preauth bool
	logger  *slog.Logger
}

// Dial connects to addr, reads the greeting and, in STARTTLS mode,
// upgrades the connection before returning.
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

	c, err := NewClient(ctx, conn, opts.Logger)
	if err != nil {
		return nil, err
	}

	if opts.Security == transport.SecuritySTARTTLS {
		if err := c.startTLS(ctx, transport.ClientTLSConfig(addr, opts.TLSConfig)); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// NewClient wraps an established connection and consumes the greeting.
// The connection is closed when the greeting is missing or unexpected.
func NewClient(ctx context.Context, conn *transport.Conn, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{conn: conn, state: StateConnected, logger: logger}

	greeting, err := c.readResponse(ctx)
	if err != nil {
		conn.Close()
		return nil, apperrors.NewConnectionError(protocolName, "greeting", "", err)
	}
	if !greeting.IsUntagged() || (greeting.Status != "OK" && greeting.Status != "PREAUTH") {
		conn.Close()
		return nil, apperrors.NewConnectionError(protocolName, "greeting", greeting.Raw, nil)
	}

	c.preauth = greeting.Status == "PREAUTH"
	c.state = StateGreeted
	c.logger.Debug("imap greeting received", slog.Bool("preauth", c.preauth))
	return c, nil
}

// State returns the current session state.
func (c *Client) State() State { return c.state }

func (c *Client) requireState(stage string, allowed ...State) error {
	if slices.Contains(allowed, c.state) {
		return nil
	}
	return apperrors.NewProtocolError(protocolName, stage, "",
		fmt.Errorf("%s not allowed in state %s", stage, c.state))
}

func (c *Client) startTLS(ctx context.Context, config *tls.Config) error {
	tagged, _, err := c.execute(ctx, tagStartTLS, "STARTTLS", tagStartTLS+" STARTTLS")
	if err != nil {
		return err
	}
	if tagged.Status != "OK" {
		return apperrors.NewProtocolError(protocolName, "STARTTLS", tagged.Raw, nil)
	}
	if err := c.conn.StartTLS(ctx, config); err != nil {
		return apperrors.NewConnectionError(protocolName, "STARTTLS", "", err)
	}
	return nil
}

// Login authenticates with LOGIN. A rejected login is an auth error and
// is never retried.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if err := c.requireState("LOGIN", StateGreeted); err != nil {
		return err
	}
	if c.preauth {
		c.state = StateLoggedIn
		return nil
	}

	c.logger.Debug("imap command", slog.String("tag", tagLogin), slog.String("stage", "LOGIN"))
	tagged, err := c.writeWithLiterals(ctx, tagLogin, "LOGIN", username, password)
	if err != nil {
		return err
	}
	if tagged == nil {
		tagged, _, err = c.readUntilTagged(ctx, tagLogin, "LOGIN")
		if err != nil {
			return err
		}
	}
	if tagged.Status != "OK" {
		return apperrors.NewAuthError(protocolName, "LOGIN", tagged.Raw)
	}

	c.state = StateLoggedIn
	return nil
}

// Select opens mailbox. The response is recorded but only a tagged NO or
// BAD is treated as failure.
func (c *Client) Select(ctx context.Context, mailbox string) (*MailboxStatus, error) {
	if err := c.requireState("SELECT", StateLoggedIn); err != nil {
		return nil, err
	}

	tagged, untagged, err := c.execute(ctx, tagSelect, "SELECT", tagSelect+" SELECT "+astring(mailbox))
	if err != nil {
		return nil, err
	}
	if tagged.Status != "OK" {
		return nil, apperrors.NewProtocolError(protocolName, "SELECT", tagged.Raw, nil)
	}

	status := &MailboxStatus{
		Name:     mailbox,
		ReadOnly: strings.Contains(strings.ToUpper(tagged.Text), "[READ-ONLY]"),
	}
	for _, r := range untagged {
		if r.Type == "EXISTS" {
			status.Exists = r.Number
		}
	}

	c.logger.Debug("imap mailbox selected",
		slog.String("mailbox", mailbox),
		slog.Uint64("exists", uint64(status.Exists)),
		slog.String("reply", tagged.Text))

	c.state = StateSelected
	return status, nil
}

// Search runs SEARCH ALL and returns at most limit of the highest
// sequence numbers, ascending. A limit <= 0 means DefaultFetchLimit.
//
// Sequence numbers are positional, not stable identifiers. The ids are
// sorted before truncation so an unordered reply still yields the most
// recent messages; renumbering after an expunge only causes messages to
// be fetched again and deduplicated by Message-ID.
func (c *Client) Search(ctx context.Context, limit int) ([]uint32, error) {
	if err := c.requireState("SEARCH", StateSelected); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	tagged, untagged, err := c.execute(ctx, tagSearch, "SEARCH", tagSearch+" SEARCH ALL")
	if err != nil {
		return nil, err
	}
	if tagged.Status != "OK" {
		return nil, apperrors.NewProtocolError(protocolName, "SEARCH", tagged.Raw, nil)
	}

	var ids []uint32
	for _, r := range untagged {
		if r.Type != "SEARCH" {
			continue
		}
		for _, f := range r.Fields {
			n, err := strconv.ParseUint(f.Text, 10, 32)
			if err != nil || n == 0 {
				continue
			}
			ids = append(ids, uint32(n))
		}
	}

	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}

	c.state = StateSearched
	return ids, nil
}

// FetchTag returns the tag used to fetch sequence number seq.
func FetchTag(seq uint32) string {
	return "A" + strconv.FormatUint(uint64(seq)+fetchTagBase, 10)
}

// Fetch retrieves the envelope, selected headers and text of one message.
// An unparseable or empty reply for this message is a soft parse error;
// the session stays usable.
func (c *Client) Fetch(ctx context.Context, seq uint32) (*FetchData, error) {
	if err := c.requireState("FETCH", StateSearched, StateFetching); err != nil {
		return nil, err
	}
	c.state = StateFetching

	tag := FetchTag(seq)
	cmd := fmt.Sprintf("%s FETCH %d %s", tag, seq, FetchItems)
	tagged, untagged, err := c.execute(ctx, tag, "FETCH", cmd)
	if err != nil {
		return nil, err
	}
	if tagged.Status != "OK" {
		return nil, apperrors.NewProtocolError(protocolName, "FETCH", tagged.Raw, nil)
	}

	var data *FetchData
	for _, r := range untagged {
		if r.Type != "FETCH" || r.Number != seq {
			continue
		}
		fd, err := parseFetch(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrParse, err)
		}
		if data == nil {
			data = fd
		} else {
			data.merge(fd)
		}
	}
	if data == nil {
		return nil, fmt.Errorf("%w: no FETCH data for message %d", apperrors.ErrParse, seq)
	}
	return data, nil
}

// Logout sends LOGOUT and closes the connection whatever the outcome.
func (c *Client) Logout(ctx context.Context) error {
	defer c.Close()

	if c.state == StateLoggedOut || c.state == StateConnected {
		return nil
	}

	tagged, untagged, err := c.execute(ctx, tagLogout, "LOGOUT", tagLogout+" LOGOUT")
	if err != nil {
		if sawBye(untagged) {
			return nil
		}
		return err
	}
	if tagged.Status != "OK" {
		return apperrors.NewProtocolError(protocolName, "LOGOUT", tagged.Raw, nil)
	}
	return nil
}

func sawBye(responses []*Response) bool {
	for _, r := range responses {
		if r.Status == "BYE" {
			return true
		}
	}
	return false
}

// Close closes the connection without LOGOUT.
func (c *Client) Close() error {
	c.state = StateLoggedOut
	return c.conn.Close()
}

// execute sends a simple command line and collects responses until the
// tagged completion.
func (c *Client) execute(ctx context.Context, tag, stage, line string) (*Response, []*Response, error) {
	c.logger.Debug("imap command", slog.String("tag", tag), slog.String("stage", stage))
	if err := c.conn.Send(ctx, line); err != nil {
		return nil, nil, apperrors.NewConnectionError(protocolName, stage, "", err)
	}
	return c.readUntilTagged(ctx, tag, stage)
}

func (c *Client) readUntilTagged(ctx context.Context, tag, stage string) (*Response, []*Response, error) {
	var untagged []*Response
	for {
		resp, err := c.readResponse(ctx)
		if err != nil {
			return nil, untagged, c.classifyReadError(stage, err)
		}
		if resp.IsUntagged() {
			untagged = append(untagged, resp)
			continue
		}
		if resp.IsContinuation() {
			return nil, untagged, apperrors.NewProtocolError(protocolName, stage, resp.Raw,
				fmt.Errorf("unexpected continuation request"))
		}
		if resp.Tag != tag {
			return nil, untagged, apperrors.NewProtocolError(protocolName, stage, resp.Raw,
				fmt.Errorf("expected tag %s", tag))
		}
		return resp, untagged, nil
	}
}

// writeWithLiterals sends tag verb args..., using a synchronizing literal
// for any argument that cannot be sent as an atom or quoted string. If the
// server completes the command while a continuation is awaited, that
// tagged response is returned.
func (c *Client) writeWithLiterals(ctx context.Context, tag, verb string, args ...string) (*Response, error) {
	line := tag + " " + verb
	for _, arg := range args {
		if s, ok := encodeString(arg); ok {
			line += " " + s
			continue
		}

		line += " {" + strconv.Itoa(len(arg)) + "}"
		if err := c.conn.Send(ctx, line); err != nil {
			return nil, apperrors.NewConnectionError(protocolName, verb, "", err)
		}
		resp, err := c.readResponse(ctx)
		if err != nil {
			return nil, c.classifyReadError(verb, err)
		}
		if !resp.IsContinuation() {
			if resp.Tag == tag {
				return resp, nil
			}
			return nil, apperrors.NewProtocolError(protocolName, verb, resp.Raw,
				fmt.Errorf("expected continuation request"))
		}
		line = arg
	}

	if err := c.conn.Send(ctx, line); err != nil {
		return nil, apperrors.NewConnectionError(protocolName, verb, "", err)
	}
	return nil, nil
}

// readResponse reads one logical response, pulling in every literal it
// announces so the parser sees the complete response.
func (c *Client) readResponse(ctx context.Context) (*Response, error) {
	line, err := c.conn.ReadLine(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for {
		n, ok := trailingLiteral(line)
		if !ok {
			buf.WriteString(line)
			break
		}
		buf.WriteString(line)
		buf.WriteString("\r\n")

		lit, err := c.conn.ReadFull(ctx, n)
		if err != nil {
			return nil, err
		}
		buf.Write(lit)

		if line, err = c.conn.ReadLine(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := ParseResponse(buf.Bytes())
	if err != nil {
		return nil, &parseError{err: err, raw: buf.String()}
	}
	return resp, nil
}

type parseError struct {
	err error
	raw string
}

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

func (c *Client) classifyReadError(stage string, err error) error {
	var pe *parseError
	if errors.As(err, &pe) {
		return apperrors.NewProtocolError(protocolName, stage, truncate(pe.raw, 200), pe.err)
	}
	return apperrors.NewConnectionError(protocolName, stage, "", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// astring encodes s as an atom when possible, else as a quoted string.
// Callers only pass values that are known to be quotable.
func astring(s string) string {
	if enc, ok := encodeString(s); ok {
		return enc
	}
	return strconv.Quote(s)
}

// encodeString returns s as an atom or quoted string. It reports false
// when s needs a literal (CR, LF, NUL or 8-bit bytes).
func encodeString(s string) (string, bool) {
	if s != "" && isAtom(s) {
		return s, true
	}
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch < 0x20 || ch > 0x7e {
			return "", false
		}
		if ch == '"' || ch == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(ch)
	}
	sb.WriteByte('"')
	return sb.String(), true
}

func isAtom(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch <= 0x20 || ch >= 0x7f {
			return false
		}
		switch ch {
		case '(', ')', '{', '%', '*', '"', '\\', ']':
			return false
		}
	}
	return true
}
