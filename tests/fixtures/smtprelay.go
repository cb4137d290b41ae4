package fixtures

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Relay limits
const (
	RelayMaxMessageSize = 10 * 1024 * 1024
	RelayMaxRecipients  = 50
	RelayTimeout        = 10 * time.Second
)

// RelayConfig configures an SMTPRelay.
type RelayConfig struct {
	Username string
	Password string
	// RejectRcpt lists recipients answered with 550
	RejectRcpt []string
	// TLS enables STARTTLS
	TLS *tls.Config
}

// RelayedMessage is one message accepted by the relay.
type RelayedMessage struct {
	AuthUser string
	From     string
	To       []string
	Data     []byte
}

// SMTPRelay is a real SMTP server used to check the client against an
// independent protocol implementation.
type SMTPRelay struct {
	Addr string

	cfg    RelayConfig
	server *smtp.Server

	mu       sync.Mutex
	messages []RelayedMessage
}

// NewSMTPRelay starts a relay on a random localhost port. It is shut down
// by t.Cleanup.
func NewSMTPRelay(t testing.TB, cfg RelayConfig) *SMTPRelay {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	r := &SMTPRelay{Addr: ln.Addr().String(), cfg: cfg}

	s := smtp.NewServer(r)
	s.Addr = r.Addr
	s.Domain = "relay.test"
	s.MaxMessageBytes = RelayMaxMessageSize
	s.MaxRecipients = RelayMaxRecipients
	s.ReadTimeout = RelayTimeout
	s.WriteTimeout = RelayTimeout
	s.AllowInsecureAuth = true
	s.TLSConfig = cfg.TLS
	r.server = s

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(ln)
	}()
	t.Cleanup(func() {
		s.Close()
		<-done
	})
	return r
}

// Messages returns every accepted message so far.
func (r *SMTPRelay) Messages() []RelayedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RelayedMessage(nil), r.messages...)
}

// NewSession implements smtp.Backend.
func (r *SMTPRelay) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &relaySession{relay: r}, nil
}

// relaySession implements smtp.Session and smtp.AuthSession.
type relaySession struct {
	relay    *SMTPRelay
	authUser string
	from     string
	to       []string
}

func (s *relaySession) AuthMechanisms() []string {
	return []string{sasl.Login}
}

func (s *relaySession) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Login {
		return nil, &smtp.SMTPError{
			Code:         504,
			EnhancedCode: smtp.EnhancedCode{5, 7, 4},
			Message:      "Unsupported authentication mechanism",
		}
	}
	return newLoginServer(func(username, password string) error {
		if username != s.relay.cfg.Username || password != s.relay.cfg.Password {
			return smtp.ErrAuthFailed
		}
		s.authUser = username
		return nil
	}), nil
}

// loginServer is the server side of AUTH LOGIN: a "Username:" prompt,
// then "Password:". A username sent as initial response skips the first
// prompt.
type loginServer struct {
	step         int
	username     string
	authenticate func(username, password string) error
}

func newLoginServer(authenticate func(username, password string) error) sasl.Server {
	return &loginServer{authenticate: authenticate}
}

func (a *loginServer) Next(response []byte) (challenge []byte, done bool, err error) {
	switch a.step {
	case 0:
		a.step = 1
		if response == nil {
			return []byte("Username:"), false, nil
		}
		fallthrough
	case 1:
		a.username = string(response)
		a.step = 2
		return []byte("Password:"), false, nil
	case 2:
		a.step = 3
		return nil, true, a.authenticate(a.username, string(response))
	default:
		return nil, true, errors.New("unexpected client response")
	}
}

func (s *relaySession) Mail(from string, opts *smtp.MailOptions) error {
	if s.relay.cfg.Username != "" && s.authUser == "" {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	for _, rejected := range s.relay.cfg.RejectRcpt {
		if strings.EqualFold(rejected, to) {
			return &smtp.SMTPError{
				Code:         550,
				EnhancedCode: smtp.EnhancedCode{5, 1, 1},
				Message:      "Mailbox not found",
			}
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	if len(s.to) == 0 {
		return &smtp.SMTPError{
			Code:         503,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.relay.mu.Lock()
	s.relay.messages = append(s.relay.messages, RelayedMessage{
		AuthUser: s.authUser,
		From:     s.from,
		To:       append([]string(nil), s.to...),
		Data:     data,
	})
	s.relay.mu.Unlock()
	return nil
}

func (s *relaySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *relaySession) Logout() error {
	return nil
}
