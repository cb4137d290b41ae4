package fixtures

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// ScriptFunc drives one accepted connection of a MailServer.
type ScriptFunc func(s *ScriptSession) error

// MailServer is a scripted TCP server used to exercise the IMAP and SMTP
// clients against exact wire exchanges. Every accepted connection runs the
// same script; connections are served one at a time.
type MailServer struct {
	Addr string

	ln     net.Listener
	script ScriptFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	lines        []string
	errs         []error
	sessions     int
	clientClosed int
}

// NewMailServer starts a scripted server on a random localhost port.
// The listener is closed by t.Cleanup.
func NewMailServer(t testing.TB, script ScriptFunc) *MailServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &MailServer{Addr: ln.Addr().String(), ln: ln, script: script}
	s.wg.Add(1)
	go s.serve()

	t.Cleanup(func() {
		ln.Close()
		s.wg.Wait()
	})
	return s
}

func (s *MailServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.handle(conn)
	}
}

func (s *MailServer) handle(conn net.Conn) {
	defer conn.Close()

	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()

	sess := &ScriptSession{conn: conn, r: bufio.NewReader(conn), server: s}
	if err := s.script(sess); err != nil {
		s.mu.Lock()
		s.errs = append(s.errs, err)
		s.mu.Unlock()
	}

	// The client is expected to hang up once the script is done.
	sess.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.Copy(io.Discard, sess.r); err == nil {
		s.mu.Lock()
		s.clientClosed++
		s.mu.Unlock()
	}
}

// Lines returns every line received from clients so far, in order.
func (s *MailServer) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Errors returns script failures.
func (s *MailServer) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

// Sessions returns the number of accepted connections.
func (s *MailServer) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// ClientClosed returns how many sessions ended with the client closing
// its side of the socket.
func (s *MailServer) ClientClosed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientClosed
}

// WaitIdle blocks until every accepted session has finished, or the
// timeout expires.
func (s *MailServer) WaitIdle(want int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		done := s.clientClosed + len(s.errs)
		s.mu.Unlock()
		if done >= want {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// HasLinePrefix reports whether any received line starts with prefix.
func (s *MailServer) HasLinePrefix(prefix string) bool {
	for _, l := range s.Lines() {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// ScriptSession is one connection seen from the server side.
type ScriptSession struct {
	conn   net.Conn
	r      *bufio.Reader
	server *MailServer
}

// Reply writes each line followed by CRLF.
func (s *ScriptSession) Reply(lines ...string) error {
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	for _, l := range lines {
		if _, err := io.WriteString(s.conn, l+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}

// Raw writes data unmodified.
func (s *ScriptSession) Raw(data string) error {
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := io.WriteString(s.conn, data)
	return err
}

// ReadLine reads and records one client line.
func (s *ScriptSession) ReadLine() (string, error) {
	s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")

	s.server.mu.Lock()
	s.server.lines = append(s.server.lines, line)
	s.server.mu.Unlock()
	return line, nil
}

// Expect reads one line and fails unless it starts with prefix.
func (s *ScriptSession) Expect(prefix string) (string, error) {
	line, err := s.ReadLine()
	if err != nil {
		return "", fmt.Errorf("waiting for %q: %w", prefix, err)
	}
	if !strings.HasPrefix(line, prefix) {
		return line, fmt.Errorf("expected line starting with %q, got %q", prefix, line)
	}
	return line, nil
}

// ReadData reads a DATA payload up to and including the lone "." line
// and returns it without the terminator.
func (s *ScriptSession) ReadData() (string, error) {
	var b strings.Builder
	for {
		s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		line, err := s.r.ReadString('\n')
		if err != nil {
			return "", err
		}
		if line == ".\r\n" {
			return b.String(), nil
		}
		b.WriteString(line)
	}
}

// Hangup closes the connection from the server side.
func (s *ScriptSession) Hangup() error {
	return s.conn.Close()
}

// StartTLS upgrades the server side of the connection.
func (s *ScriptSession) StartTLS(config *tls.Config) error {
	if s.r.Buffered() > 0 {
		return errors.New("client sent data before TLS handshake")
	}
	tlsConn := tls.Server(s.conn, config)
	tlsConn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("server handshake: %w", err)
	}
	s.conn = tlsConn
	s.r = bufio.NewReader(tlsConn)
	return nil
}

// GenerateTLS returns a server config with a fresh self-signed P-256
// certificate for 127.0.0.1 and a client config that trusts it.
func GenerateTLS(t testing.TB) (serverTLS, clientTLS *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "mailengine-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	tlsCert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	if err != nil {
		t.Fatalf("parse key pair: %v", err)
	}

	parsed, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(parsed)

	serverTLS = &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		MinVersion:   tls.VersionTLS12,
	}
	clientTLS = &tls.Config{
		RootCAs:    pool,
		ServerName: "127.0.0.1",
		MinVersion: tls.VersionTLS12,
	}
	return serverTLS, clientTLS
}
