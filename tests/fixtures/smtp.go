package fixtures

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
)

// SMTPMailbox describes the server side of one scripted SMTP submission
// and records what was delivered.
type SMTPMailbox struct {
	// Greeting overrides the default "220" greeting
	Greeting string
	// TLS, when set, advertises STARTTLS and upgrades with this config
	TLS *tls.Config
	// Username and Password are the accepted AUTH LOGIN credentials
	Username string
	Password string
	// RejectRcpt answers RCPT TO for these addresses with 550
	RejectRcpt []string

	mu        sync.Mutex
	delivered []string
	authUser  string
}

// Delivered returns every DATA payload accepted so far, without the
// terminating dot line and with dot-stuffing still applied.
func (m *SMTPMailbox) Delivered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.delivered...)
}

// AuthUser returns the decoded username of the last AUTH LOGIN.
func (m *SMTPMailbox) AuthUser() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authUser
}

// SMTPScript serves the greeting, EHLO, optional STARTTLS, AUTH LOGIN,
// MAIL, RCPT*, DATA and QUIT exchange for m.
func SMTPScript(m *SMTPMailbox) ScriptFunc {
	return func(s *ScriptSession) error {
		greeting := m.Greeting
		if greeting == "" {
			greeting = "220 smtp.test ESMTP ready"
		}
		if err := s.Reply(greeting); err != nil {
			return err
		}
		if !strings.HasPrefix(greeting, "220") {
			return nil
		}

		ehlo := func() error {
			if _, err := s.Expect("EHLO "); err != nil {
				return err
			}
			lines := []string{"250-smtp.test greets you", "250-SIZE 10240000"}
			if m.TLS != nil {
				lines = append(lines, "250-STARTTLS")
			}
			lines = append(lines, "250 AUTH LOGIN PLAIN")
			return s.Reply(lines...)
		}
		if err := ehlo(); err != nil {
			return err
		}

		if m.TLS != nil {
			if _, err := s.Expect("STARTTLS"); err != nil {
				return err
			}
			if err := s.Reply("220 2.0.0 Ready to start TLS"); err != nil {
				return err
			}
			if err := s.StartTLS(m.TLS); err != nil {
				return err
			}
			if err := ehlo(); err != nil {
				return err
			}
		}

		if _, err := s.Expect("AUTH LOGIN"); err != nil {
			return err
		}
		if err := s.Reply("334 VXNlcm5hbWU6"); err != nil {
			return err
		}
		user, err := s.ReadLine()
		if err != nil {
			return err
		}
		if err := s.Reply("334 UGFzc3dvcmQ6"); err != nil {
			return err
		}
		pass, err := s.ReadLine()
		if err != nil {
			return err
		}
		decodedUser, _ := base64.StdEncoding.DecodeString(user)
		decodedPass, _ := base64.StdEncoding.DecodeString(pass)
		m.mu.Lock()
		m.authUser = string(decodedUser)
		m.mu.Unlock()
		if string(decodedUser) != m.Username || string(decodedPass) != m.Password {
			return s.Reply("535 5.7.8 Authentication credentials invalid")
		}
		if err := s.Reply("235 2.7.0 Authentication successful"); err != nil {
			return err
		}

		if _, err := s.Expect("MAIL FROM:<"); err != nil {
			return err
		}
		if err := s.Reply("250 2.1.0 Ok"); err != nil {
			return err
		}

		for {
			line, err := s.ReadLine()
			if err != nil {
				return err
			}
			if line == "DATA" {
				break
			}
			if !strings.HasPrefix(line, "RCPT TO:<") {
				return fmt.Errorf("unexpected command %q", line)
			}
			addr := strings.TrimSuffix(strings.TrimPrefix(line, "RCPT TO:<"), ">")
			if containsFold(m.RejectRcpt, addr) {
				return s.Reply("550 5.1.1 <" + addr + ">: Recipient address rejected")
			}
			if err := s.Reply("250 2.1.5 Ok"); err != nil {
				return err
			}
		}

		if err := s.Reply("354 End data with <CR><LF>.<CR><LF>"); err != nil {
			return err
		}
		data, err := s.ReadData()
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.delivered = append(m.delivered, data)
		m.mu.Unlock()
		if err := s.Reply("250 2.0.0 Ok: queued as 4F2A1"); err != nil {
			return err
		}

		if _, err := s.Expect("QUIT"); err != nil {
			return err
		}
		return s.Reply("221 2.0.0 Bye")
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
