package smtp

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
	"github.com/welldanyogia/webrana-mailengine/internal/transport"
	"github.com/welldanyogia/webrana-mailengine/tests/fixtures"
)

var messageIDPattern = regexp.MustCompile(`^<[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}@127\.0\.0\.1>$`)

func testMessage() *Message {
	return &Message{
		From:     "me@example.com",
		FromName: "Me Example",
		To:       []string{"alice@example.org"},
		Cc:       []string{"bob@example.org"},
		Bcc:      []string{"carol@example.org"},
		Subject:  "Quarterly report",
		HTML:     "<p>Numbers attached.</p>\n.hidden line\n",
	}
}

func testOptions() Options {
	return Options{Security: transport.SecurityNone, IOTimeout: 2 * time.Second, LocalName: "client.test"}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ==================== Scripted server ====================

func TestSendMail_HappyPath(t *testing.T) {
	// Arrange
	mb := &fixtures.SMTPMailbox{Username: "me@example.com", Password: "s3cret"}
	server := fixtures.NewMailServer(t, fixtures.SMTPScript(mb))

	// Act
	receipt, err := SendMail(testContext(t), server.Addr, testOptions(),
		Credentials{Username: "me@example.com", Password: "s3cret"}, testMessage())

	// Assert
	require.NoError(t, err)
	assert.Regexp(t, messageIDPattern, receipt.MessageID)
	assert.Equal(t, []string{"alice@example.org", "bob@example.org", "carol@example.org"}, receipt.Recipients)
	assert.Equal(t, "2.0.0 Ok: queued as 4F2A1", receipt.Reply)
	assert.False(t, receipt.SentAt.IsZero())
	assert.Equal(t, "me@example.com", mb.AuthUser())

	require.True(t, server.WaitIdle(1, 3*time.Second))
	assert.Empty(t, server.Errors())
	assert.Equal(t, []string{
		"EHLO client.test",
		"AUTH LOGIN",
		"bWVAZXhhbXBsZS5jb20=",
		"czNjcmV0",
		"MAIL FROM:<me@example.com>",
		"RCPT TO:<alice@example.org>",
		"RCPT TO:<bob@example.org>",
		"RCPT TO:<carol@example.org>",
		"DATA",
		"QUIT",
	}, server.Lines())

	require.Len(t, mb.Delivered(), 1)
	data := mb.Delivered()[0]
	assert.Contains(t, data, "From: \"Me Example\" <me@example.com>\r\n")
	assert.Contains(t, data, "To: alice@example.org\r\n")
	assert.Contains(t, data, "Cc: bob@example.org\r\n")
	assert.Contains(t, data, "Message-ID: "+receipt.MessageID+"\r\n")
	assert.Contains(t, data, "Content-Type: text/html; charset=UTF-8\r\n")
	assert.NotContains(t, data, "carol@example.org")
	assert.Contains(t, data, "\r\n..hidden line\r\n")
}

func TestSendMail_RcptRejectedAbortsBeforeData(t *testing.T) {
	// Arrange
	mb := &fixtures.SMTPMailbox{
		Username:   "me@example.com",
		Password:   "s3cret",
		RejectRcpt: []string{"bob@example.org"},
	}
	server := fixtures.NewMailServer(t, fixtures.SMTPScript(mb))

	// Act
	receipt, err := SendMail(testContext(t), server.Addr, testOptions(),
		Credentials{Username: "me@example.com", Password: "s3cret"}, testMessage())

	// Assert
	assert.Nil(t, receipt)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProtocol)
	me := apperrors.GetMailError(err)
	require.NotNil(t, me)
	assert.Equal(t, "RCPT TO", me.Stage)
	assert.Contains(t, me.Reply, "550")

	require.True(t, server.WaitIdle(1, 3*time.Second))
	assert.False(t, server.HasLinePrefix("DATA"))
	assert.False(t, server.HasLinePrefix("RCPT TO:<carol@example.org>"))
	assert.Equal(t, 1, server.ClientClosed())
	assert.Empty(t, mb.Delivered())
}

func TestSendMail_AuthRejected(t *testing.T) {
	mb := &fixtures.SMTPMailbox{Username: "me@example.com", Password: "right"}
	server := fixtures.NewMailServer(t, fixtures.SMTPScript(mb))

	_, err := SendMail(testContext(t), server.Addr, testOptions(),
		Credentials{Username: "me@example.com", Password: "wrong"}, testMessage())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAuth)
	assert.True(t, apperrors.IsFatalMailError(err))
	assert.Equal(t, "AUTH_PASS", apperrors.GetMailError(err).Stage)
	assert.NotContains(t, err.Error(), "wrong")

	require.True(t, server.WaitIdle(1, 3*time.Second))
	assert.False(t, server.HasLinePrefix("MAIL FROM"))
	assert.Equal(t, 1, server.ClientClosed())
}

func TestSendMail_BadGreeting(t *testing.T) {
	server := fixtures.NewMailServer(t, fixtures.SMTPScript(&fixtures.SMTPMailbox{Greeting: "554 No SMTP service here"}))

	_, err := SendMail(testContext(t), server.Addr, testOptions(), Credentials{}, testMessage())

	assert.ErrorIs(t, err, apperrors.ErrConnection)
	assert.Equal(t, "greeting", apperrors.GetMailError(err).Stage)
}

func TestSendMail_GarbageReplyIsProtocolError(t *testing.T) {
	server := fixtures.NewMailServer(t, func(s *fixtures.ScriptSession) error {
		if err := s.Reply("220 ready"); err != nil {
			return err
		}
		if _, err := s.Expect("EHLO"); err != nil {
			return err
		}
		return s.Reply("hello there")
	})

	_, err := SendMail(testContext(t), server.Addr, testOptions(), Credentials{}, testMessage())

	assert.ErrorIs(t, err, apperrors.ErrProtocol)
	assert.Equal(t, "EHLO", apperrors.GetMailError(err).Stage)
}

func TestSendMail_InvalidMessageNeverDials(t *testing.T) {
	msg := testMessage()
	msg.Subject = "hi\r\nBcc: victim@example.org"

	_, err := SendMail(testContext(t), "127.0.0.1:1", testOptions(), Credentials{}, msg)

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSendMail_RefusedConnection(t *testing.T) {
	_, err := SendMail(testContext(t), "127.0.0.1:1", testOptions(), Credentials{}, testMessage())

	assert.ErrorIs(t, err, apperrors.ErrConnection)
	assert.Equal(t, "dial", apperrors.GetMailError(err).Stage)
}

func TestSendMail_StartTLS(t *testing.T) {
	// Arrange
	serverTLS, clientTLS := fixtures.GenerateTLS(t)
	mb := &fixtures.SMTPMailbox{Username: "me@example.com", Password: "s3cret", TLS: serverTLS}
	server := fixtures.NewMailServer(t, fixtures.SMTPScript(mb))
	opts := testOptions()
	opts.Security = transport.SecuritySTARTTLS
	opts.TLSConfig = clientTLS

	// Act
	receipt, err := SendMail(testContext(t), server.Addr, opts,
		Credentials{Username: "me@example.com", Password: "s3cret"}, testMessage())

	// Assert
	require.NoError(t, err)
	assert.Regexp(t, messageIDPattern, receipt.MessageID)
	require.True(t, server.WaitIdle(1, 3*time.Second))
	assert.Empty(t, server.Errors())
	lines := server.Lines()
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, []string{"EHLO client.test", "STARTTLS", "EHLO client.test", "AUTH LOGIN"}, lines[:4])
}

// ==================== Client state machine ====================

func TestClient_OutOfOrderCommand(t *testing.T) {
	server := fixtures.NewMailServer(t, fixtures.SMTPScript(&fixtures.SMTPMailbox{}))
	c, err := Dial(testContext(t), server.Addr, testOptions())
	require.NoError(t, err)

	err = c.Mail(testContext(t), "me@example.com")

	assert.ErrorIs(t, err, apperrors.ErrProtocol)
	assert.Equal(t, StateClosed, c.State())
}

func TestClient_HelloRecordsExtensions(t *testing.T) {
	server := fixtures.NewMailServer(t, fixtures.SMTPScript(&fixtures.SMTPMailbox{}))
	c, err := Dial(testContext(t), server.Addr, testOptions())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Hello(testContext(t)))

	ok, params := c.Extension("auth")
	assert.True(t, ok)
	assert.Equal(t, "LOGIN PLAIN", params)
	ok, _ = c.Extension("STARTTLS")
	assert.False(t, ok)
	assert.Equal(t, StateEhlo, c.State())
	assert.Equal(t, "127.0.0.1", c.Host())
}

// ==================== Independent server ====================

func TestSendMail_AgainstRelay(t *testing.T) {
	// Arrange
	relay := fixtures.NewSMTPRelay(t, fixtures.RelayConfig{Username: "me@example.com", Password: "s3cret"})
	msg := testMessage()
	msg.Subject = "Grüße"

	// Act
	receipt, err := SendMail(testContext(t), relay.Addr, testOptions(),
		Credentials{Username: "me@example.com", Password: "s3cret"}, msg)

	// Assert
	require.NoError(t, err)
	msgs := relay.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "me@example.com", msgs[0].AuthUser)
	assert.Equal(t, "me@example.com", msgs[0].From)
	assert.Equal(t, []string{"alice@example.org", "bob@example.org", "carol@example.org"}, msgs[0].To)

	data := string(msgs[0].Data)
	assert.Contains(t, data, "Message-ID: "+receipt.MessageID)
	assert.Contains(t, data, "Subject: =?UTF-8?q?Gr=C3=BC=C3=9Fe?=")
	assert.Contains(t, data, "\r\n.hidden line\r\n")
	assert.NotContains(t, data, "Bcc:")
}

func TestSendMail_AgainstRelayRejectedRecipient(t *testing.T) {
	relay := fixtures.NewSMTPRelay(t, fixtures.RelayConfig{
		Username:   "me@example.com",
		Password:   "s3cret",
		RejectRcpt: []string{"alice@example.org"},
	})

	_, err := SendMail(testContext(t), relay.Addr, testOptions(),
		Credentials{Username: "me@example.com", Password: "s3cret"}, testMessage())

	assert.ErrorIs(t, err, apperrors.ErrProtocol)
	assert.Equal(t, "RCPT TO", apperrors.GetMailError(err).Stage)
	assert.Empty(t, relay.Messages())
}

func TestSendMail_AgainstRelayBadPassword(t *testing.T) {
	relay := fixtures.NewSMTPRelay(t, fixtures.RelayConfig{Username: "me@example.com", Password: "s3cret"})

	_, err := SendMail(testContext(t), relay.Addr, testOptions(),
		Credentials{Username: "me@example.com", Password: "nope"}, testMessage())

	assert.ErrorIs(t, err, apperrors.ErrAuth)
	assert.Empty(t, relay.Messages())
}

func TestSendMail_AgainstRelayStartTLS(t *testing.T) {
	serverTLS, clientTLS := fixtures.GenerateTLS(t)
	relay := fixtures.NewSMTPRelay(t, fixtures.RelayConfig{Username: "me@example.com", Password: "s3cret", TLS: serverTLS})
	opts := testOptions()
	opts.Security = transport.SecuritySTARTTLS
	opts.TLSConfig = clientTLS

	_, err := SendMail(testContext(t), relay.Addr, opts,
		Credentials{Username: "me@example.com", Password: "s3cret"}, testMessage())

	require.NoError(t, err)
	assert.Len(t, relay.Messages(), 1)
}

// ==================== Wire helpers ====================

func TestParseReplyLine(t *testing.T) {
	tests := []struct {
		line    string
		code    int
		more    bool
		text    string
		wantErr bool
	}{
		{"250 OK", 250, false, "OK", false},
		{"250-SIZE 1000", 250, true, "SIZE 1000", false},
		{"354", 354, false, "", false},
		{"25", 0, false, "", true},
		{"abc def", 0, false, "", true},
		{"250_x", 0, false, "", true},
		{"999 nope", 0, false, "", true},
	}

	for _, tt := range tests {
		code, more, text, err := parseReplyLine(tt.line)
		if tt.wantErr {
			assert.Error(t, err, tt.line)
			continue
		}
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.code, code, tt.line)
		assert.Equal(t, tt.more, more, tt.line)
		assert.Equal(t, tt.text, text, tt.line)
	}
}

func TestDotStuff(t *testing.T) {
	got := string(dotStuff([]byte("a\n.b\r\n..c\rd")))
	assert.Equal(t, "a\r\n..b\r\n...c\r\nd\r\n.\r\n", got)

	assert.Equal(t, "\r\n.\r\n", string(dotStuff(nil)))
}

func TestReply_String(t *testing.T) {
	r := &Reply{Code: 250, Lines: []string{"mx.test", "SIZE 10"}}
	assert.Equal(t, "250 mx.test | 250 SIZE 10", r.String())
	assert.Equal(t, "mx.test\nSIZE 10", r.Text())
	assert.True(t, strings.HasPrefix((&Reply{Code: 550, Lines: []string{"no"}}).String(), "550"))
}
