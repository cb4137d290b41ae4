package smtp

import (
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
	"github.com/welldanyogia/webrana-mailengine/internal/validator"
)

// Message is one outbound HTML message.
type Message struct {
	From      string
	FromName  string
	To        []string
	Cc        []string
	Bcc       []string
	Subject   string
	HTML      string
	Date      time.Time
	MessageID string
}

// NewMessageID returns a fresh "<uuid@host>" identifier.
func NewMessageID(host string) string {
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
}

// Recipients returns the envelope recipients (To, Cc then Bcc) with
// duplicates removed, in first-seen order.
func (m *Message) Recipients() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{m.To, m.Cc, m.Bcc} {
		for _, addr := range list {
			key := strings.ToLower(addr)
			if addr == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, addr)
		}
	}
	return out
}

// Validate checks the message can be submitted without header injection.
func (m *Message) Validate() error {
	if m.From == "" {
		return fmt.Errorf("%w: sender is required", apperrors.ErrInvalidInput)
	}
	if len(m.Recipients()) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", apperrors.ErrInvalidInput)
	}
	for _, v := range append([]string{m.From, m.FromName, m.Subject, m.MessageID}, m.Recipients()...) {
		if strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("%w: header value contains a line break", apperrors.ErrInvalidInput)
		}
	}
	// Envelope addresses go on the wire verbatim, so display names are rejected
	for _, addr := range append([]string{m.From}, m.Recipients()...) {
		if strings.TrimSpace(addr) != addr || validator.ValidateEmail(addr) != nil {
			return fmt.Errorf("%w: invalid address %q", apperrors.ErrInvalidInput, addr)
		}
	}
	return nil
}

// BuildMessage renders the RFC 5322 text of m. Bcc recipients never appear
// in the headers. Lines end with CRLF; dot-stuffing is left to Data.
func BuildMessage(m *Message) []byte {
	var b strings.Builder

	from := m.From
	if m.FromName != "" {
		from = (&mail.Address{Name: m.FromName, Address: m.From}).String()
	}
	writeHeader(&b, "From", from)
	if len(m.To) > 0 {
		writeHeader(&b, "To", formatList(m.To))
	} else {
		writeHeader(&b, "To", "undisclosed-recipients:;")
	}
	if len(m.Cc) > 0 {
		writeHeader(&b, "Cc", formatList(m.Cc))
	}
	writeHeader(&b, "Subject", mime.QEncoding.Encode("UTF-8", m.Subject))
	writeHeader(&b, "Date", m.Date.Format(time.RFC1123Z))
	writeHeader(&b, "Message-ID", m.MessageID)
	writeHeader(&b, "MIME-Version", "1.0")
	writeHeader(&b, "Content-Type", "text/html; charset=UTF-8")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(m.HTML, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

func formatList(addrs []string) string {
	return strings.Join(addrs, ", ")
}
