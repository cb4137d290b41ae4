// Package mailparse turns fetched IMAP data into message records.
package mailparse

import (
	"bytes"
	"fmt"
	"mime"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
	"github.com/welldanyogia/webrana-mailengine/internal/imap"
)

// Address is a parsed mailbox.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// String renders the address in header form.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

// Message is one parsed inbound message.
type Message struct {
	ExternalID string
	From       Address
	To         []Address
	Cc         []Address
	Subject    string
	BodyText   string
	BodyHTML   string
	Snippet    string
	Date       time.Time
	// Raw is the RFC 822 source the message was parsed from
	Raw []byte
}

var wordDecoder = &mime.WordDecoder{}

// Parse builds a Message from one FETCH response. The header literal is
// authoritative; the ENVELOPE fills fields it lacks. A message without a
// Message-ID cannot be deduplicated and yields an error matching
// apperrors.ErrParse. now is used when no date can be parsed.
func Parse(data *imap.FetchData, now time.Time) (*Message, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: empty fetch data", apperrors.ErrParse)
	}

	raw := buildRaw(data.Header, data.Text)
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: message %d: %v", apperrors.ErrParse, data.SeqNum, err)
	}

	var fallback imap.Envelope
	if data.Envelope != nil {
		fallback = *data.Envelope
	}

	msg := &Message{
		ExternalID: NormalizeMessageID(env.GetHeader("Message-ID")),
		Subject:    strings.TrimSpace(env.GetHeader("Subject")),
		Raw:        raw,
	}
	if msg.ExternalID == "" {
		msg.ExternalID = NormalizeMessageID(fallback.MessageID)
	}
	if msg.ExternalID == "" {
		return nil, fmt.Errorf("%w: message %d has no Message-ID", apperrors.ErrParse, data.SeqNum)
	}

	if msg.Subject == "" && fallback.Subject != "" {
		msg.Subject = decodeWords(fallback.Subject)
	}

	if from := headerAddresses(env, "From"); len(from) > 0 {
		msg.From = from[0]
	} else if len(fallback.From) > 0 {
		msg.From = envelopeAddresses(fallback.From)[0]
	}

	msg.To = headerAddresses(env, "To")
	if len(msg.To) == 0 {
		msg.To = envelopeAddresses(fallback.To)
	}
	msg.Cc = headerAddresses(env, "Cc")
	if len(msg.Cc) == 0 {
		msg.Cc = envelopeAddresses(fallback.Cc)
	}

	date, ok := ParseDate(env.GetHeader("Date"))
	if !ok {
		date, ok = ParseDate(fallback.Date)
	}
	if !ok {
		date = now
	}
	msg.Date = date.UTC()

	body := strings.TrimRight(env.Text, "\r\n")
	if env.HTML != "" {
		msg.BodyHTML = env.HTML
		msg.BodyText = body
	} else if looksLikeHTML(body) {
		msg.BodyHTML = body
		msg.BodyText = HTMLToText(body)
	} else {
		msg.BodyText = body
	}
	msg.Snippet = Snippet(msg.BodyText, msg.BodyHTML)

	return msg, nil
}

// buildRaw joins the header block and text so they read as one message.
func buildRaw(header, text []byte) []byte {
	var buf bytes.Buffer
	h := bytes.TrimRight(header, "\r\n")
	buf.Write(h)
	if len(h) > 0 {
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(text)
	return buf.Bytes()
}

func headerAddresses(env *enmime.Envelope, key string) []Address {
	list, err := env.AddressList(key)
	if err != nil || len(list) == 0 {
		if v := env.GetHeader(key); v != "" {
			return ParseAddressList(v)
		}
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{Name: a.Name, Email: strings.ToLower(a.Address)})
	}
	return out
}

func envelopeAddresses(list []imap.Address) []Address {
	var out []Address
	for _, a := range list {
		if email := a.Email(); email != "" {
			out = append(out, Address{Name: decodeWords(a.Name), Email: strings.ToLower(email)})
		}
	}
	return out
}

func decodeWords(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// NormalizeMessageID trims whitespace and guarantees angle brackets. An
// empty id yields ""; ids longer than MaxKeyLength runes are cut.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if i := strings.IndexByte(id, '<'); i >= 0 {
		if j := strings.IndexByte(id[i:], '>'); j > 0 {
			// "<>" carries no identifier
			if j == 1 {
				return ""
			}
			return Truncate(id[i:i+j+1], MaxKeyLength)
		}
	}
	id = strings.Trim(id, "<>")
	if id == "" {
		return ""
	}
	return Truncate("<"+id+">", MaxKeyLength)
}

var fromPattern = regexp.MustCompile(`^(?:"?([^"<]*)"?\s*)?<?([^<>\s]+@[^<>\s]+)>?$`)

// ParseAddress parses one address, falling back to a lenient pattern for
// headers net/mail rejects.
func ParseAddress(s string) (Address, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, false
	}
	if a, err := mail.ParseAddress(s); err == nil {
		return Address{Name: a.Name, Email: strings.ToLower(a.Address)}, true
	}
	m := fromPattern.FindStringSubmatch(s)
	if m == nil {
		return Address{}, false
	}
	return Address{Name: strings.TrimSpace(m[1]), Email: strings.ToLower(m[2])}, true
}

// ParseAddressList parses a comma separated address header.
func ParseAddressList(s string) []Address {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(s); err == nil {
		out := make([]Address, 0, len(list))
		for _, a := range list {
			out = append(out, Address{Name: a.Name, Email: strings.ToLower(a.Address)})
		}
		return out
	}
	var out []Address
	for _, part := range strings.Split(s, ",") {
		if a, ok := ParseAddress(part); ok {
			out = append(out, a)
		}
	}
	return out
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04 -0700",
	time.RFC3339,
}

var dateComment = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

// ParseDate parses a Date header. It reports false when nothing matched.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := mail.ParseDate(s); err == nil {
		return t, true
	}
	s = dateComment.ReplaceAllString(s, "")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var htmlHint = regexp.MustCompile(`(?i)^\s*(<!doctype html|<html|<body|<div|<p[\s>]|<table)`)

func looksLikeHTML(s string) bool {
	return htmlHint.MatchString(s)
}
