package fixtures

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
)

// IMAPMessage is one message served by IMAPScript.
type IMAPMessage struct {
	Seq       uint32
	From      string
	To        string
	Subject   string
	Date      string
	MessageID string
	Body      string
}

// Header renders the header fields requested by the client, omitting
// empty ones, followed by the blank separator line.
func (m IMAPMessage) Header() string {
	var b strings.Builder
	for _, f := range [][2]string{
		{"From", m.From},
		{"To", m.To},
		{"Subject", m.Subject},
		{"Date", m.Date},
		{"Message-ID", m.MessageID},
	} {
		if f[1] != "" {
			b.WriteString(f[0] + ": " + f[1] + "\r\n")
		}
	}
	b.WriteString("\r\n")
	return b.String()
}

// FetchResponse renders the untagged FETCH response for the message,
// with the header and text sent as literals.
func (m IMAPMessage) FetchResponse() string {
	header := m.Header()
	return fmt.Sprintf("* %d FETCH (ENVELOPE %s BODY[HEADER.FIELDS (FROM TO SUBJECT DATE MESSAGE-ID)] {%d}\r\n%s BODY[TEXT] {%d}\r\n%s)\r\n",
		m.Seq, m.envelope(), len(header), header, len(m.Body), m.Body)
}

func (m IMAPMessage) envelope() string {
	return "(" + strings.Join([]string{
		imapNString(m.Date),
		imapNString(m.Subject),
		imapAddressList(m.From),
		imapAddressList(m.From),
		imapAddressList(m.From),
		imapAddressList(m.To),
		"NIL",
		"NIL",
		"NIL",
		imapNString(m.MessageID),
	}, " ") + ")"
}

func imapNString(s string) string {
	if s == "" {
		return "NIL"
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func imapAddressList(s string) string {
	if s == "" {
		return "NIL"
	}
	addrs, err := mail.ParseAddressList(s)
	if err != nil {
		return "NIL"
	}
	var parts []string
	for _, a := range addrs {
		local, host, _ := strings.Cut(a.Address, "@")
		parts = append(parts, fmt.Sprintf("(%s NIL %s %s)", imapNString(a.Name), imapNString(local), imapNString(host)))
	}
	return "(" + strings.Join(parts, "") + ")"
}

// IMAPMailbox describes the server side of one IMAP sync session.
type IMAPMailbox struct {
	// RejectLogin answers LOGIN with "A001 NO LOGIN failed"
	RejectLogin bool
	// Greeting overrides the default "* OK" greeting
	Greeting string
	// SearchIDs overrides the ids listed by SEARCH; by default every
	// message's Seq is listed in order
	SearchIDs []uint32
	Messages  []IMAPMessage
}

// IMAPScript serves the fixed LOGIN, SELECT, SEARCH, FETCH*, LOGOUT
// exchange for mb.
func IMAPScript(mb IMAPMailbox) ScriptFunc {
	return func(s *ScriptSession) error {
		greeting := mb.Greeting
		if greeting == "" {
			greeting = "* OK IMAP4rev1 Service Ready"
		}
		if err := s.Reply(greeting); err != nil {
			return err
		}
		if !strings.HasPrefix(greeting, "* OK") {
			return nil
		}

		if _, err := s.Expect("A001 LOGIN "); err != nil {
			return err
		}
		if mb.RejectLogin {
			return s.Reply("A001 NO LOGIN failed")
		}
		if err := s.Reply("A001 OK LOGIN completed"); err != nil {
			return err
		}

		if _, err := s.Expect("A002 SELECT INBOX"); err != nil {
			return err
		}
		if err := s.Reply(
			fmt.Sprintf("* %d EXISTS", len(mb.Messages)),
			"* FLAGS (\\Answered \\Flagged \\Deleted \\Seen \\Draft)",
			"A002 OK [READ-WRITE] SELECT completed",
		); err != nil {
			return err
		}

		if _, err := s.Expect("A003 SEARCH ALL"); err != nil {
			return err
		}
		ids := mb.SearchIDs
		if ids == nil {
			for _, m := range mb.Messages {
				ids = append(ids, m.Seq)
			}
		}
		search := "* SEARCH"
		for _, id := range ids {
			search += " " + strconv.FormatUint(uint64(id), 10)
		}
		if err := s.Reply(search, "A003 OK SEARCH completed"); err != nil {
			return err
		}

		for {
			line, err := s.ReadLine()
			if err != nil {
				return err
			}
			if strings.HasPrefix(line, "A999 LOGOUT") {
				return s.Reply("* BYE IMAP4rev1 Server logging out", "A999 OK LOGOUT completed")
			}

			fields := strings.Fields(line)
			if len(fields) < 3 || fields[1] != "FETCH" {
				return fmt.Errorf("unexpected command %q", line)
			}
			tag := fields[0]
			seq, err := strconv.ParseUint(fields[2], 10, 32)
			if err != nil {
				return fmt.Errorf("bad fetch sequence in %q", line)
			}

			for _, m := range mb.Messages {
				if uint64(m.Seq) == seq {
					if err := s.Raw(m.FetchResponse()); err != nil {
						return err
					}
				}
			}
			if err := s.Reply(tag + " OK FETCH completed"); err != nil {
				return err
			}
		}
	}
}
