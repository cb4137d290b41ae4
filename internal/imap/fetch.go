package imap

import (
	"fmt"
	"strconv"
	"strings"
)

// FetchItems is the data item list requested for every message.
const FetchItems = "(ENVELOPE BODY[HEADER.FIELDS (FROM TO SUBJECT DATE MESSAGE-ID)] BODY[TEXT])"

// Address is one ENVELOPE address structure.
type Address struct {
	Name    string
	Mailbox string
	Host    string
}

// Email returns mailbox@host, or "" when either part is missing.
func (a Address) Email() string {
	if a.Mailbox == "" || a.Host == "" {
		return ""
	}
	return a.Mailbox + "@" + a.Host
}

// Envelope is the parsed ENVELOPE fetch item.
type Envelope struct {
	Date      string
	Subject   string
	From      []Address
	Sender    []Address
	ReplyTo   []Address
	To        []Address
	Cc        []Address
	Bcc       []Address
	InReplyTo string
	MessageID string
}

// FetchData holds the items of one "* n FETCH (...)" response.
type FetchData struct {
	SeqNum       uint32
	UID          uint32
	Flags        []string
	InternalDate string
	Size         int64
	Envelope     *Envelope
	Header       []byte
	Text         []byte
}

// merge copies items present in other into f. Servers may split one
// message's items across several untagged responses.
func (f *FetchData) merge(other *FetchData) {
	if other.UID != 0 {
		f.UID = other.UID
	}
	if other.Flags != nil {
		f.Flags = other.Flags
	}
	if other.InternalDate != "" {
		f.InternalDate = other.InternalDate
	}
	if other.Size != 0 {
		f.Size = other.Size
	}
	if other.Envelope != nil {
		f.Envelope = other.Envelope
	}
	if other.Header != nil {
		f.Header = other.Header
	}
	if other.Text != nil {
		f.Text = other.Text
	}
}

func parseFetch(resp *Response) (*FetchData, error) {
	if len(resp.Fields) != 1 || resp.Fields[0].Kind != KindList {
		return nil, fmt.Errorf("FETCH %d: expected one item list", resp.Number)
	}
	items := resp.Fields[0].List
	if len(items)%2 != 0 {
		return nil, fmt.Errorf("FETCH %d: odd number of item tokens", resp.Number)
	}

	data := &FetchData{SeqNum: resp.Number}
	for i := 0; i < len(items); i += 2 {
		key := strings.ToUpper(items[i].Text)
		val := items[i+1]

		switch {
		case key == "ENVELOPE":
			env, err := parseEnvelope(val)
			if err != nil {
				return nil, fmt.Errorf("FETCH %d: %w", resp.Number, err)
			}
			data.Envelope = env
		case key == "UID":
			n, err := strconv.ParseUint(val.Text, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("FETCH %d: bad UID %q", resp.Number, val.Text)
			}
			data.UID = uint32(n)
		case key == "FLAGS":
			data.Flags = []string{}
			for _, f := range val.List {
				data.Flags = append(data.Flags, f.Text)
			}
		case key == "INTERNALDATE":
			data.InternalDate = val.String()
		case key == "RFC822.SIZE":
			n, _ := strconv.ParseInt(val.Text, 10, 64)
			data.Size = n
		case key == "RFC822.HEADER" || strings.HasPrefix(key, "BODY[HEADER"):
			data.Header = valueBytes(val)
		case key == "RFC822.TEXT" || strings.HasPrefix(key, "BODY[TEXT]"):
			data.Text = valueBytes(val)
		}
	}
	return data, nil
}

func valueBytes(v Value) []byte {
	if v.Kind == KindNil {
		return []byte{}
	}
	return []byte(v.Text)
}

func parseEnvelope(v Value) (*Envelope, error) {
	if v.Kind != KindList || len(v.List) < 10 {
		return nil, fmt.Errorf("malformed ENVELOPE")
	}
	f := v.List
	return &Envelope{
		Date:      f[0].String(),
		Subject:   f[1].String(),
		From:      parseAddressList(f[2]),
		Sender:    parseAddressList(f[3]),
		ReplyTo:   parseAddressList(f[4]),
		To:        parseAddressList(f[5]),
		Cc:        parseAddressList(f[6]),
		Bcc:       parseAddressList(f[7]),
		InReplyTo: f[8].String(),
		MessageID: f[9].String(),
	}, nil
}

// parseAddressList skips group start/end markers, which carry a NIL host.
func parseAddressList(v Value) []Address {
	if v.Kind != KindList {
		return nil
	}
	var out []Address
	for _, a := range v.List {
		if a.Kind != KindList || len(a.List) < 4 {
			continue
		}
		addr := Address{
			Name:    a.List[0].String(),
			Mailbox: a.List[2].String(),
			Host:    a.List[3].String(),
		}
		if addr.Host == "" {
			continue
		}
		out = append(out, addr)
	}
	return out
}
