package imap

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the type of a parsed IMAP value.
type Kind int

const (
	KindAtom Kind = iota
	KindString
	KindLiteral
	KindList
	KindNil
)

// Value is one element of a server response: an atom, a quoted string,
// a literal, NIL, or a parenthesized list.
type Value struct {
	Kind Kind
	Text string
	List []Value
}

// String returns the textual content of atoms, strings and literals.
// NIL and lists yield "".
func (v Value) String() string {
	switch v.Kind {
	case KindAtom, KindString, KindLiteral:
		return v.Text
	default:
		return ""
	}
}

// Response is one complete server response with literals inlined.
type Response struct {
	// Tag is "*" for untagged data, "+" for continuation requests and
	// the command tag otherwise.
	Tag string
	// Status is OK, NO, BAD, BYE or PREAUTH for status responses.
	Status string
	// Number is the leading number of "* n EXISTS" and "* n FETCH".
	Number uint32
	// Type is the data type of untagged data (SEARCH, FETCH, EXISTS ...).
	Type string
	// Text is the human readable remainder of status responses.
	Text string
	// Fields holds the parsed arguments of data responses.
	Fields []Value
	// Raw is the response as received, for diagnostics.
	Raw string
}

// IsUntagged reports whether the response is untagged.
func (r *Response) IsUntagged() bool { return r.Tag == "*" }

// IsContinuation reports whether the response is a "+" request.
func (r *Response) IsContinuation() bool { return r.Tag == "+" }

var errUnexpectedEnd = errors.New("unexpected end of response")

// parser tokenizes a logical response. Literals appear in the buffer
// exactly as on the wire: "{n}\r\n" followed by n raw bytes.
type parser struct {
	b   []byte
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.b) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.b[p.pos]
}

func (p *parser) skipSpaces() {
	for !p.eof() && p.b[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) rest() string {
	if p.eof() {
		return ""
	}
	return string(p.b[p.pos:])
}

func isAtomChar(c byte) bool {
	switch c {
	case ' ', '(', ')', '{', '"', '\r', '\n':
		return false
	}
	return c > 0x1f && c != 0x7f
}

// readAtom reads an atom. Bracketed sections such as
// BODY[HEADER.FIELDS (FROM TO)] and partial ranges like <0.100> are
// consumed as part of the atom even though they contain spaces.
func (p *parser) readAtom() (string, error) {
	start := p.pos
	for !p.eof() {
		c := p.b[p.pos]
		if c == '[' {
			end := bytes.IndexByte(p.b[p.pos:], ']')
			if end < 0 {
				return "", fmt.Errorf("unterminated section in %q", p.b[start:])
			}
			p.pos += end + 1
			continue
		}
		if c == '<' {
			end := bytes.IndexByte(p.b[p.pos:], '>')
			if end < 0 {
				return "", fmt.Errorf("unterminated partial in %q", p.b[start:])
			}
			p.pos += end + 1
			continue
		}
		if c == ']' || !isAtomChar(c) {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("expected atom at offset %d", start)
	}
	return string(p.b[start:p.pos]), nil
}

func (p *parser) readQuoted() (string, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for !p.eof() {
		c := p.b[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.b) {
				return "", errUnexpectedEnd
			}
			sb.WriteByte(p.b[p.pos+1])
			p.pos += 2
		case '"':
			p.pos++
			return sb.String(), nil
		case '\r', '\n':
			return "", errors.New("line break in quoted string")
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", errUnexpectedEnd
}

func (p *parser) readLiteral() ([]byte, error) {
	n, next, ok := literalHeader(p.b[p.pos:])
	if !ok {
		return nil, fmt.Errorf("malformed literal at offset %d", p.pos)
	}
	p.pos += next
	if p.pos+n > len(p.b) {
		return nil, errUnexpectedEnd
	}
	lit := p.b[p.pos : p.pos+n]
	p.pos += n
	return lit, nil
}

func (p *parser) readList() ([]Value, error) {
	p.pos++ // (
	var items []Value
	for {
		p.skipSpaces()
		if p.eof() {
			return nil, errUnexpectedEnd
		}
		if p.peek() == ')' {
			p.pos++
			return items, nil
		}
		v, err := p.readValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
}

func (p *parser) readValue() (Value, error) {
	p.skipSpaces()
	if p.eof() {
		return Value{}, errUnexpectedEnd
	}
	switch p.peek() {
	case '(':
		list, err := p.readList()
		return Value{Kind: KindList, List: list}, err
	case '"':
		s, err := p.readQuoted()
		return Value{Kind: KindString, Text: s}, err
	case '{':
		lit, err := p.readLiteral()
		return Value{Kind: KindLiteral, Text: string(lit)}, err
	case '~':
		p.pos++
		lit, err := p.readLiteral()
		return Value{Kind: KindLiteral, Text: string(lit)}, err
	default:
		atom, err := p.readAtom()
		if err != nil {
			return Value{}, err
		}
		if strings.EqualFold(atom, "NIL") {
			return Value{Kind: KindNil}, nil
		}
		return Value{Kind: KindAtom, Text: atom}, nil
	}
}

// literalHeader parses "{n}\r\n" or "{n+}\r\n" at the start of b and
// returns n and the offset of the first literal byte.
func literalHeader(b []byte) (n int, next int, ok bool) {
	if len(b) < 4 || b[0] != '{' {
		return 0, 0, false
	}
	end := bytes.IndexByte(b, '}')
	if end < 2 {
		return 0, 0, false
	}
	digits := strings.TrimSuffix(string(b[1:end]), "+")
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, 0, false
	}
	rest := b[end+1:]
	switch {
	case bytes.HasPrefix(rest, []byte("\r\n")):
		return n, end + 3, true
	case bytes.HasPrefix(rest, []byte("\n")):
		return n, end + 2, true
	}
	return 0, 0, false
}

// trailingLiteral reports the size announced by a line ending in {n}.
func trailingLiteral(line string) (int, bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false
	}
	open := strings.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false
	}
	digits := strings.TrimSuffix(line[open+1:len(line)-1], "+")
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ParseResponse parses one logical response as assembled by the reader.
func ParseResponse(raw []byte) (*Response, error) {
	p := &parser{b: raw}
	resp := &Response{Raw: string(raw)}

	if p.peek() == '+' {
		p.pos++
		p.skipSpaces()
		resp.Tag = "+"
		resp.Text = p.rest()
		return resp, nil
	}

	tag, err := p.readAtom()
	if err != nil {
		return nil, fmt.Errorf("missing tag: %w", err)
	}
	resp.Tag = tag
	p.skipSpaces()

	first, err := p.readAtom()
	if err != nil {
		return nil, fmt.Errorf("missing response type: %w", err)
	}
	p.skipSpaces()

	if !resp.IsUntagged() {
		resp.Status = strings.ToUpper(first)
		resp.Text = p.rest()
		return resp, nil
	}

	if n, err := strconv.ParseUint(first, 10, 32); err == nil {
		resp.Number = uint32(n)
		typ, err := p.readAtom()
		if err != nil {
			return nil, fmt.Errorf("missing data type after %d: %w", n, err)
		}
		resp.Type = strings.ToUpper(typ)
		for {
			p.skipSpaces()
			if p.eof() {
				break
			}
			v, err := p.readValue()
			if err != nil {
				return nil, fmt.Errorf("malformed %s data: %w", resp.Type, err)
			}
			resp.Fields = append(resp.Fields, v)
		}
		return resp, nil
	}

	upper := strings.ToUpper(first)
	switch upper {
	case "OK", "NO", "BAD", "BYE", "PREAUTH":
		resp.Status = upper
		resp.Text = p.rest()
	case "SEARCH":
		resp.Type = upper
		for _, f := range strings.Fields(p.rest()) {
			resp.Fields = append(resp.Fields, Value{Kind: KindAtom, Text: f})
		}
	default:
		resp.Type = upper
		resp.Text = p.rest()
	}
	return resp, nil
}
