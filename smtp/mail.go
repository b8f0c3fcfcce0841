package smtp

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/synqronlabs/wren/utils"
)

// BodyType specifies the encoding type of the message body per RFC 6152.
type BodyType string

const (
	// BodyType7Bit indicates a 7-bit ASCII message body (RFC 5321 compliant).
	BodyType7Bit BodyType = "7BIT"
	// BodyType8BitMIME indicates an 8-bit MIME message body (RFC 6152).
	BodyType8BitMIME BodyType = "8BITMIME"
)

// MailboxAddress represents an email address as per RFC 5321 Section 4.1.2.
type MailboxAddress struct {
	// LocalPart is the portion before the @ sign.
	LocalPart string
	// Domain is the portion after the @ sign.
	Domain string
}

// String returns the address in the standard "local-part@domain" format.
func (m MailboxAddress) String() string {
	if m.LocalPart == "" && m.Domain == "" {
		return ""
	}
	return m.LocalPart + "@" + m.Domain
}

// Path represents an SMTP forward-path or reverse-path as per RFC 5321 Section 4.1.2.
type Path struct {
	Mailbox MailboxAddress
}

// IsNull returns true if this is a null reverse-path (empty sender).
// Null reverse-paths are used for bounce messages per RFC 5321 Section 4.5.5.
func (p Path) IsNull() bool {
	return p.Mailbox.LocalPart == "" && p.Mailbox.Domain == ""
}

// String returns the path in angle bracket format as used in SMTP commands.
func (p Path) String() string {
	if p.IsNull() {
		return "<>"
	}
	return "<" + p.Mailbox.String() + ">"
}

// Domain returns the lower-cased domain of the mailbox.
func (p Path) Domain() string {
	return strings.ToLower(p.Mailbox.Domain)
}

// ParseAddress parses "local@domain" into a MailboxAddress.
func ParseAddress(addr string) (MailboxAddress, error) {
	parsed, err := mail.ParseAddress("<" + addr + ">")
	if err != nil {
		return MailboxAddress{}, err
	}
	i := strings.LastIndexByte(parsed.Address, '@')
	if i <= 0 || i == len(parsed.Address)-1 {
		return MailboxAddress{}, fmt.Errorf("missing domain in %q", addr)
	}
	return MailboxAddress{
		LocalPart: parsed.Address[:i],
		Domain:    parsed.Address[i+1:],
	}, nil
}

// MustPath parses addr and panics on failure. For tests and constants.
func MustPath(addr string) Path {
	mb, err := ParseAddress(addr)
	if err != nil {
		panic(err)
	}
	return Path{Mailbox: mb}
}

var errMissingBrackets = errors.New("missing angle brackets")

// splitPath separates "<addr> PARAMS" into the address and the parameter
// string. Without brackets the first word is the address, unless strict.
func splitPath(s string, strict bool) (addr, params string, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.IndexByte(s, '>')
		if end == -1 {
			return "", "", errMissingBrackets
		}
		return s[1:end], strings.TrimSpace(s[end+1:]), nil
	}
	if strict {
		return "", "", errMissingBrackets
	}
	addr, params, _ = strings.Cut(s, " ")
	return addr, strings.TrimSpace(params), nil
}

// stripSourceRoute drops a deprecated "@a,@b:" source route (RFC 5321 Appendix C).
func stripSourceRoute(addr string) string {
	if strings.HasPrefix(addr, "@") {
		if i := strings.IndexByte(addr, ':'); i != -1 {
			return addr[i+1:]
		}
	}
	return addr
}

// parseParams parses ESMTP parameters. Per RFC 3461 Section 4.5,
// duplicate parameters are rejected.
func parseParams(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	params := make(map[string]string)
	for param := range strings.FieldsSeq(s) {
		key, value, _ := strings.Cut(param, "=")
		key = strings.ToUpper(key)
		if _, exists := params[key]; exists {
			return nil, fmt.Errorf("duplicate parameter: %s", key)
		}
		params[key] = value
	}
	return params, nil
}

// Header is one message header field.
type Header struct {
	Name  string
	Value string
}

// Headers is a collection of message headers with helper methods.
type Headers []Header

// Get returns the first header value with the given name (case-insensitive).
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// GetAll returns all header values with the given name (case-insensitive).
func (h Headers) GetAll(name string) []string {
	var values []string
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			values = append(values, hdr.Value)
		}
	}
	return values
}

// Envelope represents the SMTP envelope as per RFC 5321 Section 2.3.1.
type Envelope struct {
	// From is the reverse-path given in MAIL. May be null for bounces.
	From Path
	// To lists the forward-paths accepted by RCPT.
	To []Path
	// BodyType is the BODY parameter of MAIL, if any.
	BodyType BodyType
	// Size is the SIZE parameter of MAIL. Zero means none was declared.
	Size int64
	// Params holds every MAIL parameter, upper-cased names.
	Params map[string]string
}

// Mail is a message received in one transaction.
type Mail struct {
	ID         string
	Envelope   Envelope
	Headers    Headers
	Raw        []byte
	ReceivedAt time.Time

	// HeloName and RemoteAddr describe the client that sent the message.
	HeloName   string
	RemoteAddr string
}

// Body returns the part of Raw after the header section.
func (m *Mail) Body() []byte {
	_, body := parseMessageContent(m.Raw)
	return body
}

// RequiresSMTPUTF8 reports whether an envelope address contains non-ASCII characters.
func (m *Mail) RequiresSMTPUTF8() bool {
	if utils.ContainsNonASCII(m.Envelope.From.Mailbox.String()) {
		return true
	}
	for _, rcpt := range m.Envelope.To {
		if utils.ContainsNonASCII(rcpt.Mailbox.String()) {
			return true
		}
	}
	return false
}

// Requires8BitMIME reports whether the message contains 8-bit data.
func (m *Mail) Requires8BitMIME() bool {
	if m.Envelope.BodyType == BodyType8BitMIME {
		return true
	}
	for _, b := range m.Raw {
		if b > 127 {
			return true
		}
	}
	return false
}

// parseMessageContent parses raw message data into headers and body per RFC 5322.
// The header section is separated from the body by an empty line (CRLF CRLF).
func parseMessageContent(data []byte) (Headers, []byte) {
	var headerEnd int
	for i := 0; i < len(data)-3; i++ {
		if data[i] == '\r' && data[i+1] == '\n' && data[i+2] == '\r' && data[i+3] == '\n' {
			headerEnd = i + 2 // Points to the second CRLF
			break
		}
	}

	// If no empty line found, treat entire data as body (malformed message)
	if headerEnd == 0 {
		return nil, data
	}

	headers := make(Headers, 0, max(headerEnd/50, 8))
	var currentName, currentValue string

	for line := range strings.SplitSeq(string(data[:headerEnd-2]), "\r\n") {
		if line == "" {
			continue
		}
		// Continuation of previous header (folded header per RFC 5322)
		if line[0] == ' ' || line[0] == '\t' {
			if currentName != "" {
				currentValue += " " + strings.TrimSpace(line)
			}
			continue
		}
		if currentName != "" {
			headers = append(headers, Header{Name: currentName, Value: currentValue})
		}
		if name, value, found := strings.Cut(line, ":"); found {
			currentName = strings.TrimSpace(name)
			currentValue = strings.TrimSpace(value)
		} else {
			currentName, currentValue = "", ""
		}
	}
	if currentName != "" {
		headers = append(headers, Header{Name: currentName, Value: currentValue})
	}

	return headers, data[headerEnd+2:]
}
