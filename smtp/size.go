package smtp

import (
	"fmt"
	"strconv"

	"github.com/synqronlabs/wren"
)

// MailSizeEsmtpExtension implements the SIZE extension (RFC 1870): it
// advertises the limit, checks the SIZE parameter of MAIL and enforces
// the limit while the message is received.
type MailSizeEsmtpExtension struct{}

// EhloKeywords advertises SIZE with the configured limit.
func (MailSizeEsmtpExtension) EhloKeywords(s *Session) []string {
	if limit := s.Config().MaxMessageSize; limit > 0 {
		return []string{fmt.Sprintf("SIZE %d", limit)}
	}
	return nil
}

func (MailSizeEsmtpExtension) MailParameters() []string { return []string{"SIZE"} }

// DoMailParameter checks the declared size against the limit.
func (MailSizeEsmtpExtension) DoMailParameter(s *Session, name, value string) wren.HookResult {
	size, err := strconv.ParseInt(value, 10, 64)
	if err != nil || size < 0 {
		s.Logger().Debug("invalid SIZE parameter")
		return wren.Deny(wren.CodeSyntaxError, wren.ESCInvalidArgs, "Syntactically incorrect value for SIZE parameter")
	}
	if limit := s.Config().MaxMessageSize; limit > 0 && size > limit {
		return wren.Deny(wren.CodeExceededStorage, wren.ESCMailSystemFull, "Message size exceeds fixed maximum message size")
	}
	DeclaredSizeKey.Set(s.Session, size)
	return wren.Declined()
}

// OnDataLine counts message bytes. Once the limit is passed lines are
// dropped and SizeExceededKey is set; the end-of-data marker still reaches
// the MessageLineHandler, which answers it.
func (MailSizeEsmtpExtension) OnDataLine(s *Session, line []byte, next LineHandler) (*wren.Response, error) {
	limit := s.Config().MaxMessageSize
	if limit <= 0 {
		return next.OnLine(s, line)
	}

	if len(line) == 1 && line[0] == '.' {
		return next.OnLine(s, line)
	}
	if SizeExceededKey.Has(s.Session) {
		return nil, nil
	}

	size, _ := dataSizeKey.Get(s.Session)
	size += int64(len(line)) + 2
	dataSizeKey.Set(s.Session, size)
	if size > limit {
		SizeExceededKey.Set(s.Session, true)
		DataBufferKey.Delete(s.Session)
		return nil, nil
	}
	return next.OnLine(s, line)
}

// SizeExceededReply answers the end-of-data marker of a message that passed
// MaxMessageSize.
func SizeExceededReply() *wren.Response {
	resp := wren.ResponseExceededStorage("Error processing message: Message size exceeds fixed maximum message size")
	return &resp
}
