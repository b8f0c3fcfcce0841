package wren

import (
	"fmt"
	"strings"
)

// SMTPCode represents SMTP reply codes (RFC 5321).
// 2yz: Success, 3yz: Continue, 4yz: Transient failure, 5yz: Permanent failure.
type SMTPCode int

const (
	// 2xx - Success
	CodeSystemStatus            SMTPCode = 211
	CodeHelpMessage             SMTPCode = 214
	CodeServiceReady            SMTPCode = 220
	CodeServiceClosing          SMTPCode = 221
	CodeOK                      SMTPCode = 250
	CodeUserNotLocalWillForward SMTPCode = 251
	CodeCannotVRFY              SMTPCode = 252

	// 3xx - Intermediate
	CodeStartMailInput SMTPCode = 354

	// 4xx - Transient Failure
	CodeServiceUnavailable        SMTPCode = 421
	CodeMailboxUnavailable        SMTPCode = 450
	CodeLocalError                SMTPCode = 451
	CodeInsufficientStorage       SMTPCode = 452
	CodeUnableToAccommodateParams SMTPCode = 455

	// 5xx - Permanent Failure
	CodeCommandUnrecognized   SMTPCode = 500
	CodeSyntaxError           SMTPCode = 501
	CodeCommandNotImplemented SMTPCode = 502
	CodeBadSequence           SMTPCode = 503
	CodeParameterNotImpl      SMTPCode = 504
	CodeMailboxNotFound       SMTPCode = 550
	CodeExceededStorage       SMTPCode = 552
	CodeMailboxNameInvalid    SMTPCode = 553
	CodeTransactionFailed     SMTPCode = 554
	CodeParamsNotRecognized   SMTPCode = 555
)

// Class returns the first digit of the code.
func (c SMTPCode) Class() int {
	return int(c) / 100
}

// EnhancedCode represents an enhanced status code (RFC 3463, RFC 2034).
// Format: "class.subject.detail" (e.g., "2.1.5").
type EnhancedCode string

const (
	// Success (2.x.x)
	ESCSuccess         EnhancedCode = "2.0.0"
	ESCAddressValid    EnhancedCode = "2.1.0"
	ESCRecipientValid  EnhancedCode = "2.1.5"
	ESCMessageAccepted EnhancedCode = "2.6.0"

	// Transient Failure (4.x.x)
	ESCTempFailure             EnhancedCode = "4.0.0"
	ESCTempLocalError          EnhancedCode = "4.3.0"
	ESCTempInsufficientStorage EnhancedCode = "4.3.1"
	ESCTempTooManyRecipients   EnhancedCode = "4.5.3"
	ESCTempSecurity            EnhancedCode = "4.7.0"

	// Permanent Failure (5.x.x)
	ESCPermFailure        EnhancedCode = "5.0.0"
	ESCBadDestMailbox     EnhancedCode = "5.1.1"
	ESCBadDestSystem      EnhancedCode = "5.1.2"
	ESCBadDestSyntax      EnhancedCode = "5.1.3"
	ESCBadSenderSyntax    EnhancedCode = "5.1.7"
	ESCBadSenderSystem    EnhancedCode = "5.1.8"
	ESCMessageTooLarge    EnhancedCode = "5.2.3"
	ESCMailSystemFull     EnhancedCode = "5.3.4"
	ESCInvalidCommand     EnhancedCode = "5.5.0"
	ESCBadCommandSequence EnhancedCode = "5.5.1"
	ESCSyntaxError        EnhancedCode = "5.5.2"
	ESCInvalidArgs        EnhancedCode = "5.5.4"
	ESCSecurityError      EnhancedCode = "5.7.0"
	ESCDeliveryNotAuth    EnhancedCode = "5.7.1"
)

// String returns the enhanced code as a string.
func (e EnhancedCode) String() string {
	return string(e)
}

// ForClass adjusts the enhanced code class to match the response code (RFC 2034).
func (e EnhancedCode) ForClass(class int) EnhancedCode {
	if len(e) < 1 {
		return e
	}
	switch class {
	case 2, 4, 5:
		return EnhancedCode(fmt.Sprintf("%d%s", class, e[1:]))
	default:
		return e
	}
}

// Response is one reply written to the client. Message is the first line;
// Lines, when present, follow it and turn the reply into a multi-line reply
// sharing the same code.
type Response struct {
	Code         SMTPCode
	EnhancedCode EnhancedCode
	Message      string
	Lines        []string

	// EndSession closes the connection once the reply has been flushed.
	EndSession bool
}

// String formats the first reply line without terminator.
func (r Response) String() string {
	return r.line(r.Message, ' ')
}

func (r Response) line(text string, sep byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d%c", r.Code, sep)
	if r.EnhancedCode != "" {
		b.WriteString(string(r.EnhancedCode))
		if text != "" {
			b.WriteByte(' ')
		}
	}
	b.WriteString(text)
	return b.String()
}

// Format returns every wire line of the reply without terminators. All but
// the last line carry a '-' after the code.
func (r Response) Format() []string {
	texts := append([]string{r.Message}, r.Lines...)
	out := make([]string, len(texts))
	for i, text := range texts {
		sep := byte('-')
		if i == len(texts)-1 {
			sep = ' '
		}
		out[i] = r.line(text, sep)
	}
	return out
}

// Bytes returns the CRLF terminated wire form of the reply.
func (r Response) Bytes() []byte {
	var b []byte
	for _, l := range r.Format() {
		b = append(b, l...)
		b = append(b, '\r', '\n')
	}
	return b
}

// IsError returns true for 4xx or 5xx codes.
func (r Response) IsError() bool {
	return r.Code >= 400
}

// IsSuccess returns true for 2xx codes.
func (r Response) IsSuccess() bool {
	return r.Code >= 200 && r.Code < 300
}

// IsTransientError returns true for 4xx codes.
func (r Response) IsTransientError() bool {
	return r.Code >= 400 && r.Code < 500
}

// IsPermanentError returns true for 5xx codes.
func (r Response) IsPermanentError() bool {
	return r.Code >= 500
}

// Reply builds a single line response.
func Reply(code SMTPCode, ec EnhancedCode, message string) *Response {
	return &Response{Code: code, EnhancedCode: ec, Message: message}
}

// Replyf is Reply with a format string.
func Replyf(code SMTPCode, ec EnhancedCode, format string, args ...any) *Response {
	return Reply(code, ec, fmt.Sprintf(format, args...))
}

// ResponseServiceReady creates a 220 service ready response.
// The domain must be the first word after the code.
func ResponseServiceReady(domain string, message string) Response {
	msg := domain
	if message != "" {
		msg = domain + " " + message
	}
	return Response{
		Code:    CodeServiceReady,
		Message: msg,
	}
}

// ResponseServiceClosing creates a 221 service closing response.
func ResponseServiceClosing(domain string, message string) Response {
	msg := domain
	if message != "" {
		msg = domain + " " + message
	}
	return Response{
		Code:         CodeServiceClosing,
		EnhancedCode: ESCSuccess,
		Message:      msg,
		EndSession:   true,
	}
}

// ResponseServiceUnavailable creates a 421 response that ends the session.
func ResponseServiceUnavailable(message string) Response {
	return Response{
		Code:         CodeServiceUnavailable,
		EnhancedCode: ESCTempFailure,
		Message:      message,
		EndSession:   true,
	}
}

// ResponseLocalError creates the 451 reply sent before a connection is
// dropped after an internal failure.
func ResponseLocalError(message string) Response {
	return Response{
		Code:         CodeLocalError,
		EnhancedCode: ESCTempLocalError,
		Message:      message,
		EndSession:   true,
	}
}

// ResponseCommandNotRecognized creates a 500 command not recognized response.
func ResponseCommandNotRecognized(command string) Response {
	return Response{
		Code:         CodeCommandUnrecognized,
		EnhancedCode: ESCInvalidCommand,
		Message:      fmt.Sprintf("Command %s unrecognized.", command),
	}
}

// ResponseBadSequence creates a 503 bad sequence of commands response.
func ResponseBadSequence(message string) Response {
	return Response{
		Code:         CodeBadSequence,
		EnhancedCode: ESCBadCommandSequence,
		Message:      message,
	}
}

// ResponseSyntaxError creates a 501 syntax error response.
func ResponseSyntaxError(message string) Response {
	return Response{
		Code:         CodeSyntaxError,
		EnhancedCode: ESCSyntaxError,
		Message:      message,
	}
}

// ResponseCommandNotImplemented creates a 502 command not implemented response.
func ResponseCommandNotImplemented(command string) Response {
	return Response{
		Code:         CodeCommandNotImplemented,
		EnhancedCode: ESCInvalidCommand,
		Message:      fmt.Sprintf("%s is not supported", command),
	}
}

// ResponseExceededStorage creates a 552 exceeded storage response.
func ResponseExceededStorage(message string) Response {
	if message == "" {
		message = "Requested mail action aborted: exceeded storage allocation"
	}
	return Response{
		Code:         CodeExceededStorage,
		EnhancedCode: ESCMailSystemFull,
		Message:      message,
	}
}
