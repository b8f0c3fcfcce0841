package smtp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/dns"
	"github.com/synqronlabs/wren/utils"
)

// Transaction attachments private to the data phase.
var (
	dataSizeKey      = wren.TransactionKey[int64]("smtp.data_size")
	receivedAddedKey = wren.TransactionKey[bool]("smtp.received_added")
	remoteHostKey    = wren.ConnectionKey[string]("smtp.remote_host")
)

// DataCmdHandler handles DATA. It pushes the data phase interpreter built
// from every DataLineFilter of the chain, in chain order, ending in the
// last MessageLineHandler.
type DataCmdHandler struct {
	hooks    wren.Hooks[DataHook]
	pipeline LineHandler
}

func (h *DataCmdHandler) Commands() []string { return []string{"DATA"} }

func (h *DataCmdHandler) WireExtensions(handlers []any) error {
	terminals := wren.HandlersOf[MessageLineHandler](handlers)
	if len(terminals) == 0 {
		return &wren.WiringError{Handler: "DataCmdHandler", Capability: "MessageLineHandler"}
	}
	h.hooks = wren.CollectHooks[DataHook](handlers)

	var next LineHandler = wren.LineHandlerFunc[*Session](terminals[len(terminals)-1].OnMessageLine)
	filters := wren.HandlersOf[DataLineFilter](handlers)
	for i := len(filters) - 1; i >= 0; i-- {
		f, n := filters[i], next
		next = wren.LineHandlerFunc[*Session](func(s *Session, line []byte) (*wren.Response, error) {
			return f.OnDataLine(s, line, n)
		})
	}
	h.pipeline = next
	return nil
}

func (h *DataCmdHandler) OnCommand(s *Session, cmd wren.Command) (*wren.Response, error) {
	if cmd.Args != "" {
		return wren.Reply(wren.CodeSyntaxError, wren.ESCInvalidArgs, "Unexpected argument provided with DATA command"), nil
	}
	if _, ok := s.Sender(); !ok {
		return wren.Reply(wren.CodeBadSequence, wren.ESCBadCommandSequence, "No sender specified"), nil
	}
	if len(s.Recipients()) == 0 {
		return wren.Reply(wren.CodeBadSequence, wren.ESCBadCommandSequence, "No recipients specified"), nil
	}

	res, decided := h.hooks.Run(func(hook DataHook) wren.HookResult { return hook.DoData(s) })
	if resp, ok := decide(res, decided); !ok {
		return resp, nil
	}

	DataBufferKey.Set(s.Session, new(bytes.Buffer))
	s.PushLineHandler(h.pipeline)
	return wren.Reply(wren.CodeStartMailInput, "", "Ok Send data ending with <CRLF>.<CRLF>"), nil
}

// AppendDataLine adds one data phase line to the message buffer, undoing
// dot-stuffing (RFC 5321 Section 4.5.2). It returns true on the end-of-data
// marker, which is not added.
func AppendDataLine(s *Session, line []byte) bool {
	if len(line) == 1 && line[0] == '.' {
		return true
	}
	if len(line) > 1 && line[0] == '.' {
		line = line[1:]
	}
	buf, ok := DataBufferKey.Get(s.Session)
	if !ok {
		buf = new(bytes.Buffer)
		DataBufferKey.Set(s.Session, buf)
	}
	buf.Write(line)
	buf.WriteString("\r\n")
	return false
}

// NewMail builds the Mail of the current transaction.
func NewMail(s *Session) *Mail {
	sender, _ := s.Sender()
	params, _ := MailParamsKey.Get(s.Session)
	size, _ := DeclaredSizeKey.Get(s.Session)

	m := &Mail{
		ID: utils.GenerateID(),
		Envelope: Envelope{
			From:     sender,
			To:       s.Recipients(),
			BodyType: BodyType(strings.ToUpper(params["BODY"])),
			Size:     size,
			Params:   params,
		},
		ReceivedAt: time.Now(),
		HeloName:   s.HeloName(),
		RemoteAddr: s.RemoteAddr().String(),
	}
	if buf, ok := DataBufferKey.Get(s.Session); ok {
		m.Raw = buf.Bytes()
	}
	m.Headers, _ = parseMessageContent(m.Raw)
	return m
}

// DataLineMessageHookHandler collects the message and hands it to the
// MessageHooks once the end-of-data marker arrives.
type DataLineMessageHookHandler struct {
	hooks wren.Hooks[MessageHook]
}

func (h *DataLineMessageHookHandler) WireExtensions(handlers []any) error {
	h.hooks = wren.CollectHooks[MessageHook](handlers)
	return nil
}

func (h *DataLineMessageHookHandler) OnMessageLine(s *Session, line []byte) (*wren.Response, error) {
	if !AppendDataLine(s, line) {
		return nil, nil
	}
	s.PopLineHandler()
	defer s.ResetTransaction()
	if SizeExceededKey.Has(s.Session) {
		return SizeExceededReply(), nil
	}

	mail := NewMail(s)
	res, decided := RunMessageHooks(h.hooks, s, mail)
	if resp, _ := decide(res, decided); resp != nil {
		return resp, nil
	}
	return wren.Replyf(wren.CodeOK, wren.ESCMessageAccepted, "Message received <%s>", mail.ID), nil
}

// RunMessageHooks runs hooks on mail and logs the outcome.
func RunMessageHooks(hooks wren.Hooks[MessageHook], s *Session, mail *Mail) (wren.HookResult, bool) {
	res, decided := hooks.Run(func(hook MessageHook) wren.HookResult { return hook.OnMessage(s, mail) })
	s.Logger().Info("message received",
		slog.String("id", mail.ID),
		slog.String("from", mail.Envelope.From.String()),
		slog.Int("recipients", len(mail.Envelope.To)),
		slog.Int("size", len(mail.Raw)),
		slog.String("result", res.Action.String()),
	)
	return res, decided
}

// ReceivedDataLineFilter prepends a Received trace header (RFC 5321
// Section 4.4) to the message.
type ReceivedDataLineFilter struct{}

func (f *ReceivedDataLineFilter) OnDataLine(s *Session, line []byte, next LineHandler) (*wren.Response, error) {
	if !receivedAddedKey.Has(s.Session) && !SizeExceededKey.Has(s.Session) {
		receivedAddedKey.Set(s.Session, true)
		for _, hdr := range receivedHeader(s, time.Now()) {
			if resp, err := next.OnLine(s, []byte(hdr)); resp != nil || err != nil {
				return resp, err
			}
		}
	}
	return next.OnLine(s, line)
}

func receivedHeader(s *Session, now time.Time) []string {
	cfg := s.Config()
	ip := s.RemoteIP()

	from := fmt.Sprintf("Received: from %s", s.HeloName())
	if host := remoteHost(s); host != "" {
		from += fmt.Sprintf(" (%s [%s])", host, ip)
	} else {
		from += fmt.Sprintf(" ([%s])", ip)
	}

	lines := []string{
		from,
		fmt.Sprintf("\tby %s (%s) with %s ID %s", cfg.HelloName, cfg.SoftwareName, s.protocolName(), s.ID()),
	}
	if info := s.TLSInfo(); info != nil {
		lines = append(lines, fmt.Sprintf("\t(using %s)", info))
	}
	if rcpts := s.Recipients(); len(rcpts) == 1 {
		lines = append(lines, fmt.Sprintf("\tfor %s", rcpts[0]))
	}
	lines[len(lines)-1] += ";"
	return append(lines, "\t"+now.Format(time.RFC1123Z))
}

// remoteHost returns the reverse DNS name of the client, looked up once
// per connection when a resolver is configured.
func remoteHost(s *Session) string {
	if host, ok := remoteHostKey.Get(s.Session); ok {
		return host
	}
	r := s.Config().Resolver
	if r == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(s.Context(), 5*time.Second)
	defer cancel()

	host, err := dns.ReverseLookup(ctx, r, s.RemoteAddr())
	if err != nil {
		s.Logger().Debug("reverse lookup failed", slog.Any("error", err))
		host = ""
	}
	remoteHostKey.Set(s.Session, host)
	return host
}
