package lmtp

import (
	"fmt"
	"log/slog"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/smtp"
)

// DataLineDeliverHandler ends the LMTP data phase. The MessageHooks see the
// message first; a rejection there is repeated for every recipient.
// Otherwise each recipient is answered by the DeliverToRecipientHooks, or
// with the MessageHook outcome when none are wired.
type DataLineDeliverHandler struct {
	messages wren.Hooks[smtp.MessageHook]
	deliver  wren.Hooks[DeliverToRecipientHook]
}

func (h *DataLineDeliverHandler) WireExtensions(handlers []any) error {
	h.messages = wren.CollectHooks[smtp.MessageHook](handlers)
	h.deliver = wren.CollectHooks[DeliverToRecipientHook](handlers)
	return nil
}

// OnMessageLine collects the message and answers once per recipient.
func (h *DataLineDeliverHandler) OnMessageLine(s *smtp.Session, line []byte) (*wren.Response, error) {
	if !smtp.AppendDataLine(s, line) {
		return nil, nil
	}
	s.PopLineHandler()
	defer s.ResetTransaction()

	var replies []wren.Response
	if smtp.SizeExceededKey.Has(s.Session) {
		replies = repeat(*smtp.SizeExceededReply(), len(s.Recipients()))
	} else {
		replies = h.replies(s, smtp.NewMail(s))
	}

	// Every reply but the last is written here; the dispatcher writes the
	// last one and honors its EndSession.
	t := s.Transport()
	for _, resp := range replies[:len(replies)-1] {
		resp.EndSession = false
		if err := t.WriteResponse(resp); err != nil {
			return nil, fmt.Errorf("lmtp: write recipient reply: %w", err)
		}
	}
	last := replies[len(replies)-1]
	return &last, nil
}

// replies runs the hooks on mail and returns one reply per recipient.
func (h *DataLineDeliverHandler) replies(s *smtp.Session, mail *smtp.Mail) []wren.Response {
	res, decided := smtp.RunMessageHooks(h.messages, s, mail)
	if decided && !res.Accepted() {
		return repeat(*res.Response(), len(mail.Envelope.To))
	}
	if len(h.deliver) == 0 {
		aggregate := res.Response()
		if !decided {
			aggregate = wren.Replyf(wren.CodeOK, wren.ESCMessageAccepted, "Message received <%s>", mail.ID)
		}
		return repeat(*aggregate, len(mail.Envelope.To))
	}
	replies := make([]wren.Response, len(mail.Envelope.To))
	for i, rcpt := range mail.Envelope.To {
		replies[i] = h.deliverTo(s, rcpt, mail)
	}
	return replies
}

func repeat(resp wren.Response, n int) []wren.Response {
	replies := make([]wren.Response, n)
	for i := range replies {
		replies[i] = resp
	}
	return replies
}

func (h *DataLineDeliverHandler) deliverTo(s *smtp.Session, rcpt smtp.Path, mail *smtp.Mail) wren.Response {
	res, decided := h.deliver.Run(func(hook DeliverToRecipientHook) wren.HookResult {
		return hook.Deliver(s, rcpt, mail)
	})
	s.Logger().Debug("recipient delivery",
		slog.String("id", mail.ID),
		slog.String("rcpt", rcpt.String()),
		slog.String("result", res.Action.String()),
	)

	switch {
	case !decided:
		return wren.Response{
			Code:         wren.CodeLocalError,
			EnhancedCode: wren.ESCTempLocalError,
			Message:      fmt.Sprintf("No delivery for %s", rcpt),
		}
	case res.Accepted() && res.Message == "":
		return wren.Response{
			Code:         wren.CodeOK,
			EnhancedCode: wren.ESCMessageAccepted,
			Message:      fmt.Sprintf("%s Ok", rcpt),
		}
	default:
		return *res.Response()
	}
}
