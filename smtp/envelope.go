package smtp

import (
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/synqronlabs/wren"
)

// MailCmdHandler handles MAIL FROM.
type MailCmdHandler struct {
	hooks      wren.Hooks[MailHook]
	paramHooks map[string]MailParametersHook
}

func (h *MailCmdHandler) Commands() []string { return []string{"MAIL"} }

func (h *MailCmdHandler) WireExtensions(handlers []any) error {
	h.hooks = wren.CollectHooks[MailHook](handlers)
	h.paramHooks = make(map[string]MailParametersHook)
	for _, ph := range wren.HandlersOf[MailParametersHook](handlers) {
		for _, name := range ph.MailParameters() {
			h.paramHooks[strings.ToUpper(name)] = ph
		}
	}
	return nil
}

func (h *MailCmdHandler) OnCommand(s *Session, cmd wren.Command) (*wren.Response, error) {
	cfg := s.Config()

	if _, ok := s.Sender(); ok {
		return wren.Reply(wren.CodeBadSequence, wren.ESCBadCommandSequence, "Sender already specified"), nil
	}
	if cfg.EnforceHeloEhlo && s.HeloMode() == "" {
		return wren.Reply(wren.CodeBadSequence, wren.ESCBadCommandSequence, "Need HELO or EHLO before MAIL"), nil
	}
	arg, found := cutPrefixFold(cmd.Args, "FROM:")
	if !found {
		return wren.Reply(wren.CodeSyntaxError, wren.ESCSyntaxError, "Usage: MAIL FROM:<sender>"), nil
	}

	addr, paramStr, err := splitPath(arg, cfg.EnforceAddressBrackets)
	if err != nil {
		return wren.Reply(wren.CodeSyntaxError, wren.ESCSyntaxError, "Syntax error in MAIL command"), nil
	}
	params, err := parseParams(paramStr)
	if err != nil {
		return wren.Replyf(wren.CodeSyntaxError, wren.ESCInvalidArgs, "Syntax error in parameters: %v", err), nil
	}

	var sender Path
	if addr = stripSourceRoute(addr); addr != "" {
		mb, err := ParseAddress(s.qualify(addr))
		if err != nil {
			return wren.Reply(wren.CodeMailboxNameInvalid, wren.ESCBadSenderSyntax, "Syntax error in sender address"), nil
		}
		sender = Path{Mailbox: mb}
	}

	s.ResetTransaction()

	for _, name := range slices.Sorted(maps.Keys(params)) {
		ph, ok := h.paramHooks[name]
		if !ok {
			s.Logger().Debug("ignoring unsupported MAIL parameter", slog.String("param", name))
			continue
		}
		if res := ph.DoMailParameter(s, name, params[name]); res.Decisive() && !res.Accepted() {
			return res.Response(), nil
		}
	}

	res, decided := h.hooks.Run(func(hook MailHook) wren.HookResult { return hook.DoMail(s, sender) })
	resp, ok := decide(res, decided)
	if ok {
		SenderKey.Set(s.Session, sender)
		if params != nil {
			MailParamsKey.Set(s.Session, params)
		}
	}
	if resp != nil {
		return resp, nil
	}
	return wren.Replyf(wren.CodeOK, wren.ESCAddressValid, "Sender %s OK", sender), nil
}

// RcptCmdHandler handles RCPT TO.
type RcptCmdHandler struct {
	hooks wren.Hooks[RcptHook]
}

func (h *RcptCmdHandler) Commands() []string { return []string{"RCPT"} }

func (h *RcptCmdHandler) WireExtensions(handlers []any) error {
	h.hooks = wren.CollectHooks[RcptHook](handlers)
	return nil
}

func (h *RcptCmdHandler) OnCommand(s *Session, cmd wren.Command) (*wren.Response, error) {
	cfg := s.Config()

	sender, ok := s.Sender()
	if !ok {
		return wren.Reply(wren.CodeBadSequence, wren.ESCBadCommandSequence, "Need MAIL before RCPT"), nil
	}
	arg, found := cutPrefixFold(cmd.Args, "TO:")
	if !found {
		return wren.Reply(wren.CodeSyntaxError, wren.ESCSyntaxError, "Usage: RCPT TO:<recipient>"), nil
	}

	addr, paramStr, err := splitPath(arg, cfg.EnforceAddressBrackets)
	if err != nil {
		return wren.Reply(wren.CodeSyntaxError, wren.ESCSyntaxError, "Syntax error in parameters or arguments"), nil
	}
	addr = stripSourceRoute(addr)
	if addr == "" {
		return wren.Reply(wren.CodeMailboxNameInvalid, wren.ESCBadDestSyntax, "Syntax error in recipient address"), nil
	}
	mb, err := ParseAddress(s.qualify(addr))
	if err != nil {
		return wren.Reply(wren.CodeMailboxNameInvalid, wren.ESCBadDestSyntax, "Syntax error in recipient address"), nil
	}
	if paramStr != "" {
		name, _, _ := strings.Cut(strings.Fields(paramStr)[0], "=")
		return wren.Replyf(wren.CodeParameterNotImpl, wren.ESCInvalidArgs, "Unrecognized or unsupported option: %s", name), nil
	}
	rcpt := Path{Mailbox: mb}

	res, decided := h.hooks.Run(func(hook RcptHook) wren.HookResult { return hook.DoRcpt(s, sender, rcpt) })
	resp, ok := decide(res, decided)
	if ok {
		RecipientsKey.Set(s.Session, append(slices.Clip(s.Recipients()), rcpt))
	}
	if resp != nil {
		return resp, nil
	}
	return wren.Replyf(wren.CodeOK, wren.ESCRecipientValid, "Recipient %s OK", rcpt), nil
}

// cutPrefixFold is strings.CutPrefix ignoring ASCII case. Spaces after the
// prefix are dropped.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}
