package smtp

import (
	"fmt"
	"slices"
	"strings"

	"github.com/synqronlabs/wren"
)

// WelcomeMessageHandler greets new connections after the ConnectHooks
// accepted them.
type WelcomeMessageHandler struct {
	// Protocol is the banner keyword, "ESMTP" or "LMTP".
	Protocol string

	hooks wren.Hooks[ConnectHook]
}

func (h *WelcomeMessageHandler) WireExtensions(handlers []any) error {
	h.hooks = wren.CollectHooks[ConnectHook](handlers)
	return nil
}

func (h *WelcomeMessageHandler) OnConnect(s *Session) (*wren.Response, error) {
	res, decided := h.hooks.Run(func(hook ConnectHook) wren.HookResult { return hook.DoConnect(s) })
	if resp, ok := decide(res, decided); !ok {
		// A rejected client is not kept waiting for a command.
		resp.EndSession = true
		return resp, nil
	}

	cfg := s.Config()
	greeting := cfg.Greeting
	if greeting == "" {
		greeting = fmt.Sprintf("%s %s Service ready", cfg.SoftwareName, h.Protocol)
	}
	resp := wren.ResponseServiceReady(cfg.HelloName, greeting)
	return &resp, nil
}

// HeloCmdHandler handles HELO.
type HeloCmdHandler struct {
	hooks wren.Hooks[HeloHook]
}

func (h *HeloCmdHandler) Commands() []string { return []string{ModeHelo} }

func (h *HeloCmdHandler) WireExtensions(handlers []any) error {
	h.hooks = wren.CollectHooks[HeloHook](handlers)
	return nil
}

func (h *HeloCmdHandler) OnCommand(s *Session, cmd wren.Command) (*wren.Response, error) {
	if cmd.Args == "" {
		return wren.Replyf(wren.CodeSyntaxError, wren.ESCInvalidArgs, "Domain address required: %s", cmd.Verb), nil
	}
	name := cmd.Args

	res, decided := h.hooks.Run(func(hook HeloHook) wren.HookResult { return hook.DoHelo(s, name) })
	resp, ok := decide(res, decided)
	if ok {
		s.setHelo(ModeHelo, name)
	}
	if resp != nil {
		return resp, nil
	}
	return wren.Replyf(wren.CodeOK, "", "%s Hello %s [%s]", s.Config().HelloName, name, s.RemoteIP()), nil
}

// EhloCmdHandler handles EHLO, or LHLO for LMTP. The reply lists the
// keywords of every EhloExtension in the chain.
type EhloCmdHandler struct {
	verb       string
	hooks      wren.Hooks[HeloHook]
	extensions []EhloExtension
}

// NewEhloCmdHandler returns the handler for verb, ModeEhlo or ModeLhlo.
func NewEhloCmdHandler(verb string) *EhloCmdHandler {
	return &EhloCmdHandler{verb: verb}
}

func (h *EhloCmdHandler) Commands() []string { return []string{h.verb} }

func (h *EhloCmdHandler) WireExtensions(handlers []any) error {
	h.hooks = wren.CollectHooks[HeloHook](handlers)
	h.extensions = wren.HandlersOf[EhloExtension](handlers)
	return nil
}

func (h *EhloCmdHandler) OnCommand(s *Session, cmd wren.Command) (*wren.Response, error) {
	if cmd.Args == "" {
		return wren.Replyf(wren.CodeSyntaxError, wren.ESCInvalidArgs, "Domain address required: %s", cmd.Verb), nil
	}
	name := cmd.Args

	res, decided := h.hooks.Run(func(hook HeloHook) wren.HookResult { return hook.DoHelo(s, name) })
	resp, ok := decide(res, decided)
	if ok {
		s.setHelo(h.verb, name)
	}
	if resp != nil {
		return resp, nil
	}

	lines := []string{"PIPELINING", "ENHANCEDSTATUSCODES", "8BITMIME"}
	for _, ext := range h.extensions {
		lines = append(lines, ext.EhloKeywords(s)...)
	}
	return &wren.Response{
		Code:    wren.CodeOK,
		Message: fmt.Sprintf("%s Hello %s [%s]", s.Config().HelloName, name, s.RemoteIP()),
		Lines:   lines,
	}, nil
}

// RsetCmdHandler handles RSET.
type RsetCmdHandler struct{}

func (RsetCmdHandler) Commands() []string { return []string{"RSET"} }

func (RsetCmdHandler) OnCommand(s *Session, cmd wren.Command) (*wren.Response, error) {
	s.ResetTransaction()
	return wren.Reply(wren.CodeOK, wren.ESCSuccess, "OK"), nil
}

// NoopCmdHandler handles NOOP.
type NoopCmdHandler struct{}

func (NoopCmdHandler) Commands() []string { return []string{"NOOP"} }

func (NoopCmdHandler) OnCommand(s *Session, cmd wren.Command) (*wren.Response, error) {
	return wren.Reply(wren.CodeOK, wren.ESCSuccess, "OK"), nil
}

// QuitCmdHandler handles QUIT. The connection is closed whatever the
// QuitHooks decide.
type QuitCmdHandler struct {
	hooks wren.Hooks[QuitHook]
}

func (h *QuitCmdHandler) Commands() []string { return []string{"QUIT"} }

func (h *QuitCmdHandler) WireExtensions(handlers []any) error {
	h.hooks = wren.CollectHooks[QuitHook](handlers)
	return nil
}

func (h *QuitCmdHandler) OnCommand(s *Session, cmd wren.Command) (*wren.Response, error) {
	if cmd.Args != "" {
		return wren.Reply(wren.CodeSyntaxError, wren.ESCInvalidArgs, "Unexpected argument provided with QUIT command"), nil
	}
	res, decided := h.hooks.Run(func(hook QuitHook) wren.HookResult { return hook.DoQuit(s) })
	if resp, _ := decide(res, decided); resp != nil {
		resp.EndSession = true
		return resp, nil
	}
	resp := wren.ResponseServiceClosing(s.Config().HelloName, "Service closing transmission channel")
	return &resp, nil
}

// UnsupportedCmdHandler answers 502 for commands the server recognizes
// but does not offer, VRFY and EXPN by default.
type UnsupportedCmdHandler struct {
	Verbs []string
}

func (h *UnsupportedCmdHandler) Commands() []string { return h.Verbs }

func (h *UnsupportedCmdHandler) OnCommand(s *Session, cmd wren.Command) (*wren.Response, error) {
	resp := wren.ResponseCommandNotImplemented(cmd.Verb)
	return &resp, nil
}

// HelpCmdHandler lists the commands of the chain.
type HelpCmdHandler struct {
	verbs []string
}

func (h *HelpCmdHandler) Commands() []string { return []string{"HELP"} }

func (h *HelpCmdHandler) WireExtensions(handlers []any) error {
	h.verbs = h.verbs[:0]
	for _, ch := range wren.HandlersOf[CommandHandler](handlers) {
		for _, v := range ch.Commands() {
			v = strings.ToUpper(v)
			if v != wren.UnknownCommand && !slices.Contains(h.verbs, v) {
				h.verbs = append(h.verbs, v)
			}
		}
	}
	slices.Sort(h.verbs)
	return nil
}

func (h *HelpCmdHandler) OnCommand(s *Session, cmd wren.Command) (*wren.Response, error) {
	cfg := s.Config()
	resp := wren.Response{
		Code:    wren.CodeHelpMessage,
		Message: fmt.Sprintf("%s %s", cfg.SoftwareName, cfg.HelloName),
		Lines: []string{
			"Topics:",
			"    " + strings.Join(h.verbs, " "),
			"For local information send email to postmaster at your site.",
			"End of HELP info",
		},
	}
	return nil, s.Transport().WriteStream(strings.NewReader(string(resp.Bytes())))
}

// UnknownCmdHandler answers commands no other handler registered for.
type UnknownCmdHandler struct {
	hooks wren.Hooks[UnknownHook]
}

func (h *UnknownCmdHandler) Commands() []string { return []string{wren.UnknownCommand} }

func (h *UnknownCmdHandler) WireExtensions(handlers []any) error {
	h.hooks = wren.CollectHooks[UnknownHook](handlers)
	return nil
}

func (h *UnknownCmdHandler) OnCommand(s *Session, cmd wren.Command) (*wren.Response, error) {
	res, decided := h.hooks.Run(func(hook UnknownHook) wren.HookResult { return hook.DoUnknown(s, cmd) })
	if resp, _ := decide(res, decided); resp != nil {
		return resp, nil
	}
	resp := wren.ResponseCommandNotRecognized(cmd.Verb)
	return &resp, nil
}
