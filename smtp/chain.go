package smtp

import "github.com/synqronlabs/wren"

// RequiredCommands must be handled by every chain built here.
var RequiredCommands = []string{"MAIL", "RCPT", "DATA"}

// DefaultHandlers returns a fresh SMTP handler list. Data line filters run
// in list order: the size limit sees client bytes before the Received
// header is added.
func DefaultHandlers() []any {
	return []any{
		&WelcomeMessageHandler{Protocol: "ESMTP"},
		&HeloCmdHandler{},
		NewEhloCmdHandler(ModeEhlo),
		&MailCmdHandler{},
		&RcptCmdHandler{},
		&DataCmdHandler{},
		RsetCmdHandler{},
		NoopCmdHandler{},
		&QuitCmdHandler{},
		&UnsupportedCmdHandler{Verbs: []string{"VRFY", "EXPN"}},
		&HelpCmdHandler{},
		StartTlsCmdHandler{},
		&UnknownCmdHandler{},
		MailSizeEsmtpExtension{},
		&ReceivedDataLineFilter{},
		&DataLineMessageHookHandler{},
	}
}

// NewChain wires handlers into an SMTP handler chain.
func NewChain(handlers []any) (*wren.HandlerChain[*Session], error) {
	return wren.NewHandlerChain[*Session](handlers, RequiredCommands...)
}
