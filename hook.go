package wren

// HookAction is the verdict of a hook.
type HookAction int

const (
	// HookDeclined leaves the decision to the next hook or to the handler.
	HookDeclined HookAction = iota
	// HookOK accepts the command; the handler still records its effect.
	HookOK
	// HookDeny rejects the command permanently.
	HookDeny
	// HookDenySoft rejects the command temporarily.
	HookDenySoft
	// HookDisconnect ends the connection.
	HookDisconnect
)

func (a HookAction) String() string {
	switch a {
	case HookDeclined:
		return "declined"
	case HookOK:
		return "ok"
	case HookDeny:
		return "deny"
	case HookDenySoft:
		return "denysoft"
	case HookDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// HookResult is what a hook returns. Code, EnhancedCode and Message
// override the default reply of the action when set. Disconnect closes
// the connection after the reply of a Deny or DenySoft.
type HookResult struct {
	Action       HookAction
	Code         SMTPCode
	EnhancedCode EnhancedCode
	Message      string
	Disconnect   bool
}

// Declined is the result of a hook with no opinion.
func Declined() HookResult {
	return HookResult{Action: HookDeclined}
}

// Accept returns an OK result with the default reply.
func Accept() HookResult {
	return HookResult{Action: HookOK}
}

// Deny returns a permanent rejection with a custom reply.
func Deny(code SMTPCode, ec EnhancedCode, message string) HookResult {
	return HookResult{Action: HookDeny, Code: code, EnhancedCode: ec, Message: message}
}

// DenySoft returns a temporary rejection with a custom reply.
func DenySoft(code SMTPCode, ec EnhancedCode, message string) HookResult {
	return HookResult{Action: HookDenySoft, Code: code, EnhancedCode: ec, Message: message}
}

// Decisive reports whether the result ends hook processing.
func (r HookResult) Decisive() bool {
	return r.Action != HookDeclined
}

// Accepted reports whether the result lets the command take effect.
func (r HookResult) Accepted() bool {
	return r.Action == HookOK
}

// Response converts a decisive result into the reply sent to the client.
func (r HookResult) Response() *Response {
	var resp Response
	switch r.Action {
	case HookOK:
		resp = Response{Code: CodeOK, EnhancedCode: ESCSuccess, Message: "Command accepted"}
	case HookDeny:
		resp = Response{Code: CodeTransactionFailed, EnhancedCode: ESCPermFailure, Message: "Email rejected"}
	case HookDenySoft:
		resp = Response{Code: CodeLocalError, EnhancedCode: ESCTempFailure, Message: "Temporary problem. Please try again later"}
	case HookDisconnect:
		resp = Response{Code: CodeServiceUnavailable, EnhancedCode: ESCTempFailure, Message: "Closing connection", EndSession: true}
	default:
		return nil
	}

	if r.Code != 0 {
		resp.Code = r.Code
		// A custom code without enhanced code must not inherit the default one.
		resp.EnhancedCode = r.EnhancedCode
	} else if r.EnhancedCode != "" {
		resp.EnhancedCode = r.EnhancedCode
	}
	if r.Message != "" {
		resp.Message = r.Message
	}
	if r.Disconnect {
		resp.EndSession = true
	}
	return &resp
}

// Hooks is an ordered list of hooks of one kind.
type Hooks[H any] []H

// CollectHooks returns every handler in the list implementing H.
func CollectHooks[H any](handlers []any) Hooks[H] {
	return Hooks[H](HandlersOf[H](handlers))
}

// Run calls the hooks in order until one returns a decisive result, which is
// returned with true. Later hooks are not called.
func (hs Hooks[H]) Run(call func(H) HookResult) (HookResult, bool) {
	for _, h := range hs {
		if res := call(h); res.Decisive() {
			return res, true
		}
	}
	return Declined(), false
}
