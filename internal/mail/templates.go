package mail

import (
	"fmt"
	"html"
	"time"
)

// VerificationCode renders the login code email.
func VerificationCode(to, code string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Your login code",
		HTML: fmt.Sprintf("<p>Your login code is <strong>%s</strong>. It expires in %d minutes.</p>",
			html.EscapeString(code), int(ttl.Minutes())),
	}
}

// Welcome renders the registration email. password is quoted back only when
// non-empty.
func Welcome(to, username, password string) Message {
	body := fmt.Sprintf("<p>Welcome, %s. Your account is ready.</p>", html.EscapeString(username))
	if password != "" {
		body += fmt.Sprintf("<p>Your initial password is <strong>%s</strong>. Change it after your first login.</p>", html.EscapeString(password))
	}
	return Message{To: to, Subject: "Welcome", HTML: body}
}

// Cancelled renders the account cancellation notice.
func Cancelled(to, username string, purgeAfter time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Your account was cancelled",
		HTML: fmt.Sprintf("<p>%s, your account was cancelled. Log in within %d days to restore it.</p>",
			html.EscapeString(username), int(purgeAfter.Hours()/24)),
	}
}

// Restored renders the notice sent when a cancelled account is restored.
func Restored(to, username string) Message {
	return Message{
		To:      to,
		Subject: "Your account was restored",
		HTML:    fmt.Sprintf("<p>Welcome back, %s. Your account cancellation was undone.</p>", html.EscapeString(username)),
	}
}
