// Package mail hands a finished transcript to the user's mail client
// through a mailto: URL.
package mail

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
)

var ErrInvalidRecipient = errors.New("invalid recipient address")

// Opener launches the platform URL handler. It implements
// session.MailComposer.
type Opener struct {
	// Launch starts the handler for a URL. Defaults to the platform opener.
	Launch func(u string) error
}

func NewOpener() *Opener {
	return &Opener{Launch: launch}
}

// Compose validates the recipient and opens a prefilled draft. It returns
// once the handler process has started.
func (o *Opener) Compose(recipient, subject, body string) error {
	addr, err := ParseRecipient(recipient)
	if err != nil {
		return err
	}
	u := MailtoURL(addr, subject, body)
	run := o.Launch
	if run == nil {
		run = launch
	}
	if err := run(u); err != nil {
		return fmt.Errorf("opening mail client: %w", err)
	}
	return nil
}

// ParseRecipient accepts a bare address or a "Name <addr>" form and
// returns the bare address.
func ParseRecipient(s string) (string, error) {
	a, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, s)
	}
	return a.Address, nil
}

// MailtoURL builds an RFC 6068 mailto URL. Header values are percent
// encoded with %20 for spaces and line breaks normalized to CRLF.
func MailtoURL(to, subject, body string) string {
	var b strings.Builder
	b.WriteString("mailto:")
	b.WriteString(escape(to, true))

	sep := "?"
	if subject != "" {
		b.WriteString(sep + "subject=" + escape(subject, false))
		sep = "&"
	}
	if body != "" {
		body = strings.ReplaceAll(body, "\r\n", "\n")
		body = strings.ReplaceAll(body, "\n", "\r\n")
		b.WriteString(sep + "body=" + escape(body, false))
	}
	return b.String()
}

// hfieldEscaper covers the sub-delims url.PathEscape leaves alone but
// which separate hfields in a mailto query.
var hfieldEscaper = strings.NewReplacer("&", "%26", "=", "%3D", "+", "%2B", ":", "%3A")

func escape(s string, addr bool) string {
	e := url.PathEscape(s)
	if addr {
		return e
	}
	return hfieldEscaper.Replace(e)
}

func handler() (name string, args []string) {
	switch runtime.GOOS {
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler"}
	case "darwin":
		return "open", nil
	default:
		return "xdg-open", nil
	}
}

// HandlerPath reports where the platform URL opener lives.
func HandlerPath() (string, error) {
	name, _ := handler()
	return exec.LookPath(name)
}

func launch(u string) error {
	name, args := handler()
	cmd := exec.Command(name, append(args, u)...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
