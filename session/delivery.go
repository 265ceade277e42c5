package session

import (
	"strings"
	"time"
)

const (
	deliverySubject = "Meeting transcript"
	startedAtLayout = "Monday, January 2, 2006 at 3:04 PM MST"
)

func deliveryMessage(startedAt time.Time, transcript string) (subject, body string) {
	subject = deliverySubject
	var b strings.Builder
	if !startedAt.IsZero() {
		subject += " - " + startedAt.Format("Jan 2, 2006")
		b.WriteString("Session started: ")
		b.WriteString(startedAt.Format(startedAtLayout))
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(transcript))
	b.WriteString("\n")
	return subject, b.String()
}
