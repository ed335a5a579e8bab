package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"math"
	"time"
)

var reminderTemplate = template.Must(template.New("expiry_reminder").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;">
<p>Hi there,</p>
<p>Your hosted site will expire in <strong>{{.DaysLeft}} {{.DayWord}}</strong>, on {{.ExpiresOn}}.</p>
<p>Visit <a href="{{.SiteURL}}">{{.SiteURL}}</a> to extend it and keep it live.</p>
</body>
</html>`))

// Reminder describes an upcoming expiry.
type Reminder struct {
	To        string
	SiteURL   string
	ExpiresAt time.Time
	Now       time.Time
}

// DaysLeft rounds the remaining time up to whole days, with a minimum of one.
func (r Reminder) DaysLeft() int {
	days := int(math.Ceil(r.ExpiresAt.Sub(r.Now).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

type reminderData struct {
	Subject   string
	DaysLeft  int
	DayWord   string
	ExpiresOn string
	SiteURL   string
}

// RenderReminder renders the subject, HTML and text bodies of a reminder.
func RenderReminder(r Reminder) (subject, html, text string, err error) {
	days := r.DaysLeft()
	word := "days"
	if days == 1 {
		word = "day"
	}
	subject = fmt.Sprintf("Your site expires in %d %s", days, word)

	data := reminderData{
		Subject:   subject,
		DaysLeft:  days,
		DayWord:   word,
		ExpiresOn: r.ExpiresAt.UTC().Format("2 January 2006"),
		SiteURL:   r.SiteURL,
	}

	var buf bytes.Buffer
	if err := reminderTemplate.Execute(&buf, data); err != nil {
		return "", "", "", fmt.Errorf("render reminder template: %w", err)
	}

	text = fmt.Sprintf("Your hosted site will expire in %d %s, on %s.\n\nVisit %s to extend it and keep it live.",
		days, word, data.ExpiresOn, r.SiteURL)
	return subject, buf.String(), text, nil
}

// Mailer turns reminders into emails.
type Mailer struct {
	sender Sender
	from   string
}

// NewMailer creates a Mailer sending from the given address.
func NewMailer(sender Sender, from string) *Mailer {
	return &Mailer{sender: sender, from: from}
}

// SendExpiryReminder renders and sends a reminder.
func (m *Mailer) SendExpiryReminder(ctx context.Context, r Reminder) error {
	subject, html, text, err := RenderReminder(r)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{
		From:    m.from,
		To:      r.To,
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
}
