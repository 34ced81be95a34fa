// Package notify is the patient messaging contract. Delivery is best-effort
// and fire-and-forget: callers log and swallow send failures, and a failed
// notification never rolls back the state change that triggered it.
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// Message is one outbound patient notification.
type Message struct {
	Recipient string            // patient email
	Name      string            // patient display name
	Template  string            // template id
	Data      map[string]string // template variables
}

// Notifier sends patient messages. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Template ids.
const (
	TemplateBookingConfirmation = "booking-confirmation"
	TemplateCancellation        = "appointment-cancelled"
	TemplateReschedule          = "appointment-rescheduled"
)

var templates = map[string]struct {
	Subject string
	Body    string
}{
	TemplateBookingConfirmation: {
		Subject: "Appointment request received",
		Body:    "Dear {{name}}, your appointment request with {{doctor}} on {{date}} at {{slot_time}} has been received and is pending confirmation.",
	},
	TemplateCancellation: {
		Subject: "Appointment cancelled",
		Body:    "Dear {{name}}, your appointment on {{date}} at {{slot_time}} has been cancelled. Reason: {{reason}}",
	},
	TemplateReschedule: {
		Subject: "Appointment rescheduled",
		Body:    "Dear {{name}}, your appointment has been moved to {{date}} at {{slot_time}}. Reason: {{reason}}",
	},
}

var ErrUnknownTemplate = errors.New("unknown notification template")

// Render produces the subject and body for msg.
func Render(msg Message) (subject, body string, err error) {
	tpl, ok := templates[msg.Template]
	if !ok {
		return "", "", ErrUnknownTemplate
	}
	subject = tpl.Subject
	body = tpl.Body
	body = strings.ReplaceAll(body, "{{name}}", msg.Name)
	for k, v := range msg.Data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

func BookingConfirmation(recipient, name string, data map[string]string) Message {
	return Message{Recipient: recipient, Name: name, Template: TemplateBookingConfirmation, Data: data}
}

func CancellationNotice(recipient, name string, data map[string]string) Message {
	return Message{Recipient: recipient, Name: name, Template: TemplateCancellation, Data: data}
}

func RescheduleNotice(recipient, name string, data map[string]string) Message {
	return Message{Recipient: recipient, Name: name, Template: TemplateReschedule, Data: data}
}

// LogNotifier renders messages and writes them to the log instead of an
// SMTP relay. It stands in wherever real delivery is not configured.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Send(_ context.Context, msg Message) error {
	subject, body, err := Render(msg)
	if err != nil {
		return err
	}
	n.Log.Info().
		Str("recipient", msg.Recipient).
		Str("subject", subject).
		Str("body", body).
		Msg("notification (log delivery)")
	return nil
}
