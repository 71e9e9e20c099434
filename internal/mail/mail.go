// Package mail delivers meeting summaries to users over email.
package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/MartiGrau/AutoMeet/internal/storage"
)

const sendEndpoint = "/v3/mail/send"

// Sender emails a stored meeting to its owner.
type Sender interface {
	SendMeeting(ctx context.Context, toEmail string, meeting storage.Meeting) error
}

// SendGridSender sends mail through the SendGrid v3 API.
type SendGridSender struct {
	apiKey   string
	host     string
	fromName string
	fromAddr string
}

// NewSendGridSender builds a sender. host is the SendGrid API host and may be
// empty to use the production endpoint.
func NewSendGridSender(apiKey, fromName, fromAddr, host string) *SendGridSender {
	if host == "" {
		host = "https://api.sendgrid.com"
	}
	return &SendGridSender{apiKey: apiKey, host: host, fromName: fromName, fromAddr: fromAddr}
}

func (s *SendGridSender) SendMeeting(ctx context.Context, toEmail string, meeting storage.Meeting) error {
	if toEmail == "" {
		return fmt.Errorf("no recipient address")
	}

	from := sgmail.NewEmail(s.fromName, s.fromAddr)
	to := sgmail.NewEmail("", toEmail)
	subject := meeting.Title
	if subject == "" {
		subject = storage.DefaultMeetingTitle
	}

	body := meetingBody(meeting)
	message := sgmail.NewSingleEmail(from, subject, to, body, "")

	req := sendgrid.GetRequest(s.apiKey, sendEndpoint, s.host)
	req.Method = "POST"
	req.Body = sgmail.GetRequestBody(message)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	return nil
}

func meetingBody(meeting storage.Meeting) string {
	var b strings.Builder

	if meeting.Summary != nil && *meeting.Summary != "" {
		b.WriteString("Summary\n\n")
		b.WriteString(*meeting.Summary)
		b.WriteString("\n\n")
	}
	if meeting.Transcript != nil && *meeting.Transcript != "" {
		b.WriteString("Transcript\n\n")
		b.WriteString(*meeting.Transcript)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		b.WriteString("This meeting has no transcript or summary yet.\n")
	}
	return b.String()
}
