package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	_ "embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	texttemplate "text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

//go:embed templates/invite.html
var inviteHTML string
var inviteHTMLTemplate = htmltemplate.Must(htmltemplate.New("templates/invite.html").Parse(inviteHTML))

//go:embed templates/invite.txt
var inviteText string
var inviteTextTemplate = texttemplate.Must(texttemplate.New("templates/invite.txt").Parse(inviteText))

// SMTPServer SMTP连接配置
type SMTPServer struct {
	HostPort string
	TLS      *tls.Config
	User     string
	Password string
	Hello    string
}

// Mailer sends invite emails over SMTP.
type Mailer struct {
	server SMTPServer
	from   string
	now    func() time.Time
}

func NewMailer(server SMTPServer, from string) *Mailer {
	return &Mailer{server: server, from: from, now: time.Now}
}

// Message is a composed text+html email.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Compose renders the invite templates.
func (m *Mailer) Compose(msg InviteEmail) (Message, error) {
	variables := struct {
		OrganisationName string
		InvitedBy        string
		Role             string
		InviteURL        string
		ExpiresIn        string
		Subject          string
	}{
		OrganisationName: msg.OrganisationName,
		InvitedBy:        msg.InvitedBy,
		Role:             string(msg.Role),
		InviteURL:        msg.InviteURL,
	}
	if variables.InvitedBy == "" {
		variables.InvitedBy = "A teammate"
	}
	variables.Subject = fmt.Sprintf("%s invited you to join %s on Kindred Collective", variables.InvitedBy, msg.OrganisationName)
	if !msg.ExpiresAt.IsZero() {
		variables.ExpiresIn = humanize.RelTime(msg.ExpiresAt, m.now(), "ago", "from now")
	}

	html := bytes.NewBuffer(nil)
	if err := inviteHTMLTemplate.Execute(html, variables); err != nil {
		return Message{}, err
	}
	text := bytes.NewBuffer(nil)
	if err := inviteTextTemplate.Execute(text, variables); err != nil {
		return Message{}, err
	}
	return Message{
		From:    m.from,
		To:      msg.Email,
		Subject: variables.Subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// Send composes and delivers msg.
func (m *Mailer) Send(ctx context.Context, msg InviteEmail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	message, err := m.Compose(msg)
	if err != nil {
		return err
	}
	return Deliver(m.server, message)
}

func dial(options SMTPServer) (*smtp.Client, error) {
	var client *smtp.Client
	var err error

	if options.TLS != nil {
		client, err = smtp.DialTLS(options.HostPort, options.TLS)
	} else {
		client, err = smtp.Dial(options.HostPort)
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to smtp server: %w", err)
	}

	if options.Hello != "" {
		if err = client.Hello(options.Hello); err != nil {
			client.Close()
			return nil, fmt.Errorf("could not greet upstream: %w", err)
		}
	}

	if options.User != "" || options.Password != "" {
		if err := client.Auth(sasl.NewPlainClient("", options.User, options.Password)); err != nil {
			client.Close()
			return nil, fmt.Errorf("AUTH failed: %w", err)
		}
	}

	return client, nil
}

// Deliver sends one message through the server.
func Deliver(options SMTPServer, message Message) error {
	from, err := mail.ParseAddress(message.From)
	if err != nil {
		return fmt.Errorf("invalid from address %q: %w", message.From, err)
	}

	client, err := dial(options)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(from.Address, nil); err != nil {
		return fmt.Errorf("smtp server rejected mail from '%s': %w", from.Address, err)
	}
	if err := client.Rcpt(message.To, nil); err != nil {
		return fmt.Errorf("smtp server rejected mail to '%s': %w", message.To, err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp server rejected request to send mail data: %w", err)
	}
	if err := message.Write(writer); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp server rejected mail data: %w", err)
	}

	err = client.Quit()
	if err != nil {
		smtpError := &smtp.SMTPError{}
		// some servers answer QUIT with 250 instead of 221
		if errors.As(err, &smtpError) && smtpError.Code == 250 {
			return nil
		}
		return err
	}
	return nil
}

// Write renders the message as multipart/alternative MIME.
func (msg Message) Write(w io.Writer) error {
	body := bytes.NewBuffer(nil)
	mw := multipart.NewWriter(body)

	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	} {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return err
		}
		if err := qp.Close(); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w,
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: multipart/alternative; boundary=%s\r\n\r\n",
		msg.From, msg.To, mime.QEncoding.Encode("utf-8", msg.Subject), mw.Boundary())
	if err != nil {
		return err
	}
	_, err = body.WriteTo(w)
	return err
}
