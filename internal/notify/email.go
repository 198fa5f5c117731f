// Package notify delivers recognition alerts over webhooks, email and a
// JSONL event log.
package notify

import (
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/earcatch/earcatch/internal/song"
	"github.com/earcatch/earcatch/internal/util"
)

// EmailConfig contains SMTP server settings for email notifications.
type EmailConfig struct {
	Host       string
	Port       int
	FromName   string
	Username   string
	Password   string
	Recipients string
}

// EmailConfigFromValues constructs an EmailConfig from individual values.
func EmailConfigFromValues(host string, port int, fromName, username, password, recipients string) *EmailConfig {
	return &EmailConfig{
		Host:       host,
		Port:       port,
		FromName:   fromName,
		Username:   username,
		Password:   password,
		Recipients: recipients,
	}
}

// SendRecognitionAlert sends an email for a newly recognized song.
func SendRecognitionAlert(cfg *EmailConfig, s song.Song) error {
	if !util.IsConfigured(cfg.Host, cfg.Username, cfg.Recipients) {
		return nil // Silently skip if not configured
	}

	subject := fmt.Sprintf("[earcatch] New song: %s - %s", s.Artist, s.Title)
	var sb strings.Builder
	fmt.Fprintf(&sb, "earcatch heard a song it had not seen before.\n\n")
	fmt.Fprintf(&sb, "Title:  %s\n", s.Title)
	fmt.Fprintf(&sb, "Artist: %s\n", s.Artist)
	if s.Album != "" {
		fmt.Fprintf(&sb, "Album:  %s\n", s.Album)
	}
	fmt.Fprintf(&sb, "Heard:  %s\n", s.LastHeard.Local().Format("2006-01-02 15:04:05 MST"))
	if link, ok := s.ExternalLinks["audd"]; ok {
		fmt.Fprintf(&sb, "\nListen: %s\n", link)
	}

	return sendEmail(cfg, subject, sb.String())
}

// SendTestEmail sends a test email to verify SMTP configuration.
func SendTestEmail(cfg *EmailConfig) error {
	if err := util.ValidateRequired("SMTP host", cfg.Host); err != nil {
		return err
	}
	if err := util.ValidateRequired("email username", cfg.Username); err != nil {
		return err
	}
	if err := util.ValidateRequired("email recipients", cfg.Recipients); err != nil {
		return err
	}

	subject := "[TEST] earcatch"
	body := fmt.Sprintf(
		"Test email from earcatch.\n\n"+
			"Time: %s\n\n"+
			"SMTP configuration is working correctly.",
		util.HumanTime(),
	)

	return sendEmail(cfg, subject, body)
}

// sendEmail delivers an email message to configured recipients.
func sendEmail(cfg *EmailConfig, subject, body string) error {
	var recipients []string
	for _, r := range strings.Split(cfg.Recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	m := mail.NewMsg()
	if cfg.FromName != "" {
		if err := m.FromFormat(cfg.FromName, cfg.Username); err != nil {
			return util.WrapError("set from address", err)
		}
	} else {
		if err := m.From(cfg.Username); err != nil {
			return util.WrapError("set from address", err)
		}
	}
	if err := m.To(recipients...); err != nil {
		return util.WrapError("set recipient address", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)

	// Build client options with port-appropriate TLS settings
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	}

	switch cfg.Port {
	case 465: // SMTPS - implicit TLS
		opts = append(opts, mail.WithSSL())
	case 587: // Submission - STARTTLS required
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	default: // Port 25 or custom - opportunistic TLS
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}

	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return util.WrapError("create SMTP client", err)
	}

	if err := c.DialAndSend(m); err != nil {
		return util.WrapError("send email", err)
	}

	return nil
}
