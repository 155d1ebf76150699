package mail

import (
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"

	"github.com/DanielKirsch/CourseHive/internal/pkg/env"
)

// SendMail delivers an HTML mail through the configured SMTP relay. Auth is
// only attempted when credentials are configured, so a local relay works
// without any.
func SendMail(to, subject, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "25")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")
	if sender == "" {
		sender = "no-reply@localhost"
		log.Printf("SMTP_SENDER not set, using %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	addr := net.JoinHostPort(host, port)
	if err := smtp.SendMail(addr, auth, sender, []string{to}, []byte(msg.String())); err != nil {
		log.Printf("SMTP send to %s via %s failed: %v", to, addr, err)
		return err
	}
	log.Printf("Email sent to %s via %s", to, addr)
	return nil
}
