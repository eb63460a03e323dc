package auth

import (
	"fmt"
	"net/smtp"
)

// SMTPMailer sends OTP emails through a plain SMTP relay, for local and
// development use. No example repo in the retrieval pack ships an email
// client, so this is the one ambient piece implemented directly on
// net/smtp rather than a third-party library.
type SMTPMailer struct {
	Addr string
	From string
	Auth smtp.Auth
}

// NewSMTPMailer builds a mailer against an SMTP relay at addr (host:port).
func NewSMTPMailer(addr, from, username, password, host string) *SMTPMailer {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPMailer{Addr: addr, From: from, Auth: auth}
}

// SendOTP emails a verification code to email.
func (m *SMTPMailer) SendOTP(email, code string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Your walletd verification code\r\n\r\nYour code is %s. It expires in 15 minutes.\r\n",
		m.From, email, code)
	return smtp.SendMail(m.Addr, m.Auth, m.From, []string{email}, []byte(msg))
}
