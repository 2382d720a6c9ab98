package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/wneessen/go-mail"
)

// SMTPConfig carries the mail transport settings.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
	To       []string
}

// Mailer sends alerts over SMTP with STARTTLS. A circuit breaker guards the
// upstream: after repeated failures sends fail fast until the cool-off
// elapses, so a dead relay cannot stall the alert loop.
type Mailer struct {
	cfg     SMTPConfig
	breaker *gobreaker.CircuitBreaker
}

// NewMailer builds an SMTP sender for the given transport settings.
func NewMailer(cfg SMTPConfig) *Mailer {
	settings := gobreaker.Settings{
		Name:    "smtp",
		Timeout: 5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("smtp circuit breaker state change")
		},
	}
	return &Mailer{cfg: cfg, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Send delivers one message through the breaker.
func (m *Mailer) Send(ctx context.Context, subject, body string) error {
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.deliver(ctx, subject, body)
	})
	return err
}

func (m *Mailer) deliver(ctx context.Context, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender address: %w", err)
	}
	if err := msg.To(m.cfg.To...); err != nil {
		return fmt.Errorf("failed to set recipient addresses: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.From),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("failed to build smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}
