package authgate

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Mailer delivers a single message. Implementations are expected to be
// safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer delivers mail over a plain SMTP relay.
type SMTPMailer struct {
	Addr     string
	From     string
	Username string
	Password string
	Host     string
}

// NewSMTPMailer builds a mailer for the given relay. Auth is only used
// when a username is configured, local relays need none.
func NewSMTPMailer(cfg Config) *SMTPMailer {
	return &SMTPMailer{
		Addr:     cfg.SMTPAddr,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		Host:     cfg.SMTPHost,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	msg := strings.Join([]string{
		fmt.Sprintf("From: %s", m.From),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
		"",
		body,
	}, "\r\n")

	return smtp.SendMail(m.Addr, auth, m.From, []string{to}, []byte(msg))
}

// MailQueue decouples the account flows from mail delivery: Notify never
// blocks and never fails the caller, delivery happens on a worker with
// retries.
type MailQueue struct {
	mailer Mailer
	logger Logger

	queue  chan Email
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewMailQueue builds a queue over the given mailer.
func NewMailQueue(mailer Mailer, size int, logger Logger) *MailQueue {
	if size <= 0 {
		size = 128
	}
	if logger == nil {
		logger = defLogger{}
	}
	return &MailQueue{
		mailer: mailer,
		logger: logger,
		queue:  make(chan Email, size),
		done:   make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (q *MailQueue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)

	go func() {
		defer close(q.done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-q.queue:
				q.deliver(ctx, msg)
			}
		}
	}()
}

// Stop cancels the worker. Queued messages not yet delivered are dropped.
// Stopping a queue that never started is a no-op.
func (q *MailQueue) Stop() {
	q.once.Do(func() {
		if q.cancel == nil {
			return
		}
		q.cancel()
		<-q.done
	})
}

// Notify enqueues a message. When the queue is full the message is
// dropped with a warning, account flows never block on the relay.
func (q *MailQueue) Notify(ctx context.Context, msg Email) {
	select {
	case q.queue <- msg:
	default:
		q.logger.Warn("mail queue full, dropping message to %s", msg.To)
	}
}

func (q *MailQueue) deliver(ctx context.Context, msg Email) {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := q.mailer.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		q.logger.Error("mail delivery to %s failed: %v", msg.To, err)
		return
	}

	q.logger.Debug("delivered %q to %s", msg.Subject, msg.To)
}
