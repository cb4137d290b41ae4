package smtp

import (
	"context"
	"log/slog"
	"time"

	"github.com/welldanyogia/webrana-mailengine/internal/transport"
)

// Credentials authenticate one submission.
type Credentials struct {
	Username string
	Password string
}

// Receipt describes a message the server accepted.
type Receipt struct {
	MessageID  string
	Recipients []string
	Reply      string
	SentAt     time.Time
}

// SendMail delivers msg over a fresh session to addr. MessageID and Date
// are filled in when empty. Any failure before the final 250 aborts the
// session; a failed QUIT after acceptance does not.
func SendMail(ctx context.Context, addr string, opts Options, creds Credentials, msg *Message) (*Receipt, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c, err := Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if err := c.Hello(ctx); err != nil {
		return nil, err
	}
	if opts.Security == transport.SecuritySTARTTLS {
		if err := c.StartTLS(ctx, opts.TLSConfig); err != nil {
			return nil, err
		}
	}
	if creds.Username != "" {
		if err := c.AuthLogin(ctx, creds.Username, creds.Password); err != nil {
			return nil, err
		}
	}

	if msg.MessageID == "" {
		msg.MessageID = NewMessageID(c.Host())
	}
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}

	if err := c.Mail(ctx, msg.From); err != nil {
		return nil, err
	}
	recipients := msg.Recipients()
	for _, rcpt := range recipients {
		if err := c.Rcpt(ctx, rcpt); err != nil {
			return nil, err
		}
	}
	reply, err := c.Data(ctx, BuildMessage(msg))
	if err != nil {
		return nil, err
	}

	if err := c.Quit(ctx); err != nil {
		logger.Debug("smtp quit failed after acceptance", slog.Any("error", err))
	}

	return &Receipt{
		MessageID:  msg.MessageID,
		Recipients: recipients,
		Reply:      reply.Text(),
		SentAt:     msg.Date,
	}, nil
}
