package delivery

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/config"
	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
	"github.com/DeBrosOfficial/subchannel/pkg/logging"
)

const defaultSubject = "Subscription notification"

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailHandler mails each message payload to the address in its endpoint.
// Endpoints may be bare addresses or mailto: URIs with comma separated
// recipients.
type EmailHandler struct {
	cfg    config.SMTPConfig
	send   sendMailFunc
	logger *logging.ColoredLogger
}

// NewEmailHandler creates an email handler sending through cfg.
func NewEmailHandler(cfg config.SMTPConfig, logger *logging.ColoredLogger) *EmailHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EmailHandler{cfg: cfg, send: smtp.SendMail, logger: logger}
}

func (e *EmailHandler) HandleMessage(ctx context.Context, msg *channel.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := recipients(msg.Endpoint)
	if len(to) == 0 {
		return apperrors.NewChannelError(msg.Channel, apperrors.OpDeliver, fmt.Errorf("message %s has no recipient", msg.ID))
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))

	if err := e.send(addr, auth, e.cfg.From, to, e.compose(to, msg)); err != nil {
		return apperrors.NewChannelError(msg.Channel, apperrors.OpDeliver, fmt.Errorf("send mail: %w", err))
	}

	e.logger.ComponentDebug(logging.ComponentDelivery, "Email delivered",
		zap.String("channel", msg.Channel),
		zap.String("subscription_id", msg.SubscriptionID),
		zap.Int("recipients", len(to)))
	return nil
}

func (e *EmailHandler) compose(to []string, msg *channel.Message) []byte {
	subject := msg.Headers["Subject"]
	if subject == "" {
		subject = defaultSubject
	}
	contentType := msg.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", ts.UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	if msg.SubscriptionID != "" {
		fmt.Fprintf(&b, "X-Subscription-ID: %s\r\n", msg.SubscriptionID)
	}
	b.WriteString("\r\n")
	b.Write(msg.Payload)
	return b.Bytes()
}

func recipients(endpoint string) []string {
	endpoint = strings.TrimPrefix(strings.TrimSpace(endpoint), "mailto:")
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	var out []string
	for _, part := range strings.Split(endpoint, ",") {
		if part = strings.TrimSpace(part); strings.Contains(part, "@") {
			out = append(out, part)
		}
	}
	return out
}
