package senders

import (
	"context"
	"net/http"

	"github.com/fiffu/dealwatch/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Sender interface {
	Send(ctx context.Context, subject, body, recipient string) (string, error)
}

type Registry map[string]Sender

const (
	PlatformEmail = "email"
	PlatformLog   = "log"
)

// NewSenderRegistry always carries the log sender. Email is added once mailgun
// is configured.
func NewSenderRegistry(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, transport http.RoundTripper) Registry {
	base := base{log, cfg, transport}
	reg := Registry{
		PlatformLog: &logSender{base},
	}
	if cfg.Mailgun.Domain != "" && cfg.Mailgun.APIKey != "" {
		reg[PlatformEmail] = &mailgunSender{base}
	} else {
		log.Sugar().Info("Email alerts are disabled since mailgun is not configured")
	}
	return reg
}

type base struct {
	log       *zap.Logger
	cfg       *config.Config
	transport http.RoundTripper
}

// logSender writes the message to the service log instead of delivering it.
type logSender struct {
	base
}

func (s *logSender) Send(ctx context.Context, subject, body, recipient string) (string, error) {
	s.log.Sugar().Warnw(subject, "recipient", recipient, "body", body)
	return "", nil
}
