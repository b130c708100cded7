package senders

import (
	"context"
	"fmt"

	"github.com/fiffu/dealwatch/config"
	"github.com/fiffu/dealwatch/lib/ingest"
	"github.com/fiffu/dealwatch/senders/email"
	"go.uber.org/zap"
)

// Alerter tells the operator when a source turns degraded or recovers. It
// mails ALERT_RECIPIENT when email is available and logs otherwise.
type Alerter struct {
	log       *zap.Logger
	senders   Registry
	recipient string
}

func NewAlerter(log *zap.Logger, cfg *config.Config, senders Registry) *Alerter {
	return &Alerter{log, senders, cfg.AlertRecipient}
}

func (a *Alerter) SourceHealthChanged(ctx context.Context, alert ingest.HealthAlert) error {
	format := &email.HealthAlertFormat{
		Source:    alert.Source.Name,
		Endpoint:  alert.Source.Endpoint,
		From:      string(alert.Transition.From),
		To:        string(alert.Transition.To),
		FailCount: alert.FailCount,
		LastError: alert.LastError,
		At:        alert.At,
	}

	platform := PlatformLog
	if _, ok := a.senders[PlatformEmail]; ok && a.recipient != "" {
		platform = PlatformEmail
	}
	sender, ok := a.senders[platform]
	if !ok {
		return fmt.Errorf("unsupported alert platform: %s", platform)
	}

	id, err := sender.Send(ctx, format.Subject(), format.Body(), a.recipient)
	if err != nil {
		a.log.Sugar().Infow("Failed to send health alert", "source", alert.Source.Name, "platform", platform, "err", err)
		return err
	}
	if platform == PlatformEmail {
		a.log.Sugar().Infow("Sent health alert to "+a.recipient, "source", alert.Source.Name, "message_id", id)
	}
	return nil
}

var _ ingest.Alerter = (*Alerter)(nil)
