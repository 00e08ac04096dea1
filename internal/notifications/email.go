package notifications

import (
	"context"
	"fmt"

	emailverifier "github.com/AfterShip/email-verifier"

	"github.com/wagewatch/wagewatch/internal/loops"
)

// transactionalSender is the slice of the Loops client the channel uses.
type transactionalSender interface {
	SendTransactional(ctx context.Context, req *loops.TransactionalRequest) error
}

// EmailChannel sends run reports as transactional emails via Loops.
type EmailChannel struct {
	client     transactionalSender
	recipient  string
	templateID string
}

// NewEmailChannel creates an email delivery channel. The recipient address is
// syntax-checked up front so a typo in configuration fails at startup rather
// than silently every run.
func NewEmailChannel(apiKey, recipient, templateID string) (*EmailChannel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("loops API key is required")
	}
	if templateID == "" {
		return nil, fmt.Errorf("email template ID is required")
	}

	verifier := emailverifier.NewVerifier()
	result, err := verifier.Verify(recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to verify recipient address: %w", err)
	}
	if !result.Syntax.Valid {
		return nil, fmt.Errorf("recipient address %q is not a valid email address", recipient)
	}

	return &EmailChannel{
		client:     loops.New(apiKey),
		recipient:  recipient,
		templateID: templateID,
	}, nil
}

// Name returns the channel name.
func (c *EmailChannel) Name() string {
	return "email"
}

// Deliver sends the run report email.
func (c *EmailChannel) Deliver(ctx context.Context, report *RunReport) error {
	err := c.client.SendTransactional(ctx, &loops.TransactionalRequest{
		Email:           c.recipient,
		TransactionalID: c.templateID,
		DataVariables: map[string]any{
			"runId":       report.RunID,
			"summary":     summaryLine(report.Stats),
			"jobs":        report.Stats.Jobs,
			"requests":    report.Stats.Requests,
			"disallowed":  report.Stats.Disallowed,
			"unparseable": report.Stats.Unparseable,
			"errors":      report.Stats.Errors,
			"duration":    formatDuration(report.Stats.Duration),
		},
		// One report per run even if delivery retries.
		IdempotencyKey: report.RunID,
	})
	if err != nil {
		return fmt.Errorf("failed to send run report email: %w", err)
	}
	return nil
}
