package alert

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/streamwatch/internal/resilience"
)

// WebhookExecutor is the slice of [discordgo.Session] needed for webhook
// delivery. Narrowed to an interface so tests can substitute a recorder.
type WebhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// WebhookNotifier posts alerts to a Discord channel webhook. Deliveries are
// guarded by a circuit breaker so an unreachable endpoint fails fast instead
// of holding the dispatcher in timeout after timeout.
type WebhookNotifier struct {
	exec    WebhookExecutor
	id      string
	token   string
	breaker *resilience.Breaker
}

// WebhookOption is a functional option for configuring a [WebhookNotifier].
type WebhookOption func(*WebhookNotifier)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) WebhookOption {
	return func(n *WebhookNotifier) { n.breaker = b }
}

// NewWebhookNotifier creates a notifier posting through exec to the webhook
// identified by id and token.
func NewWebhookNotifier(exec WebhookExecutor, id, token string, opts ...WebhookOption) *WebhookNotifier {
	n := &WebhookNotifier{
		exec:    exec,
		id:      id,
		token:   token,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "alert-webhook"}),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Name implements [Notifier].
func (n *WebhookNotifier) Name() string { return "webhook" }

// Notify implements [Notifier].
func (n *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	err := n.breaker.Do(func() error {
		_, err := n.exec.WebhookExecute(n.id, n.token, false,
			&discordgo.WebhookParams{Content: a.String()},
			discordgo.WithContext(ctx),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("alert: webhook delivery: %w", err)
	}
	return nil
}
