package adapters

import (
	"github.com/smallbiznis/paysync/internal/config"
	"github.com/smallbiznis/paysync/internal/webhook/adapters/paypal"
	"github.com/smallbiznis/paysync/internal/webhook/adapters/razorpay"
	"github.com/smallbiznis/paysync/internal/webhook/adapters/stripe"
	"github.com/smallbiznis/paysync/internal/webhook/domain"
	"go.uber.org/zap"
)

// Build registers an adapter for every provider that has a webhook secret.
func Build(cfg config.Config, log *zap.Logger) (*Registry, error) {
	log = log.Named("webhook.adapters")

	type entry struct {
		factory domain.AdapterFactory
		cfg     domain.AdapterConfig
	}
	entries := []entry{
		{factory: stripe.NewFactory(), cfg: domain.AdapterConfig{WebhookSecret: cfg.Providers.StripeSecret}},
		{factory: paypal.NewFactory(), cfg: domain.AdapterConfig{
			WebhookSecret: cfg.Providers.PaypalSecret,
			WebhookID:     cfg.Providers.PaypalWebhookID,
		}},
		{factory: razorpay.NewFactory(), cfg: domain.AdapterConfig{WebhookSecret: cfg.Providers.RazorpaySecret}},
	}

	registry := NewRegistry()
	for _, e := range entries {
		if e.cfg.WebhookSecret == "" {
			log.Info("provider disabled: no webhook secret", zap.String("provider", e.factory.Provider()))
			continue
		}
		adapter, err := e.factory.NewAdapter(e.cfg)
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
	}

	if len(registry.adapters) == 0 {
		log.Warn("no payment providers configured; every delivery will be rejected")
	} else {
		log.Info("payment providers registered", zap.Strings("providers", registry.Providers()))
	}
	return registry, nil
}
