package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"tickerhub/internal/application/port"
	"tickerhub/internal/domain"
)

const DefaultAlertCooldown = 24 * time.Hour

// AlertMatcher evaluates active target rules against propagated ticks.
// Rules are retained after firing; recurrence is gated only by the cooldown
// mark, so delivery is at-most-once per (user, symbol, condition) per window.
type AlertMatcher struct {
	rules    port.RuleStore
	cooldown port.CooldownStore
	bus      port.AlertPublisher
	window   time.Duration
}

func NewAlertMatcher(rules port.RuleStore, cooldown port.CooldownStore, bus port.AlertPublisher) *AlertMatcher {
	return &AlertMatcher{rules: rules, cooldown: cooldown, bus: bus, window: DefaultAlertCooldown}
}

// Evaluate checks every active rule matching the tick's symbol. Per-rule
// failures are logged and skipped; one bad rule never stops the loop.
func (m *AlertMatcher) Evaluate(ctx context.Context, tick domain.Tick) {
	rules, err := m.rules.ActiveRules(ctx)
	if err != nil {
		log.Warn().Err(err).Str("symbol", tick.Symbol).Msg("rule store read failed")
		return
	}

	for _, rule := range rules {
		if rule.Symbol != tick.Symbol || !rule.Matches(tick.Price) {
			continue
		}

		fresh, err := m.cooldown.MarkCooldown(ctx, rule.UserEmail, rule.Symbol, rule.Condition, m.window)
		if err != nil {
			log.Warn().Err(err).
				Str("user", rule.UserEmail).
				Str("symbol", rule.Symbol).
				Msg("cooldown check failed, skipping rule")
			continue
		}
		if !fresh {
			// already notified within the window
			continue
		}

		ev := domain.NewAlertEvent(rule, tick.Price, tick.Ts)
		if err := m.bus.PublishAlert(ctx, ev); err != nil {
			log.Error().Err(err).
				Str("user", rule.UserEmail).
				Str("symbol", rule.Symbol).
				Msg("alert publish failed")
			continue
		}
		log.Info().
			Str("user", rule.UserEmail).
			Str("symbol", rule.Symbol).
			Str("condition", string(rule.Condition)).
			Str("price", tick.Price.String()).
			Msg("target price alert published")
	}
}
