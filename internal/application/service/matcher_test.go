package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tickerhub/internal/domain"
)

type mockRuleStore struct {
	rules []domain.TargetRule
	err   error
}

func (m *mockRuleStore) ActiveRules(ctx context.Context) ([]domain.TargetRule, error) {
	return m.rules, m.err
}

type mockCooldownStore struct {
	marks map[string]bool
}

func (m *mockCooldownStore) MarkCooldown(ctx context.Context, user, symbol string, cond domain.Condition, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s:%s:%s", user, symbol, cond)
	if m.marks[key] {
		return false, nil
	}
	if m.marks == nil {
		m.marks = make(map[string]bool)
	}
	m.marks[key] = true
	return true, nil
}

type mockAlertBus struct {
	published []domain.AlertEvent
}

func (m *mockAlertBus) PublishAlert(ctx context.Context, ev domain.AlertEvent) error {
	m.published = append(m.published, ev)
	return nil
}

func TestMatcherFiresOnceWithinCooldown(t *testing.T) {
	rules := &mockRuleStore{rules: []domain.TargetRule{{
		UserEmail:   "user@example.com",
		Symbol:      "AAPL",
		TargetPrice: decimal.NewFromInt(150),
		Condition:   domain.ConditionAbove,
	}}}
	cooldown := &mockCooldownStore{marks: make(map[string]bool)}
	bus := &mockAlertBus{}
	m := NewAlertMatcher(rules, cooldown, bus)

	ctx := context.Background()
	for _, price := range []float64{148, 149, 151, 152} {
		m.Evaluate(ctx, tickAt("AAPL", price, 0))
	}

	if len(bus.published) != 1 {
		t.Fatalf("published %d alerts, want exactly 1", len(bus.published))
	}
	ev := bus.published[0]
	if ev.CurrentPrice != 151 {
		t.Errorf("alert fired at %v, want 151", ev.CurrentPrice)
	}
	if ev.Condition != "ABOVE" || ev.Symbol != "AAPL" || ev.UserEmail != "user@example.com" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestMatcherBelowCondition(t *testing.T) {
	rules := &mockRuleStore{rules: []domain.TargetRule{{
		UserEmail:   "u@e.com",
		Symbol:      "BTC-KRW",
		TargetPrice: decimal.NewFromInt(50000000),
		Condition:   domain.ConditionBelow,
	}}}
	cooldown := &mockCooldownStore{marks: make(map[string]bool)}
	bus := &mockAlertBus{}
	m := NewAlertMatcher(rules, cooldown, bus)

	ctx := context.Background()
	m.Evaluate(ctx, tickAt("BTC-KRW", 51000000, 0))
	m.Evaluate(ctx, tickAt("BTC-KRW", 49999999, 0))

	if len(bus.published) != 1 {
		t.Fatalf("published %d alerts, want 1", len(bus.published))
	}
}

func TestMatcherIgnoresOtherSymbols(t *testing.T) {
	rules := &mockRuleStore{rules: []domain.TargetRule{{
		UserEmail:   "u@e.com",
		Symbol:      "AAPL",
		TargetPrice: decimal.NewFromInt(150),
		Condition:   domain.ConditionAbove,
	}}}
	cooldown := &mockCooldownStore{marks: make(map[string]bool)}
	bus := &mockAlertBus{}
	m := NewAlertMatcher(rules, cooldown, bus)

	m.Evaluate(context.Background(), tickAt("TSLA", 900, 0))
	if len(bus.published) != 0 {
		t.Fatalf("alert published for unrelated symbol")
	}
}

func TestMatcherSeparateConditionsFireIndependently(t *testing.T) {
	rules := &mockRuleStore{rules: []domain.TargetRule{
		{UserEmail: "u@e.com", Symbol: "AAPL", TargetPrice: decimal.NewFromInt(150), Condition: domain.ConditionAbove},
		{UserEmail: "u@e.com", Symbol: "AAPL", TargetPrice: decimal.NewFromInt(200), Condition: domain.ConditionBelow},
	}}
	cooldown := &mockCooldownStore{marks: make(map[string]bool)}
	bus := &mockAlertBus{}
	m := NewAlertMatcher(rules, cooldown, bus)

	m.Evaluate(context.Background(), tickAt("AAPL", 151, 0))

	// 151 satisfies both ABOVE 150 and BELOW 200; the cooldown key includes
	// the condition, so both fire.
	if len(bus.published) != 2 {
		t.Fatalf("published %d alerts, want 2", len(bus.published))
	}
}
