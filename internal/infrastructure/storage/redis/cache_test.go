package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"tickerhub/internal/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return New(rdb), mr
}

func TestQuoteRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, _, ok, err := c.Quote(ctx, "005930")
	if err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	if err := c.SetQuote(ctx, "005930", "71500", "1.2", 10*time.Minute); err != nil {
		t.Fatal(err)
	}
	price, change, ok, err := c.Quote(ctx, "005930")
	if err != nil || !ok {
		t.Fatalf("quote read: ok=%v err=%v", ok, err)
	}
	if price != "71500" || change != "1.2" {
		t.Errorf("got %s/%s, want 71500/1.2", price, change)
	}

	if ttl := mr.TTL("price:005930"); ttl != 10*time.Minute {
		t.Errorf("price TTL = %v, want 10m", ttl)
	}
}

func TestQuoteExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_ = c.SetQuote(ctx, "AAPL", "150", "0.5", time.Minute)
	mr.FastForward(2 * time.Minute)

	_, _, ok, err := c.Quote(ctx, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expired quote should read as absent")
	}
}

func TestMarkCooldownSetNX(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	first, err := c.MarkCooldown(ctx, "u@e.com", "AAPL", domain.ConditionAbove, 24*time.Hour)
	if err != nil || !first {
		t.Fatalf("first mark: fresh=%v err=%v", first, err)
	}
	again, err := c.MarkCooldown(ctx, "u@e.com", "AAPL", domain.ConditionAbove, 24*time.Hour)
	if err != nil || again {
		t.Fatalf("second mark should not be fresh: fresh=%v err=%v", again, err)
	}

	// different condition is a distinct mark
	other, err := c.MarkCooldown(ctx, "u@e.com", "AAPL", domain.ConditionBelow, 24*time.Hour)
	if err != nil || !other {
		t.Fatalf("different condition should be fresh: fresh=%v err=%v", other, err)
	}
}

func TestActiveRulesSkipsMalformed(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	mr.HSet("targetRules", "u@e.com:AAPL", "150")
	mr.HSet("targetConditions", "u@e.com:AAPL", "above")
	mr.HSet("targetRules", "nocolon", "100")
	mr.HSet("targetConditions", "nocolon", "ABOVE")
	mr.HSet("targetRules", "u2@e.com:TSLA", "not-a-number")
	mr.HSet("targetConditions", "u2@e.com:TSLA", "BELOW")
	mr.HSet("targetRules", "u3@e.com:005930", "70000")
	// no condition entry for u3

	rules, err := c.ActiveRules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1 (malformed skipped): %+v", len(rules), rules)
	}
	r := rules[0]
	if r.UserEmail != "u@e.com" || r.Symbol != "AAPL" || r.Condition != domain.ConditionAbove {
		t.Errorf("unexpected rule: %+v", r)
	}
	if !r.TargetPrice.Equal(domain.ParseDecimal("150")) {
		t.Errorf("target price = %s, want 150", r.TargetPrice)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	v, err := c.Credential(ctx, "broker:approvalKey")
	if err != nil || v != "" {
		t.Fatalf("absent credential: v=%q err=%v", v, err)
	}

	if err := c.StoreCredential(ctx, "broker:approvalKey", "key-123", 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	v, err = c.Credential(ctx, "broker:approvalKey")
	if err != nil || v != "key-123" {
		t.Fatalf("credential read: v=%q err=%v", v, err)
	}

	mr.FastForward(25 * time.Hour)
	v, _ = c.Credential(ctx, "broker:approvalKey")
	if v != "" {
		t.Error("credential should expire")
	}
}
