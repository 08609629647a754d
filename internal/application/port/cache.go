package port

import (
	"context"
	"time"

	"tickerhub/internal/domain"
)

// QuoteCache is the shared expiring key-value store for last-seen quotes.
// Values are the exact strings written by the dedup gate; equality is on the
// string as written, no epsilon.
type QuoteCache interface {
	// Quote returns the cached price/change strings for a symbol.
	// ok is false when either key is absent or expired.
	Quote(ctx context.Context, symbol string) (price, change string, ok bool, err error)
	SetQuote(ctx context.Context, symbol, price, change string, ttl time.Duration) error

	// LastSent tracks the last payload delivered to live sessions per symbol.
	LastSent(ctx context.Context, symbol string) (string, error)
	SetLastSent(ctx context.Context, symbol, value string, ttl time.Duration) error
}

// RuleStore exposes the active target rules mirrored into the shared cache
// by the rule-management collaborator.
type RuleStore interface {
	ActiveRules(ctx context.Context) ([]domain.TargetRule, error)
}

// CooldownStore records fired alerts so the same (user, symbol, condition)
// does not re-fire within the cooldown window. Mark is set-if-absent: it
// returns true only for the caller that created the mark.
type CooldownStore interface {
	MarkCooldown(ctx context.Context, userEmail, symbol string, cond domain.Condition, ttl time.Duration) (bool, error)
}

// CredentialCache stores short-lived venue credentials keyed by venue.
type CredentialCache interface {
	Credential(ctx context.Context, key string) (string, error)
	StoreCredential(ctx context.Context, key, value string, ttl time.Duration) error
}
