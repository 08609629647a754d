package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"tickerhub/internal/application/port"
	"tickerhub/internal/domain"
)

// Key layout shared with the rule-management and batch-sync collaborators.
const (
	keyPrice          = "price:"
	keyChange         = "change:"
	keyLastSent       = "lastSent:"
	keyCooldown       = "cooldown:"
	hashTargetRules   = "targetRules"
	hashTargetConds   = "targetConditions"
)

// Cache is the shared expiring key-value store backing the dedup gate, the
// cooldown marks, the mirrored target rules and the venue credentials.
type Cache struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) Quote(ctx context.Context, symbol string) (string, string, bool, error) {
	vals, err := c.rdb.MGet(ctx, keyPrice+symbol, keyChange+symbol).Result()
	if err != nil {
		return "", "", false, fmt.Errorf("quote read: %w", err)
	}
	price, okP := vals[0].(string)
	change, okC := vals[1].(string)
	return price, change, okP && okC, nil
}

func (c *Cache) SetQuote(ctx context.Context, symbol, price, change string, ttl time.Duration) error {
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, keyPrice+symbol, price, ttl)
	pipe.Set(ctx, keyChange+symbol, change, ttl)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("quote write: %w", err)
	}
	return nil
}

func (c *Cache) LastSent(ctx context.Context, symbol string) (string, error) {
	v, err := c.rdb.Get(ctx, keyLastSent+symbol).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (c *Cache) SetLastSent(ctx context.Context, symbol, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, keyLastSent+symbol, value, ttl).Err()
}

// MarkCooldown is SET NX: the first caller within the window gets true.
func (c *Cache) MarkCooldown(ctx context.Context, userEmail, symbol string, cond domain.Condition, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s%s:%s:%s", keyCooldown, userEmail, symbol, cond)
	return c.rdb.SetNX(ctx, key, "sent", ttl).Result()
}

// ActiveRules reads the rule mirror hashes. Entries with a malformed key,
// price or condition are logged and skipped, never fatal.
func (c *Cache) ActiveRules(ctx context.Context) ([]domain.TargetRule, error) {
	prices, err := c.rdb.HGetAll(ctx, hashTargetRules).Result()
	if err != nil {
		return nil, fmt.Errorf("rule mirror read: %w", err)
	}
	conds, err := c.rdb.HGetAll(ctx, hashTargetConds).Result()
	if err != nil {
		return nil, fmt.Errorf("rule condition read: %w", err)
	}

	rules := make([]domain.TargetRule, 0, len(prices))
	for key, priceStr := range prices {
		parts := strings.SplitN(key, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			log.Warn().Str("key", key).Msg("rule mirror: malformed key skipped")
			continue
		}
		condStr, ok := conds[key]
		if !ok {
			log.Warn().Str("key", key).Msg("rule mirror: missing condition skipped")
			continue
		}
		cond, err := domain.ParseCondition(condStr)
		if err != nil {
			log.Warn().Str("key", key).Str("condition", condStr).Msg("rule mirror: bad condition skipped")
			continue
		}
		target := domain.ParseDecimal(priceStr)
		if target.IsZero() {
			log.Warn().Str("key", key).Str("price", priceStr).Msg("rule mirror: bad target price skipped")
			continue
		}
		rules = append(rules, domain.TargetRule{
			UserEmail:   parts[0],
			Symbol:      parts[1],
			TargetPrice: target,
			Condition:   cond,
		})
	}
	return rules, nil
}

func (c *Cache) Credential(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (c *Cache) StoreCredential(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

var (
	_ port.QuoteCache      = (*Cache)(nil)
	_ port.RuleStore       = (*Cache)(nil)
	_ port.CooldownStore   = (*Cache)(nil)
	_ port.CredentialCache = (*Cache)(nil)
)
