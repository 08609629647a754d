package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one normalized price observation for a symbol.
// Numeric fields that could not be parsed from the venue frame are zero,
// never missing; a tick with a non-empty symbol is always usable downstream.
type Tick struct {
	Symbol      string
	Price       decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	ChangeRate  decimal.Decimal
	Volume      decimal.Decimal
	TradeAmount decimal.Decimal
	Ts          int64 // unix ms, observation time
}

// ParseDecimal converts a venue numeric field, defaulting to zero on garbage.
func ParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Market classifies which trading venue category a symbol belongs to.
type Market int

const (
	MarketDomestic Market = iota // 6-digit numeric code, KRX equity
	MarketForeign                // US/foreign equity ticker
	MarketCrypto                 // hyphenated pair, e.g. "BTC-KRW"
)

func (m Market) String() string {
	switch m {
	case MarketDomestic:
		return "domestic"
	case MarketForeign:
		return "foreign"
	default:
		return "crypto"
	}
}

// ClassifySymbol decides the market for a symbol: a 6-digit numeric symbol is
// a domestic equity, a symbol containing a hyphen is a crypto pair, anything
// else is treated as a foreign equity.
func ClassifySymbol(symbol string) Market {
	if strings.Contains(symbol, "-") {
		return MarketCrypto
	}
	if len(symbol) == 6 && isAllDigits(symbol) {
		return MarketDomestic
	}
	return MarketForeign
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// OpenAt reports whether the market's trading window contains t (local time).
// Domestic equities trade 09:00-15:30; foreign equities 23:30-06:00, a window
// that wraps across midnight; crypto trades around the clock.
func (m Market) OpenAt(t time.Time) bool {
	switch m {
	case MarketCrypto:
		return true
	case MarketDomestic:
		mins := t.Hour()*60 + t.Minute()
		return mins >= 9*60 && mins < 15*60+30
	default:
		mins := t.Hour()*60 + t.Minute()
		return mins >= 23*60+30 || mins < 6*60
	}
}
