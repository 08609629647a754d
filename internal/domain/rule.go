package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Condition tells on which side of the target price a rule fires.
type Condition string

const (
	ConditionAbove Condition = "ABOVE"
	ConditionBelow Condition = "BELOW"
)

// ParseCondition normalizes a stored condition string.
func ParseCondition(s string) (Condition, error) {
	switch Condition(strings.ToUpper(strings.TrimSpace(s))) {
	case ConditionAbove:
		return ConditionAbove, nil
	case ConditionBelow:
		return ConditionBelow, nil
	default:
		return "", fmt.Errorf("unknown condition %q", s)
	}
}

// TargetRule is one user-defined price target. Rules are created and deleted
// by the rule-management collaborator; the pipeline only reads them.
type TargetRule struct {
	UserEmail   string
	Symbol      string
	TargetPrice decimal.Decimal
	Condition   Condition
}

// Matches reports whether a current price satisfies the rule.
func (r TargetRule) Matches(price decimal.Decimal) bool {
	if r.Condition == ConditionAbove {
		return price.GreaterThanOrEqual(r.TargetPrice)
	}
	return price.LessThanOrEqual(r.TargetPrice)
}

// AlertEvent is the payload published to the alert topic when a rule fires.
type AlertEvent struct {
	UserEmail    string  `json:"userEmail"`
	Symbol       string  `json:"symbol"`
	CurrentPrice float64 `json:"currentPrice"`
	TargetPrice  float64 `json:"targetPrice"`
	Condition    string  `json:"condition"`
	Timestamp    int64   `json:"timestamp"`
}

// NewAlertEvent builds the event for a fired rule at the given price.
func NewAlertEvent(r TargetRule, price decimal.Decimal, ts int64) AlertEvent {
	return AlertEvent{
		UserEmail:    r.UserEmail,
		Symbol:       r.Symbol,
		CurrentPrice: price.InexactFloat64(),
		TargetPrice:  r.TargetPrice.InexactFloat64(),
		Condition:    string(r.Condition),
		Timestamp:    ts,
	}
}
