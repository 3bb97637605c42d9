/*
category.go - Sales category registration and lookup

PURPOSE:
  Each sales category is described by a rule: which transaction types add
  to the achieved amount, which subtract from it, whether trade volume is
  measured instead, and whether the payout is a percentage or a flat amount.
  The aggregator and the payout formula only read rules, so a new category
  is a RegisterCategory call, not a new branch.

BUILT-IN RULES:
  gross_deposit: + deposit + balance_in                               (percent payout)
  net_deposit:   + deposit + balance_in - withdrawal - balance_out
                 - rebate_out                                         (percent payout)
  trade_volume:  lots closed on the user's trading accounts           (flat payout)
*/
package incentive

import (
	"fmt"
	"sort"
	"sync"
)

// CategoryRule describes how a sales category is measured and paid.
type CategoryRule struct {
	Category SalesCategory
	Inflows  []TransactionType
	Outflows []TransactionType

	// Volume measures trade lots instead of transaction amounts.
	Volume bool

	// FlatPayout pays IncentiveRate as an amount once the threshold is met,
	// instead of IncentiveRate percent of the achieved amount.
	FlatPayout bool
}

var (
	categoryRegistry = make(map[SalesCategory]CategoryRule)
	categoryMu       sync.RWMutex
)

func init() {
	RegisterCategory(CategoryRule{
		Category: CategoryGrossDeposit,
		Inflows:  []TransactionType{TxDeposit, TxBalanceIn},
	})
	RegisterCategory(CategoryRule{
		Category: CategoryNetDeposit,
		Inflows:  []TransactionType{TxDeposit, TxBalanceIn},
		Outflows: []TransactionType{TxWithdrawal, TxBalanceOut, TxRebateOut},
	})
	RegisterCategory(CategoryRule{
		Category:   CategoryTradeVolume,
		Volume:     true,
		FlatPayout: true,
	})
}

// RegisterCategory adds or replaces a category rule.
func RegisterCategory(rule CategoryRule) {
	categoryMu.Lock()
	defer categoryMu.Unlock()
	categoryRegistry[rule.Category] = rule
}

// RuleFor returns the rule registered for a category.
func RuleFor(c SalesCategory) (CategoryRule, error) {
	categoryMu.RLock()
	defer categoryMu.RUnlock()
	rule, ok := categoryRegistry[c]
	if !ok {
		return CategoryRule{}, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	return rule, nil
}

// Categories returns every registered category, sorted.
func Categories() []SalesCategory {
	categoryMu.RLock()
	defer categoryMu.RUnlock()
	result := make([]SalesCategory, 0, len(categoryRegistry))
	for c := range categoryRegistry {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
