package shipping

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// EligibilityQuery carries the inputs of the eligibility rules.
type EligibilityQuery struct {
	// Weight is the actual weight of every shippable item.
	Weight        decimal.Decimal
	Country       string
	CustomerID    string
	CustomerGroup string
	// FrontendOnly selects storefront visibility instead of admin visibility.
	FrontendOnly    bool
	IncludeDisabled bool
	// AllowZeroWeightOverride is set when the actual weight is non-zero but
	// every item was excluded as free shipping.
	AllowZeroWeightOverride bool
}

// FilterOptions narrows options to the ones applicable to the query.
// Rules are AND-combined: (weight or zero-weight override), country,
// customer group. Input order is kept.
func FilterOptions(options []OptionConfig, q EligibilityQuery) []OptionConfig {
	result := make([]OptionConfig, 0, len(options))
	for _, opt := range options {
		if !q.IncludeDisabled && !visible(opt, q.FrontendOnly) {
			continue
		}
		if !weightAllowed(opt, q) {
			continue
		}
		if !countryAllowed(opt, q.Country) {
			continue
		}
		if !groupAllowed(opt, q.CustomerID, q.CustomerGroup) {
			continue
		}
		result = append(result, opt)
	}
	return result
}

func visible(opt OptionConfig, frontendOnly bool) bool {
	if frontendOnly {
		return opt.EnabledStorefront
	}
	return opt.EnabledAdmin
}

func weightAllowed(opt OptionConfig, q EligibilityQuery) bool {
	inRange := (opt.MinWeight == nil || opt.MinWeight.LessThanOrEqual(q.Weight)) &&
		(opt.MaxWeight == nil || opt.MaxWeight.GreaterThanOrEqual(q.Weight))
	if inRange {
		return true
	}
	return q.AllowZeroWeightOverride && zeroWeightOption(opt)
}

// zeroWeightOption matches the dedicated "no shipping required" options.
func zeroWeightOption(opt OptionConfig) bool {
	return opt.MinWeight != nil && opt.MaxWeight != nil &&
		opt.MinWeight.IsZero() && opt.MaxWeight.IsZero()
}

func countryAllowed(opt OptionConfig, country string) bool {
	if len(opt.Countries) == 0 {
		return true
	}
	for _, c := range opt.Countries {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

func groupAllowed(opt OptionConfig, customerID, group string) bool {
	if len(opt.CustomerGroups) == 0 {
		return true
	}
	if customerID == "" {
		return false
	}
	for _, g := range opt.CustomerGroups {
		if g == group {
			return true
		}
	}
	return false
}

// Partition removes free-shipping items. When every item is free, allFree is
// true: the caller still probes the provider with the original items and
// forces every resulting quote free.
func Partition(items []ShippableItem) (quotable []ShippableItem, allFree bool) {
	quotable = make([]ShippableItem, 0, len(items))
	for _, item := range items {
		if item.FreeShipping {
			continue
		}
		quotable = append(quotable, item)
	}
	return quotable, len(quotable) == 0 && len(items) > 0
}

// SortErrorsFirst orders error-bearing options first, then by position.
func SortErrorsFirst(options []EligibleOption) {
	sort.SliceStable(options, func(i, j int) bool {
		ei, ej := options[i].ErrorHint != "", options[j].ErrorHint != ""
		if ei != ej {
			return ei
		}
		return options[i].Option.Position < options[j].Option.Position
	})
}
