package analysis

import (
	"fmt"
	"math"
	"strconv"
)

const (
	// charged/fair-average ratios outside this band are reported, not rejected
	minPriceRatio = 0.01
	maxPriceRatio = 100.0

	// items may legitimately sum below the bill total (taxes, service fees)
	itemsSumTolerance = 0.15

	// absolute currency-unit tolerance for the model's own savings arithmetic
	savingsTolerance = 1.0
)

// ValidatePriceRanges checks every line item's fair price band.
// Missing, inverted or negative values are errors; implausible ratios are warnings.
func ValidatePriceRanges(items []LineItem) ValidationOutcome {
	errs := []string{}
	warnings := []string{}

	for i, item := range items {
		label := fmt.Sprintf("Item %d (%s)", i+1, item.Name)

		if item.fairRangeMissing {
			errs = append(errs, fmt.Sprintf("%s: Missing fairPriceMin or fairPriceMax", label))
			continue
		}

		if item.FairPriceMin > item.FairPriceMax {
			errs = append(errs, fmt.Sprintf("%s: fairPriceMin (%s) cannot be greater than fairPriceMax (%s)",
				label, formatAmount(item.FairPriceMin), formatAmount(item.FairPriceMax)))
		}

		fairAvg := (item.FairPriceMin + item.FairPriceMax) / 2
		if item.ChargedPrice > 0 && fairAvg > 0 {
			ratio := item.ChargedPrice / fairAvg
			if ratio > maxPriceRatio {
				warnings = append(warnings, fmt.Sprintf(
					"%s: Very high price ratio (charged: %s, fair avg: %.2f). Ratio: %.1fx - AI may have inaccurate price data.",
					label, formatAmount(item.ChargedPrice), fairAvg, ratio))
			} else if ratio < minPriceRatio {
				warnings = append(warnings, fmt.Sprintf(
					"%s: Very low price ratio (charged: %s, fair avg: %.2f). Ratio: %.3fx - AI may have inaccurate price data.",
					label, formatAmount(item.ChargedPrice), fairAvg, ratio))
			}
		}

		if item.ChargedPrice < 0 || item.FairPriceMin < 0 || item.FairPriceMax < 0 {
			errs = append(errs, fmt.Sprintf("%s: Prices cannot be negative", label))
		}
	}

	return ValidationOutcome{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

// ValidateCurrencyConsistency checks the bill-level totals against each other and the items
func ValidateCurrencyConsistency(result *Result) ValidationOutcome {
	errs := []string{}
	warnings := []string{}

	if result.Currency == "" {
		warnings = append(warnings, "No currency specified in response")
	}

	var itemsSum float64
	for _, item := range result.Items {
		itemsSum += item.ChargedPrice
	}
	if math.Abs(itemsSum-result.OriginalTotal) > itemsSum*itemsSumTolerance {
		warnings = append(warnings, fmt.Sprintf(
			"Items sum (%.2f) differs from total (%s). May include unlisted fees/taxes.",
			itemsSum, formatAmount(result.OriginalTotal)))
	}

	if result.OptimizedTotal > result.OriginalTotal {
		errs = append(errs, fmt.Sprintf("Optimized total (%s) cannot be greater than original total (%s)",
			formatAmount(result.OptimizedTotal), formatAmount(result.OriginalTotal)))
	}

	calculated := result.OriginalTotal - result.OptimizedTotal
	if math.Abs(calculated-result.TotalSavings) > savingsTolerance {
		errs = append(errs, fmt.Sprintf("Total savings (%s) does not match calculated savings (%.2f)",
			formatAmount(result.TotalSavings), calculated))
	}

	return ValidationOutcome{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

// Reconcile runs the price-range and currency checks over a phase-2 result
func Reconcile(result *Result) ValidationOutcome {
	prices := ValidatePriceRanges(result.Items)
	totals := ValidateCurrencyConsistency(result)

	errs := append(append([]string{}, prices.Errors...), totals.Errors...)
	warnings := append(append([]string{}, prices.Warnings...), totals.Warnings...)

	return ValidationOutcome{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
}

// ValidateComplete runs every phase-2 check: reconciliation, the confidence
// audit, and the advisories carried over from location detection.
func ValidateComplete(result *Result, detection *LocationDetection) ValidationOutcome {
	outcome := Reconcile(result)

	audit := AuditConfidence(result.Items)
	outcome.Warnings = append(outcome.Warnings, audit.Warnings...)

	if detection != nil {
		outcome.Warnings = append(outcome.Warnings, detection.Warnings...)
	}

	outcome.Stats = &ValidationStats{
		ItemCount:         len(result.Items),
		TotalSavings:      result.TotalSavings,
		SavingsPercentage: result.SavingsPercentage,
		Confidence:        audit.Stats,
	}
	return outcome
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
