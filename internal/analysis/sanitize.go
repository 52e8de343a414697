package analysis

import "github.com/shopspring/decimal"

// ClassifyPrice derives an item's status from where its charged price falls
// relative to the fair price band.
func ClassifyPrice(item LineItem) Status {
	switch {
	case item.ChargedPrice > item.FairPriceMax:
		return StatusOverpriced
	case item.ChargedPrice < item.FairPriceMin:
		return StatusCheap
	default:
		return StatusFair
	}
}

// Sanitize returns a copy of result with every status forced to match its
// price band and all totals recomputed from the items. The model's own
// totals and labels are discarded. Sanitize(Sanitize(r)) equals Sanitize(r).
func Sanitize(result *Result) *Result {
	if result == nil {
		return nil
	}

	out := *result
	out.Items = make([]LineItem, len(result.Items))

	original := decimal.Zero
	optimized := decimal.Zero
	for i, item := range result.Items {
		item.Status = ClassifyPrice(item)
		out.Items[i] = item

		charged := decimal.NewFromFloat(item.ChargedPrice)
		original = original.Add(charged)
		if item.Status == StatusOverpriced {
			optimized = optimized.Add(decimal.NewFromFloat(item.FairPriceMax))
		} else {
			optimized = optimized.Add(charged)
		}
	}

	savings := original.Sub(optimized)
	percentage := decimal.Zero
	if original.IsPositive() {
		percentage = savings.Div(original).Mul(decimal.NewFromInt(100)).Round(1)
	}

	out.OriginalTotal = original.InexactFloat64()
	out.OptimizedTotal = optimized.InexactFloat64()
	// derived from the float totals so the subtraction holds exactly
	out.TotalSavings = out.OriginalTotal - out.OptimizedTotal
	out.SavingsPercentage = percentage.InexactFloat64()

	return &out
}
