package analysis

import "fmt"

// DecodeLocationDetection validates a phase-1 object and converts it to a LocationDetection
func DecodeLocationDetection(obj map[string]any) (*LocationDetection, error) {
	if obj == nil {
		return nil, &SchemaError{Field: "detectedCountry", Reason: "no location detection data received"}
	}

	country, err := requireString(obj, "detectedCountry")
	if err != nil {
		return nil, err
	}
	currency, err := requireString(obj, "detectedCurrency")
	if err != nil {
		return nil, err
	}

	rawConfidence, ok := obj["confidence"]
	if !ok {
		return nil, missing("confidence")
	}
	confidence, _ := rawConfidence.(string)
	if !Confidence(confidence).Valid() {
		return nil, &SchemaError{Field: "confidence", Reason: fmt.Sprintf("invalid confidence value: %v", rawConfidence)}
	}

	rawEvidence, ok := obj["evidence"]
	if !ok {
		return nil, missing("evidence")
	}
	evidence, ok := stringSlice(rawEvidence)
	if !ok {
		return nil, &SchemaError{Field: "evidence", Reason: "must be an array"}
	}

	var warnings []string
	if rawWarnings, ok := obj["warnings"]; ok && rawWarnings != nil {
		warnings, ok = stringSlice(rawWarnings)
		if !ok {
			return nil, &SchemaError{Field: "warnings", Reason: "must be an array"}
		}
	}

	symbol, _ := obj["detectedCurrencySymbol"].(string)

	return &LocationDetection{
		DetectedCountry:        country,
		DetectedCurrency:       currency,
		DetectedCurrencySymbol: symbol,
		Confidence:             Confidence(confidence),
		Evidence:               evidence,
		Warnings:               warnings,
	}, nil
}

// DecodeResult validates a phase-2 object and converts it to a Result.
// It stops at the first violation.
func DecodeResult(obj map[string]any) (*Result, error) {
	if obj == nil {
		return nil, &SchemaError{Field: "items", Reason: "no data received from API"}
	}

	for _, field := range []string{"items", "originalTotal", "optimizedTotal", "totalSavings"} {
		if _, ok := obj[field]; !ok {
			return nil, missing(field)
		}
	}

	rawItems, ok := obj["items"].([]any)
	if !ok || len(rawItems) == 0 {
		return nil, &SchemaError{Field: "items", Reason: "must be a non-empty array"}
	}

	items := make([]LineItem, 0, len(rawItems))
	for i, raw := range rawItems {
		item, err := decodeLineItem(i, raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	result := &Result{Items: items}
	totals := []struct {
		field string
		dst   *float64
	}{
		{"originalTotal", &result.OriginalTotal},
		{"optimizedTotal", &result.OptimizedTotal},
		{"totalSavings", &result.TotalSavings},
	}
	for _, t := range totals {
		v, ok := obj[t.field].(float64)
		if !ok {
			return nil, &SchemaError{Field: t.field, Reason: "must be a number"}
		}
		*t.dst = v
	}

	result.SavingsPercentage, _ = obj["savingsPercentage"].(float64)
	result.OverallAnalysis, _ = obj["overallAnalysis"].(string)
	result.Currency, _ = obj["currency"].(string)

	return result, nil
}

func decodeLineItem(index int, raw any) (LineItem, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return LineItem{}, &SchemaError{Field: fmt.Sprintf("items[%d]", index), Reason: "must be an object"}
	}

	for _, field := range []string{"name", "chargedPrice", "status"} {
		if _, ok := m[field]; !ok {
			return LineItem{}, &SchemaError{
				Field:  fmt.Sprintf("items[%d].%s", index, field),
				Reason: "item missing required field",
			}
		}
	}

	name, _ := m["name"].(string)
	charged, ok := m["chargedPrice"].(float64)
	if !ok {
		return LineItem{}, &SchemaError{Field: fmt.Sprintf("items[%d].chargedPrice", index), Reason: "must be a number"}
	}

	status, _ := m["status"].(string)
	if !Status(status).Valid() {
		return LineItem{}, &SchemaError{
			Field:  fmt.Sprintf("items[%d].status", index),
			Reason: fmt.Sprintf("invalid status: %v", m["status"]),
		}
	}

	item := LineItem{
		Name:         name,
		ChargedPrice: charged,
		Status:       Status(status),
	}
	item.Explanation, _ = m["explanation"].(string)
	if c, ok := m["confidence"].(string); ok {
		item.Confidence = Confidence(c)
	}

	low, hasMin := m["fairPriceMin"].(float64)
	high, hasMax := m["fairPriceMax"].(float64)
	item.FairPriceMin = low
	item.FairPriceMax = high
	item.fairRangeMissing = !hasMin || !hasMax

	return item, nil
}

func requireString(obj map[string]any, field string) (string, error) {
	raw, ok := obj[field]
	if !ok {
		return "", missing(field)
	}
	s, ok := raw.(string)
	if !ok {
		return "", &SchemaError{Field: field, Reason: "must be a string"}
	}
	return s, nil
}

func stringSlice(raw any) ([]string, bool) {
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		out = append(out, s)
	}
	return out, true
}

func missing(field string) *SchemaError {
	return &SchemaError{Field: field, Reason: "missing required field"}
}
