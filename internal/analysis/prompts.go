package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/dedent"
)

var countryCurrencies = map[string]string{
	"nepal":      "NPR",
	"india":      "INR",
	"bangladesh": "BDT",
	"pakistan":   "PKR",
	"usa":        "USD",
	"russia":     "RUB",
}

// CurrencyFor returns the ISO currency code used for a supported country, or
// an empty string when the country is not in the table.
func CurrencyFor(country string) string {
	return countryCurrencies[strings.ToLower(strings.TrimSpace(country))]
}

type priceRange struct {
	Min, Max float64
	Per      string
}

// Retail reference prices in NPR, passed to the model as anchors when
// analyzing against the Nepalese market.
var nepalReferencePrices = map[string]priceRange{
	"Paracetamol 500mg":   {1.5, 3, "tablet"},
	"Ibuprofen 400mg":     {3, 5, "tablet"},
	"Amoxicillin 500mg":   {8, 15, "capsule"},
	"Azithromycin 500mg":  {25, 40, "tablet"},
	"Ciprofloxacin 500mg": {10, 18, "tablet"},
	"Metronidazole 400mg": {4, 8, "tablet"},
	"Omeprazole 20mg":     {5, 10, "capsule"},
	"Pantoprazole 40mg":   {8, 15, "tablet"},
	"ORS Powder":          {8, 15, "sachet"},
	"Cetirizine 10mg":     {2, 4, "tablet"},
	"Cough Syrup 100ml":   {80, 150, "bottle"},
	"Metformin 500mg":     {2, 4, "tablet"},
	"Amlodipine 5mg":      {3, 6, "tablet"},
	"Losartan 50mg":       {5, 10, "tablet"},
	"Eye Drops":           {80, 200, "bottle"},
	"Bandage":             {30, 80, "roll"},
	"Surgical Mask":       {5, 15, "piece"},
}

const locationDetectionPrompt = `
	You are analyzing a medical bill or pharmacy receipt. Before any pricing
	is done, determine where this bill was issued.

	Look for:
	- Currency symbols and codes (Rs, NPR, ₹, $, ৳, ₽ ...)
	- Addresses, phone number formats, tax or registration numbers
	- Language and script of the printed text
	- Names of hospitals, pharmacies or regulators

	Return ONLY valid JSON in this exact format:
	{
	  "detectedCountry": "Country name in English",
	  "detectedCurrency": "ISO currency code, e.g. NPR",
	  "detectedCurrencySymbol": "Symbol as printed on the bill",
	  "confidence": "high" or "medium" or "low",
	  "evidence": ["Each visual clue you relied on"],
	  "warnings": ["Anything inconsistent, e.g. mixed currencies"]
	}

	Rules:
	- Use "low" confidence when the evidence is thin or contradictory
	- Leave "warnings" as an empty array when nothing looks inconsistent
	- Do not include any text before or after the JSON
	- Do not use markdown code blocks`

const priceAnalysisPrompt = `
	You are a medical bill analyzer. This bill was issued in %[1]s.
	Compare every charge against fair market prices in %[2]s.

	LOCATION CONTEXT (from an earlier look at this same image):
	%[3]s
	%[4]s
	CONTEXT:
	- Report chargedPrice in the currency printed on the bill
	- Report fair prices and totals in %[5]s
	- Account for generic vs branded medicines
	- Factor in typical pharmacy markup (10-20%%)
	- Be aware of handwritten vs printed text
	%[6]s
	TASK:
	1. Extract all medicines/items with their prices
	2. Classify each item as "fair", "overpriced" or "cheap" against %[2]s market rates
	3. Provide a fair price range for each item
	4. Calculate the optimized total bill

	OUTPUT FORMAT (JSON only, no markdown formatting):
	{
	  "items": [
	    {
	      "name": "Medicine/Item name with dosage",
	      "chargedPrice": 0,
	      "fairPriceMin": 0,
	      "fairPriceMax": 0,
	      "status": "fair" or "overpriced" or "cheap",
	      "explanation": "Brief reasoning for the classification",
	      "confidence": "high" or "medium" or "low"
	    }
	  ],
	  "originalTotal": 0,
	  "optimizedTotal": 0,
	  "totalSavings": 0,
	  "savingsPercentage": 0,
	  "overallAnalysis": "Brief summary of findings",
	  "currency": "%[5]s"
	}

	RULES:
	- "overpriced" only when chargedPrice is above fairPriceMax
	- "cheap" only when chargedPrice is below fairPriceMin
	- fairPriceMin must not exceed fairPriceMax; no negative prices
	- If text is unclear, mark confidence as "low"
	- Consider medicine strength, dosage and quantity purchased
	- Be conservative - only flag clear overcharges (>30%% markup)
	- Hospital pharmacies may charge 10-15%% more than retail`

// LocationDetectionPrompt returns the phase-1 prompt
func LocationDetectionPrompt() string {
	return strings.TrimSpace(dedent.Dedent(locationDetectionPrompt))
}

// PriceAnalysisPrompt returns the phase-2 prompt. The full detection is
// embedded so the model sees any inconsistency flagged in phase 1.
func PriceAnalysisPrompt(req Request, detection *LocationDetection, match LocationMatch) string {
	detectionJSON := "{}"
	if detection != nil {
		if b, err := json.MarshalIndent(detection, "", "  "); err == nil {
			detectionJSON = string(b)
		}
	}

	mismatch := ""
	if !match.IsMatch && match.Warning != nil {
		mismatch = fmt.Sprintf("NOTE: %s Trust the evidence on the bill for chargedPrice.\n", *match.Warning)
	}

	currency := CurrencyFor(req.TargetCountry)
	if currency == "" {
		currency = "the local currency of " + req.TargetCountry
	}

	// dedent runs first so the embedded multi-line values keep their own indentation
	return strings.TrimSpace(fmt.Sprintf(dedent.Dedent(priceAnalysisPrompt),
		req.OriginCountry,
		req.TargetCountry,
		detectionJSON,
		mismatch,
		currency,
		referencePriceHints(req.TargetCountry),
	))
}

func referencePriceHints(targetCountry string) string {
	if CurrencyFor(targetCountry) != "NPR" {
		return ""
	}

	names := make([]string, 0, len(nepalReferencePrices))
	for name := range nepalReferencePrices {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("\nREFERENCE PRICES (NPR, retail):\n")
	for _, name := range names {
		p := nepalReferencePrices[name]
		fmt.Fprintf(&b, "- %s: %s-%s per %s\n", name, formatAmount(p.Min), formatAmount(p.Max), p.Per)
	}
	return b.String()
}
