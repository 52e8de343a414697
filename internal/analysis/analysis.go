package analysis

// Confidence is the model's self-reported certainty for a detection or line item
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether c is one of the accepted confidence labels
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Status classifies a charged price against its fair price band
type Status string

const (
	StatusFair       Status = "fair"
	StatusOverpriced Status = "overpriced"
	StatusCheap      Status = "cheap"
)

// Valid reports whether s is one of the accepted status values
func (s Status) Valid() bool {
	switch s {
	case StatusFair, StatusOverpriced, StatusCheap:
		return true
	}
	return false
}

// LocationDetection is the phase-1 answer: where the bill was issued
type LocationDetection struct {
	DetectedCountry        string     `json:"detectedCountry"`
	DetectedCurrency       string     `json:"detectedCurrency"`
	DetectedCurrencySymbol string     `json:"detectedCurrencySymbol"`
	Confidence             Confidence `json:"confidence"`
	Evidence               []string   `json:"evidence"`
	Warnings               []string   `json:"warnings,omitempty"`
}

// LineItem is a single charge on the bill with its fair price band
type LineItem struct {
	Name         string     `json:"name"`
	ChargedPrice float64    `json:"chargedPrice"`
	FairPriceMin float64    `json:"fairPriceMin"`
	FairPriceMax float64    `json:"fairPriceMax"`
	Status       Status     `json:"status"`
	Explanation  string     `json:"explanation,omitempty"`
	Confidence   Confidence `json:"confidence,omitempty"`

	// set by the decoder when the model omitted either end of the band
	fairRangeMissing bool
}

// LocationMatch compares the detected origin with the one the user claimed.
// Warning is nil when the two agree.
type LocationMatch struct {
	IsMatch bool    `json:"isMatch"`
	Warning *string `json:"warning"`
}

// ConfidenceStats counts line items per confidence label
type ConfidenceStats struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// ValidationStats summarizes a validated result
type ValidationStats struct {
	ItemCount         int             `json:"itemCount"`
	TotalSavings      float64         `json:"totalSavings"`
	SavingsPercentage float64         `json:"savingsPercentage"`
	Confidence        ConfidenceStats `json:"confidence"`
}

// ValidationOutcome is produced by each validation stage. It is never persisted.
type ValidationOutcome struct {
	Valid    bool             `json:"valid"`
	Errors   []string         `json:"errors"`
	Warnings []string         `json:"warnings"`
	Stats    *ValidationStats `json:"stats,omitempty"`
}

// ValidationReport is the advisory part of a ValidationOutcome attached to a result
type ValidationReport struct {
	Warnings []string         `json:"warnings"`
	Stats    *ValidationStats `json:"stats"`
}

// Result is the priced analysis of a bill plus the diagnostics gathered while producing it
type Result struct {
	Items             []LineItem `json:"items"`
	OriginalTotal     float64    `json:"originalTotal"`
	OptimizedTotal    float64    `json:"optimizedTotal"`
	TotalSavings      float64    `json:"totalSavings"`
	SavingsPercentage float64    `json:"savingsPercentage"`
	OverallAnalysis   string     `json:"overallAnalysis"`
	Currency          string     `json:"currency"`

	Detection     *LocationDetection `json:"_detectionData,omitempty"`
	LocationMatch *LocationMatch     `json:"_locationMatch,omitempty"`
	Validation    *ValidationReport  `json:"_validation,omitempty"`
}
