package receipt

import (
	"time"

	"github.com/zombor/medbill/internal/analysis"
)

// Receipt is an analyzed bill as kept in history. The sanitized analysis
// fields are inlined so a stored receipt reads like the analysis itself.
type Receipt struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"timestamp"`
	Filename      string    `json:"fileName"`
	StoredFile    string    `json:"storedFile,omitempty"`
	ContentType   string    `json:"contentType"`
	Country       string    `json:"country"`
	OriginCountry string    `json:"originCountry"`

	analysis.Result
}

// Statistics aggregates the whole history
type Statistics struct {
	TotalReceipts     int     `json:"totalReceipts"`
	TotalSavings      float64 `json:"totalSavings"`
	TotalSpent        float64 `json:"totalSpent"`
	AverageSavings    float64 `json:"averageSavings"`
	SavingsPercentage float64 `json:"savingsPercentage"`
	OverchargedCount  int     `json:"overchargedCount"`
}
