package analysis

const (
	overconfidentRatio    = 0.9
	overconfidentMinItems = 5
)

// ConfidenceAudit is the advisory outcome of AuditConfidence
type ConfidenceAudit struct {
	Warnings []string
	Stats    ConfidenceStats
}

// AuditConfidence flags a result where nearly every item claims high confidence.
// It never fails.
func AuditConfidence(items []LineItem) ConfidenceAudit {
	audit := ConfidenceAudit{Warnings: []string{}}

	for _, item := range items {
		switch item.Confidence {
		case ConfidenceHigh:
			audit.Stats.High++
		case ConfidenceMedium:
			audit.Stats.Medium++
		case ConfidenceLow:
			audit.Stats.Low++
		}
	}

	total := len(items)
	if total > overconfidentMinItems && float64(audit.Stats.High)/float64(total) > overconfidentRatio {
		audit.Warnings = append(audit.Warnings,
			"Most items marked as high confidence - AI may be overconfident. Review carefully.")
	}

	return audit
}
